package model

// Message is the JSON envelope exchanged with clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	Meta Meta   `json:"meta"`
}

// Meta carries the correlation id assigned to every outbound message.
type Meta struct {
	CID string `json:"cid,omitempty"`
}

// Message types that exist only on the transport surface, outside the
// engine's event vocabulary.
const (
	MessageTypeAck   = "ACK"
	MessageTypeError = "ERROR"
	MessageTypePong  = "PONG"
)

// ErrorData is the payload of an ERROR message.
type ErrorData struct {
	Message string `json:"message"`
}

const defaultWireBuffer = 16

// Wire is the outbound channel of one connected participant.
type Wire struct {
	TX chan Message
}

func NewWire() Wire {
	return Wire{
		TX: make(chan Message, defaultWireBuffer),
	}
}
