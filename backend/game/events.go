package game

// EventType enumerates everything the engine can announce.
type EventType string

const (
	EventPlayerJoined     EventType = "PLAYER_JOINED"
	EventPlayerRejoined   EventType = "PLAYER_REJOINED"
	EventPlayerLeft       EventType = "PLAYER_LEFT"
	EventPlayerReady      EventType = "PLAYER_READY"
	EventPlayerUnready    EventType = "PLAYER_UNREADY"
	EventRoundStart       EventType = "ROUND_START"
	EventMoveAccepted     EventType = "MOVE_ACCEPTED"
	EventMoveDuplicate    EventType = "MOVE_DUPLICATE"
	EventRoundResult      EventType = "ROUND_RESULT"
	EventRoundTimeoutDraw EventType = "ROUND_TIMEOUT_DRAW"
	EventRoundTimeoutWin  EventType = "ROUND_TIMEOUT_WIN"
	EventAskReady         EventType = "ASK_READY"
	EventMatchOver        EventType = "MATCH_OVER"
	EventMatchRestarted   EventType = "MATCH_RESTARTED"
	EventRoomAborted      EventType = "ROOM_ABORTED"
	EventMatchAborted     EventType = "MATCH_ABORTED"
)

// Event is a single outbound notification produced by a transition.
// To is the target participant id; empty means broadcast to the room.
type Event struct {
	Type EventType
	To   string
	Data any
}

// PlayerView is the externally visible participant state.
type PlayerView struct {
	Pid      string `json:"pid"`
	State    string `json:"state"`
	Score    int    `json:"score"`
	LastMove string `json:"last_move,omitempty"`
}

// RoomView is the externally visible room state.
type RoomView struct {
	State      string       `json:"state"`
	BestOf     int          `json:"best_of"`
	WinsNeeded int          `json:"wins_needed"`
	RoundID    int          `json:"round_id"`
	LastResult string       `json:"last_result,omitempty"`
	Players    []PlayerView `json:"players"`
}

// Snapshot pairs a room view with the acting participant's view.
type Snapshot struct {
	Room   RoomView    `json:"room"`
	Player *PlayerView `json:"player,omitempty"`
}

// MoveView names one participant's move in a resolved round.
type MoveView struct {
	Pid  string `json:"pid"`
	Move string `json:"move"`
}

// RoundResult is broadcast once per resolved round.
type RoundResult struct {
	RoundID int            `json:"round_id"`
	Outcome string         `json:"outcome"`
	Winner  string         `json:"winner,omitempty"`
	P1      MoveView       `json:"p1"`
	P2      MoveView       `json:"p2"`
	Score   map[string]int `json:"score"`
}

// TimeoutWin is broadcast when a round is forfeited to the only mover.
type TimeoutWin struct {
	Winner string   `json:"winner"`
	Room   RoomView `json:"room"`
}

// MatchSummary is broadcast when a match reaches its win threshold.
type MatchSummary struct {
	Winner string         `json:"winner"`
	Score  map[string]int `json:"score"`
	Rounds int            `json:"rounds"`
}

// PlayerLeft is broadcast when a participant departs.
type PlayerLeft struct {
	Pid  string   `json:"pid"`
	Room RoomView `json:"room"`
}
