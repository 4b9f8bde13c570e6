package websocket

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adwski/rps-arena/backend/dedup"
	"github.com/adwski/rps-arena/backend/delivery"
	"github.com/adwski/rps-arena/backend/model"
	"github.com/adwski/rps-arena/backend/rooms"
	"github.com/adwski/rps-arena/backend/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func testServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	logger := zerolog.New(io.Discard)

	svc := service.NewService(service.Config{
		Registry: rooms.NewRegistry(rooms.Config{Logger: &logger, BestOf: 3}),
		Delivery: delivery.New(delivery.Config{Logger: &logger}),
		Guard:    dedup.NewMemGuard(),
		Logger:   &logger,
	})
	srv := NewServer(Config{
		Logger:       &logger,
		MatchService: svc,
		ListenAddr:   ":0",
	})
	ts := httptest.NewServer(srv.Server.Handler)
	t.Cleanup(ts.Close)
	return ts, svc
}

// waitForPlayers blocks until the room reports n participants. The dial
// returns at handshake time, before the server registers the session.
func waitForPlayers(t *testing.T, svc *service.Service, roomID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		view, err := svc.RoomSnapshot(roomID)
		if err == nil && len(view.Players) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room never reached %d participants", n)
}

func dialPlayer(t *testing.T, ts *httptest.Server, roomID, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/play/room/" + roomID + "/player/" + playerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", playerID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRejectedConnectionGetsErrorBeforeClose(t *testing.T) {
	ts, svc := testServer(t)

	dialPlayer(t, ts, "room-1", "p1")
	dialPlayer(t, ts, "room-1", "p2")
	waitForPlayers(t, svc, "room-1", 2)

	// room is full, the upgrade succeeds but the session is refused
	c3 := dialPlayer(t, ts, "room-1", "p3")
	if err := c3.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("read deadline: %v", err)
	}

	_, frame, err := c3.ReadMessage()
	if err != nil {
		t.Fatalf("expected a rejection frame before close, got %v", err)
	}
	var msg model.Message
	if err = json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("unmarshal rejection frame: %v", err)
	}
	if msg.Type != model.MessageTypeError {
		t.Fatalf("frame type = %q, want %q", msg.Type, model.MessageTypeError)
	}

	// the server closes the socket right after the rejection
	if _, _, err = c3.ReadMessage(); err == nil {
		t.Fatal("connection stayed open after rejection")
	}
}
