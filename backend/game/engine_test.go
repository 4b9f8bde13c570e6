package game

import (
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func findEvent(events []Event, et EventType) (Event, bool) {
	for _, ev := range events {
		if ev.Type == et {
			return ev, true
		}
	}
	return Event{}, false
}

func hasEvent(events []Event, et EventType) bool {
	_, ok := findEvent(events, et)
	return ok
}

func twoPlayerRoom(t *testing.T, bestOf int) *Room {
	t.Helper()
	r := NewRoom("room-1", bestOf)
	if _, err := r.Join("p1"); err != nil {
		t.Fatalf("join p1: %v", err)
	}
	if _, err := r.Join("p2"); err != nil {
		t.Fatalf("join p2: %v", err)
	}
	return r
}

func startRound(t *testing.T, r *Room) {
	t.Helper()
	if _, err := r.SetReady("p1", true); err != nil {
		t.Fatalf("ready p1: %v", err)
	}
	events, err := r.SetReady("p2", true)
	if err != nil {
		t.Fatalf("ready p2: %v", err)
	}
	if !hasEvent(events, EventRoundStart) {
		t.Fatalf("expected round start after both ready, got %s", spew.Sdump(events))
	}
	if r.State != RoomAwaitMoves {
		t.Fatalf("expected ROUND_AWAIT_MOVES, got %s", r.State)
	}
}

func playRound(t *testing.T, r *Room, m1, m2 Move) []Event {
	t.Helper()
	startRound(t, r)
	if _, err := r.ApplyMove("p1", m1); err != nil {
		t.Fatalf("move p1: %v", err)
	}
	events, err := r.ApplyMove("p2", m2)
	if err != nil {
		t.Fatalf("move p2: %v", err)
	}
	return events
}

func TestJoinProgression(t *testing.T) {
	r := NewRoom("room-1", 5)
	if r.State != RoomEmpty {
		t.Fatalf("new room state = %s, want EMPTY", r.State)
	}

	events, err := r.Join("p1")
	if err != nil {
		t.Fatalf("join p1: %v", err)
	}
	if !hasEvent(events, EventPlayerJoined) {
		t.Fatal("expected PLAYER_JOINED for first join")
	}
	if r.State != RoomOneWaiting {
		t.Fatalf("state after first join = %s, want ONE_WAITING", r.State)
	}

	if _, err = r.Join("p2"); err != nil {
		t.Fatalf("join p2: %v", err)
	}
	if r.State != RoomReadyCheck {
		t.Fatalf("state after second join = %s, want READY_CHECK", r.State)
	}
}

func TestRejoinPreservesParticipant(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	playRound(t, r, MoveRock, MoveScissors)

	stateBefore := r.State
	events, err := r.Join("p1")
	if err != nil {
		t.Fatalf("rejoin p1: %v", err)
	}
	ev, ok := findEvent(events, EventPlayerRejoined)
	if !ok {
		t.Fatal("expected PLAYER_REJOINED")
	}
	if ev.To != "p1" {
		t.Fatalf("rejoin ack target = %q, want p1", ev.To)
	}
	if r.State != stateBefore {
		t.Fatalf("rejoin changed room state: %s -> %s", stateBefore, r.State)
	}
	if r.players["p1"].Score != 1 {
		t.Fatalf("rejoin reset score: got %d, want 1", r.players["p1"].Score)
	}
}

func TestThirdJoinRejectedWithoutMutation(t *testing.T) {
	r := twoPlayerRoom(t, 5)

	_, err := r.Join("p3")
	if err == nil {
		t.Fatal("expected error for third join")
	}
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join error = %v, want room full", err)
	}

	var trErr *TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if len(r.players) != 2 {
		t.Fatalf("third join mutated players: %d", len(r.players))
	}
	if r.State != RoomReadyCheck {
		t.Fatalf("third join mutated state: %s", r.State)
	}
}

func TestReadyHandshakeStartsRound(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	if r.RoundID != 1 {
		t.Fatalf("round id = %d, want 1", r.RoundID)
	}
	for pid, p := range r.players {
		if p.LastMove != "" {
			t.Fatalf("player %s has stale move %q at round start", pid, p.LastMove)
		}
		if p.State != PlayerReady {
			t.Fatalf("player %s state = %s, want READY", pid, p.State)
		}
	}
}

func TestUnreadyHoldsRound(t *testing.T) {
	r := twoPlayerRoom(t, 5)

	if _, err := r.SetReady("p1", true); err != nil {
		t.Fatalf("ready p1: %v", err)
	}
	events, err := r.SetReady("p1", false)
	if err != nil {
		t.Fatalf("unready p1: %v", err)
	}
	if !hasEvent(events, EventPlayerUnready) {
		t.Fatal("expected PLAYER_UNREADY")
	}

	events, err = r.SetReady("p2", true)
	if err != nil {
		t.Fatalf("ready p2: %v", err)
	}
	if hasEvent(events, EventRoundStart) {
		t.Fatal("round must not start with one player unready")
	}
	if r.State != RoomReadyCheck {
		t.Fatalf("state = %s, want READY_CHECK", r.State)
	}
}

func TestMoveInWrongPhase(t *testing.T) {
	r := twoPlayerRoom(t, 5)

	_, err := r.ApplyMove("p1", MoveRock)
	if !errors.Is(err, ErrWrongState) {
		t.Fatalf("move during READY_CHECK: err = %v, want wrong state", err)
	}

	var trErr *TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError, got %T", err)
	}
	if trErr.State != RoomReadyCheck || trErr.Expected != RoomAwaitMoves {
		t.Fatalf("transition error states: actual %s expected %s", trErr.State, trErr.Expected)
	}
}

func TestMoveByUnknownPlayer(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	_, err := r.ApplyMove("intruder", MoveRock)
	if !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("err = %v, want unknown player", err)
	}
}

func TestDuplicateMoveIsIdempotent(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	if _, err := r.ApplyMove("p1", MoveRock); err != nil {
		t.Fatalf("first move: %v", err)
	}
	events, err := r.ApplyMove("p1", MovePaper)
	if err != nil {
		t.Fatalf("duplicate move should not error: %v", err)
	}
	if !hasEvent(events, EventMoveDuplicate) {
		t.Fatal("expected MOVE_DUPLICATE")
	}
	if r.players["p1"].LastMove != MoveRock {
		t.Fatalf("duplicate overwrote move: %s", r.players["p1"].LastMove)
	}

	// resolve with the original move: p1 rock beats p2 scissors
	events, err = r.ApplyMove("p2", MoveScissors)
	if err != nil {
		t.Fatalf("move p2: %v", err)
	}
	ev, ok := findEvent(events, EventRoundResult)
	if !ok {
		t.Fatal("expected ROUND_RESULT")
	}
	result := ev.Data.(RoundResult)
	if result.Winner != "p1" || result.Score["p1"] != 1 || result.Score["p2"] != 0 {
		t.Fatalf("unexpected result: %s", spew.Sdump(result))
	}
}

func TestFirstMoveDoesNotResolve(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	events, err := r.ApplyMove("p1", MoveRock)
	if err != nil {
		t.Fatalf("move p1: %v", err)
	}
	if hasEvent(events, EventRoundResult) {
		t.Fatal("round resolved with a single move")
	}
	if r.State != RoomAwaitMoves {
		t.Fatalf("state = %s, want ROUND_AWAIT_MOVES", r.State)
	}
}

func TestBestOfThreeSweep(t *testing.T) {
	r := twoPlayerRoom(t, 3)

	events := playRound(t, r, MoveRock, MoveScissors)
	ev, ok := findEvent(events, EventRoundResult)
	if !ok {
		t.Fatal("expected ROUND_RESULT for round 1")
	}
	result := ev.Data.(RoundResult)
	if result.RoundID != 1 || result.Winner != "p1" || result.Score["p1"] != 1 {
		t.Fatalf("round 1: %s", spew.Sdump(result))
	}
	if !hasEvent(events, EventAskReady) {
		t.Fatal("expected ASK_READY after non-final round")
	}

	events = playRound(t, r, MovePaper, MoveRock)
	ev, ok = findEvent(events, EventMatchOver)
	if !ok {
		t.Fatal("expected MATCH_OVER after second win")
	}
	summary := ev.Data.(MatchSummary)
	if summary.Winner != "p1" || summary.Rounds != 2 || summary.Score["p1"] != 2 {
		t.Fatalf("match summary: %s", spew.Sdump(summary))
	}
	if r.State != RoomMatchOver {
		t.Fatalf("state = %s, want MATCH_OVER", r.State)
	}
}

func TestConsecutiveDrawsNeverFinishMatch(t *testing.T) {
	r := twoPlayerRoom(t, 5)

	for i := 0; i < 3; i++ {
		events := playRound(t, r, MoveRock, MoveRock)
		ev, ok := findEvent(events, EventRoundResult)
		if !ok {
			t.Fatalf("draw %d: expected ROUND_RESULT", i+1)
		}
		result := ev.Data.(RoundResult)
		if result.Outcome != "draw" || result.Winner != "" {
			t.Fatalf("draw %d: %s", i+1, spew.Sdump(result))
		}
		if result.Score["p1"] != 0 || result.Score["p2"] != 0 {
			t.Fatalf("draw %d changed score: %v", i+1, result.Score)
		}
		if hasEvent(events, EventMatchOver) {
			t.Fatalf("draw %d finished the match", i+1)
		}
		if r.State != RoomReadyCheck {
			t.Fatalf("draw %d: state = %s, want READY_CHECK", i+1, r.State)
		}
	}
}

func TestLeaveBeforeReadiness(t *testing.T) {
	r := twoPlayerRoom(t, 5)

	events, err := r.Leave("p2")
	if err != nil {
		t.Fatalf("leave p2: %v", err)
	}
	if !hasEvent(events, EventPlayerLeft) {
		t.Fatal("expected PLAYER_LEFT")
	}
	if r.State != RoomOneWaiting {
		t.Fatalf("state = %s, want ONE_WAITING", r.State)
	}
	if r.players["p1"].State != PlayerConnected {
		t.Fatalf("survivor state = %s, want CONNECTED", r.players["p1"].State)
	}
}

func TestLeaveMidMatchAbandons(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	events, err := r.Leave("p2")
	if err != nil {
		t.Fatalf("leave p2: %v", err)
	}
	if !hasEvent(events, EventMatchAborted) {
		t.Fatal("expected MATCH_ABORTED when leaving mid-round")
	}
	if r.State != RoomOneWaiting {
		t.Fatalf("state = %s, want ONE_WAITING", r.State)
	}
}

func TestLastLeaveResetsRoom(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	playRound(t, r, MoveRock, MoveScissors)

	if _, err := r.Leave("p1"); err != nil {
		t.Fatalf("leave p1: %v", err)
	}
	if _, err := r.Leave("p2"); err != nil {
		t.Fatalf("leave p2: %v", err)
	}
	if r.State != RoomEmpty {
		t.Fatalf("state = %s, want EMPTY", r.State)
	}
	if r.RoundID != 0 {
		t.Fatalf("round id = %d, want 0 after reset", r.RoundID)
	}
}

func TestTimeoutWithOneMover(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	if _, err := r.ApplyMove("p2", MovePaper); err != nil {
		t.Fatalf("move p2: %v", err)
	}
	events, err := r.RoundTimeout()
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	ev, ok := findEvent(events, EventRoundTimeoutWin)
	if !ok {
		t.Fatal("expected ROUND_TIMEOUT_WIN")
	}
	tw := ev.Data.(TimeoutWin)
	if tw.Winner != "p2" {
		t.Fatalf("timeout winner = %s, want p2", tw.Winner)
	}
	if r.players["p2"].Score != 1 || r.players["p1"].Score != 0 {
		t.Fatalf("scores after forfeit: p1=%d p2=%d", r.players["p1"].Score, r.players["p2"].Score)
	}
}

func TestTimeoutWithNoMovers(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	startRound(t, r)

	events, err := r.RoundTimeout()
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	if !hasEvent(events, EventRoundTimeoutDraw) {
		t.Fatal("expected ROUND_TIMEOUT_DRAW")
	}
	if r.players["p1"].Score != 0 || r.players["p2"].Score != 0 {
		t.Fatal("timeout draw changed score")
	}
	if r.State != RoomReadyCheck {
		t.Fatalf("state = %s, want READY_CHECK", r.State)
	}
}

func TestTimeoutInWrongPhase(t *testing.T) {
	r := twoPlayerRoom(t, 5)

	_, err := r.RoundTimeout()
	if !errors.Is(err, ErrWrongState) {
		t.Fatalf("timeout during READY_CHECK: err = %v, want wrong state", err)
	}
}

func TestRestartAfterMatchOver(t *testing.T) {
	r := twoPlayerRoom(t, 3)
	playRound(t, r, MoveRock, MoveScissors)
	playRound(t, r, MovePaper, MoveRock)
	if r.State != RoomMatchOver {
		t.Fatalf("state = %s, want MATCH_OVER", r.State)
	}

	events, err := r.Restart()
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !hasEvent(events, EventMatchRestarted) {
		t.Fatal("expected MATCH_RESTARTED")
	}
	if r.State != RoomReadyCheck {
		t.Fatalf("state = %s, want READY_CHECK", r.State)
	}
	if r.RoundID != 0 {
		t.Fatalf("round id = %d, want 0", r.RoundID)
	}
	for pid, p := range r.players {
		if p.Score != 0 {
			t.Fatalf("player %s score = %d, want 0", pid, p.Score)
		}
		if p.State != PlayerConnected {
			t.Fatalf("player %s state = %s, want CONNECTED", pid, p.State)
		}
	}
}

func TestRestartRequiresTwoPlayers(t *testing.T) {
	r := NewRoom("room-1", 5)
	if _, err := r.Join("p1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	_, err := r.Restart()
	if !errors.Is(err, ErrNeedTwoPlayers) {
		t.Fatalf("restart with one player: err = %v", err)
	}
}

func TestAbortClearsRoom(t *testing.T) {
	r := twoPlayerRoom(t, 5)
	playRound(t, r, MoveRock, MoveScissors)

	events := r.Abort()
	if !hasEvent(events, EventRoomAborted) {
		t.Fatal("expected ROOM_ABORTED")
	}
	if r.State != RoomEmpty {
		t.Fatalf("state = %s, want EMPTY", r.State)
	}
	if len(r.players) != 0 || r.RoundID != 0 || r.LastResult != "" {
		t.Fatalf("abort left residue: %s", spew.Sdump(r.Snapshot()))
	}
}

func TestEvenBestOfFallsBackToDefault(t *testing.T) {
	r := NewRoom("room-1", 4)
	if r.BestOf != DefaultBestOf {
		t.Fatalf("best of = %d, want %d", r.BestOf, DefaultBestOf)
	}
}
