package game

import (
	"errors"
	"fmt"
)

// RoomState tags the room's phase. Exactly one state describes the room
// at any instant; it is always recomputable from player count plus phase.
type RoomState int

const (
	RoomEmpty RoomState = iota
	RoomOneWaiting
	RoomReadyCheck
	RoomAwaitMoves
	RoomMatchOver
)

func (s RoomState) String() string {
	switch s {
	case RoomEmpty:
		return "EMPTY"
	case RoomOneWaiting:
		return "ONE_WAITING"
	case RoomReadyCheck:
		return "READY_CHECK"
	case RoomAwaitMoves:
		return "ROUND_AWAIT_MOVES"
	case RoomMatchOver:
		return "MATCH_OVER"
	}
	return fmt.Sprintf("RoomState(%d)", int(s))
}

// PlayerState tags a participant's phase within the room.
type PlayerState int

const (
	PlayerConnected PlayerState = iota
	PlayerReady
	PlayerMoved
	PlayerBetweenRounds
)

func (s PlayerState) String() string {
	switch s {
	case PlayerConnected:
		return "CONNECTED"
	case PlayerReady:
		return "READY"
	case PlayerMoved:
		return "MOVED"
	case PlayerBetweenRounds:
		return "BETWEEN_ROUNDS"
	}
	return fmt.Sprintf("PlayerState(%d)", int(s))
}

const (
	maxParticipants = 2

	// DefaultBestOf bounds a match unless configured otherwise.
	DefaultBestOf = 5
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrWrongState     = errors.New("action not legal in current state")
	ErrNeedTwoPlayers = errors.New("requires exactly two players")
)

// TransitionError reports an action attempted from a state that does not
// match its preconditions. State is never mutated on this error.
type TransitionError struct {
	Err      error
	Action   string
	State    RoomState
	Expected RoomState
}

func (e *TransitionError) Error() string {
	if errors.Is(e.Err, ErrWrongState) {
		return fmt.Sprintf("%s: %v: state is %s, expected %s", e.Action, e.Err, e.State, e.Expected)
	}
	return fmt.Sprintf("%s: %v (state %s)", e.Action, e.Err, e.State)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// Participant is one side of a match. Mutated only by the engine,
// under the room's lock.
type Participant struct {
	Pid      string
	State    PlayerState
	LastMove Move // empty until a move lands this round
	Score    int
}

// Room is the match engine for one room. It is a pure state machine:
// every transition returns the events to deliver and performs no I/O.
// Callers serialize access through the room's lock.
type Room struct {
	ID         string
	State      RoomState
	BestOf     int
	RoundID    int
	LastResult string

	players map[string]*Participant
	order   []string // join order, fixes p1/p2 in result payloads
}

func NewRoom(id string, bestOf int) *Room {
	if bestOf <= 0 || bestOf%2 == 0 {
		bestOf = DefaultBestOf
	}
	return &Room{
		ID:      id,
		State:   RoomEmpty,
		BestOf:  bestOf,
		players: make(map[string]*Participant),
	}
}

// Join admits a participant. A pid already present is re-acknowledged
// without any state change, preserving its score and move so reconnects
// resume the same match. A third distinct pid is rejected.
func (r *Room) Join(pid string) ([]Event, error) {
	if p, ok := r.players[pid]; ok {
		return []Event{{Type: EventPlayerRejoined, To: pid, Data: r.snapshot(p)}}, nil
	}
	if len(r.players) >= maxParticipants {
		return nil, &TransitionError{Err: ErrRoomFull, Action: "join", State: r.State}
	}

	p := &Participant{Pid: pid, State: PlayerConnected}
	r.players[pid] = p
	r.order = append(r.order, pid)

	if len(r.players) == 1 {
		r.State = RoomOneWaiting
	} else {
		r.State = RoomReadyCheck
	}
	return []Event{{Type: EventPlayerJoined, Data: r.snapshot(p)}}, nil
}

// Leave removes a participant unconditionally. An in-progress match is
// abandoned, not paused: the survivor goes back to waiting for an opponent.
func (r *Room) Leave(pid string) ([]Event, error) {
	if _, ok := r.players[pid]; !ok {
		return nil, nil
	}
	delete(r.players, pid)
	for i, id := range r.order {
		if id == pid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if len(r.players) == 0 {
		r.State = RoomEmpty
		r.resetMatch()
		return []Event{{Type: EventPlayerLeft, Data: PlayerLeft{Pid: pid, Room: r.view()}}}, nil
	}

	abandoned := r.State == RoomAwaitMoves || r.State == RoomReadyCheck || r.State == RoomMatchOver
	survivor := r.players[r.order[0]]
	survivor.State = PlayerConnected
	survivor.LastMove = ""
	r.State = RoomOneWaiting

	events := []Event{{Type: EventPlayerLeft, Data: PlayerLeft{Pid: pid, Room: r.view()}}}
	if abandoned {
		events = append(events, Event{Type: EventMatchAborted, Data: r.view()})
	}
	return events, nil
}

// SetReady flips a participant's readiness. Once both are ready the round
// starts atomically: round counter bumped, moves cleared, round-start emitted.
func (r *Room) SetReady(pid string, ready bool) ([]Event, error) {
	if r.State != RoomReadyCheck {
		return nil, &TransitionError{Err: ErrWrongState, Action: "ready", State: r.State, Expected: RoomReadyCheck}
	}
	p, ok := r.players[pid]
	if !ok {
		return nil, &TransitionError{Err: ErrUnknownPlayer, Action: "ready", State: r.State}
	}

	if ready {
		p.State = PlayerReady
	} else {
		p.State = PlayerConnected
	}

	evType := EventPlayerReady
	if !ready {
		evType = EventPlayerUnready
	}
	events := []Event{{Type: evType, Data: r.snapshot(p)}}

	if len(r.players) == maxParticipants && r.all(PlayerReady) {
		events = append(events, r.startRound())
	}
	return events, nil
}

// ApplyMove records a move for the current round. A resubmission by a
// participant who already moved is acknowledged and changes nothing, so a
// duplicate can never score twice. When both moves are in, the round
// resolves immediately.
func (r *Room) ApplyMove(pid string, m Move) ([]Event, error) {
	if r.State != RoomAwaitMoves {
		return nil, &TransitionError{Err: ErrWrongState, Action: "move", State: r.State, Expected: RoomAwaitMoves}
	}
	p, ok := r.players[pid]
	if !ok {
		return nil, &TransitionError{Err: ErrUnknownPlayer, Action: "move", State: r.State}
	}

	if p.State == PlayerMoved {
		return []Event{{Type: EventMoveDuplicate, To: pid, Data: r.snapshot(p)}}, nil
	}

	p.LastMove = m
	p.State = PlayerMoved
	events := []Event{{Type: EventMoveAccepted, To: pid, Data: r.snapshot(p)}}

	if r.all(PlayerMoved) {
		events = append(events, r.resolveRound()...)
	}
	return events, nil
}

// RoundTimeout forces resolution of an overdue round. With one mover, that
// mover wins the round by forfeit; with none, the round is a scoreless draw.
// With both moved it is a no-op, normal resolution has already happened.
func (r *Room) RoundTimeout() ([]Event, error) {
	if r.State != RoomAwaitMoves {
		return nil, &TransitionError{Err: ErrWrongState, Action: "timeout", State: r.State, Expected: RoomAwaitMoves}
	}
	if r.all(PlayerMoved) {
		return nil, nil
	}

	var winner *Participant
	for _, pid := range r.order {
		if p := r.players[pid]; p.LastMove != "" {
			winner = p
			break
		}
	}

	if winner == nil {
		r.LastResult = "draw"
		events := []Event{{Type: EventRoundTimeoutDraw, Data: r.view()}}
		return append(events, r.afterRound()...), nil
	}

	winner.Score++
	r.LastResult = winner.Pid + " wins by timeout"
	events := []Event{{Type: EventRoundTimeoutWin, Data: TimeoutWin{Winner: winner.Pid, Room: r.view()}}}
	return append(events, r.afterRound()...), nil
}

// Restart resets scores and round counter for a rematch with the same
// two participants and asks for a fresh readiness handshake.
func (r *Room) Restart() ([]Event, error) {
	if len(r.players) != maxParticipants {
		return nil, &TransitionError{Err: ErrNeedTwoPlayers, Action: "restart", State: r.State}
	}
	r.resetMatch()
	for _, p := range r.players {
		p.State = PlayerConnected
		p.LastMove = ""
	}
	r.State = RoomReadyCheck
	return []Event{{Type: EventMatchRestarted, Data: r.view()}}, nil
}

// Abort hard-resets the room. Administrative intervention only.
func (r *Room) Abort() []Event {
	r.players = make(map[string]*Participant)
	r.order = nil
	r.State = RoomEmpty
	r.resetMatch()
	return []Event{{Type: EventRoomAborted, Data: r.view()}}
}

// Snapshot returns the externally visible room state. Callers hold the
// room's lock.
func (r *Room) Snapshot() RoomView {
	return r.view()
}

func (r *Room) startRound() Event {
	r.RoundID++
	for _, p := range r.players {
		p.LastMove = ""
		p.State = PlayerReady
	}
	r.State = RoomAwaitMoves
	return Event{Type: EventRoundStart, Data: r.view()}
}

func (r *Room) resolveRound() []Event {
	p1 := r.players[r.order[0]]
	p2 := r.players[r.order[1]]
	outcome := Judge(p1.LastMove, p2.LastMove)

	result := RoundResult{
		RoundID: r.RoundID,
		Outcome: "win",
		P1:      MoveView{Pid: p1.Pid, Move: string(p1.LastMove)},
		P2:      MoveView{Pid: p2.Pid, Move: string(p2.LastMove)},
	}

	switch outcome {
	case OutcomeDraw:
		result.Outcome = "draw"
		r.LastResult = "draw"
	case OutcomeWin:
		p1.Score++
		result.Winner = p1.Pid
		r.LastResult = p1.Pid + " wins"
	case OutcomeLose:
		p2.Score++
		result.Winner = p2.Pid
		r.LastResult = p2.Pid + " wins"
	}
	result.Score = r.scores()

	events := []Event{{Type: EventRoundResult, Data: result}}
	return append(events, r.afterRound()...)
}

// afterRound checks the match point and either finishes the match or asks
// both participants for a fresh readiness handshake. The next round never
// auto-starts.
func (r *Room) afterRound() []Event {
	winner := r.matchWinner()
	if winner != nil {
		r.State = RoomMatchOver
		r.setAll(PlayerBetweenRounds)
		return []Event{{Type: EventMatchOver, Data: MatchSummary{
			Winner: winner.Pid,
			Score:  r.scores(),
			Rounds: r.RoundID,
		}}}
	}

	r.State = RoomReadyCheck
	r.setAll(PlayerBetweenRounds)
	return []Event{{Type: EventAskReady, Data: r.view()}}
}

func (r *Room) matchWinner() *Participant {
	need := WinsNeeded(r.BestOf)
	for _, p := range r.players {
		if p.Score >= need {
			return p
		}
	}
	return nil
}

func (r *Room) resetMatch() {
	r.RoundID = 0
	r.LastResult = ""
	for _, p := range r.players {
		p.Score = 0
		p.LastMove = ""
	}
}

func (r *Room) all(state PlayerState) bool {
	if len(r.players) != maxParticipants {
		return false
	}
	for _, p := range r.players {
		if p.State != state {
			return false
		}
	}
	return true
}

func (r *Room) setAll(state PlayerState) {
	for _, p := range r.players {
		p.State = state
	}
}

func (r *Room) scores() map[string]int {
	s := make(map[string]int, len(r.players))
	for _, p := range r.players {
		s[p.Pid] = p.Score
	}
	return s
}

func (r *Room) playerView(p *Participant) PlayerView {
	return PlayerView{
		Pid:      p.Pid,
		State:    p.State.String(),
		Score:    p.Score,
		LastMove: string(p.LastMove),
	}
}

func (r *Room) view() RoomView {
	players := make([]PlayerView, 0, len(r.order))
	for _, pid := range r.order {
		players = append(players, r.playerView(r.players[pid]))
	}
	return RoomView{
		State:      r.State.String(),
		BestOf:     r.BestOf,
		WinsNeeded: WinsNeeded(r.BestOf),
		RoundID:    r.RoundID,
		LastResult: r.LastResult,
		Players:    players,
	}
}

func (r *Room) snapshot(p *Participant) Snapshot {
	snap := Snapshot{Room: r.view()}
	if p != nil {
		pv := r.playerView(p)
		snap.Player = &pv
	}
	return snap
}
