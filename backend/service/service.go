// Package service glues the match engine to its collaborators. Per action:
// replay check against the dedup store, engine transition under the room's
// lock, then event fan-out outside the lock so slow endpoints never stall
// the room.
package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/adwski/rps-arena/backend/dedup"
	"github.com/adwski/rps-arena/backend/game"
	"github.com/adwski/rps-arena/backend/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultRoundTimeout = 20 * time.Second

	dedupAttempts      = 3
	dedupBackoffBase   = 30 * time.Millisecond
	dedupBackoffJitter = 20 * time.Millisecond

	actionReady = "READY"
	actionMove  = "MOVE"
)

var ErrJoin = errors.New("unable to join room")

type (
	// Registry serializes engine transitions per room and owns round timers.
	Registry interface {
		With(roomID string, fn func(*game.Room) ([]game.Event, error)) ([]game.Event, error)
		Peek(roomID string, fn func(*game.Room)) error
		ArmRoundTimer(roomID string, d time.Duration, fire func())
		DisarmRoundTimer(roomID string)
	}

	// Delivery routes outbound messages to connected participants.
	Delivery interface {
		Connect(roomID, pid string, wire model.Wire)
		Disconnect(roomID, pid string)
		SendTo(ctx context.Context, roomID, pid string, msg model.Message) error
		Broadcast(ctx context.Context, roomID string, msg model.Message) error
	}

	Service struct {
		registry Registry
		delivery Delivery
		guard    dedup.Guard
		logger   zerolog.Logger

		roundTimeout time.Duration
		dedupTTL     time.Duration
	}

	Config struct {
		Registry Registry
		Delivery Delivery
		Guard    dedup.Guard
		Logger   *zerolog.Logger

		RoundTimeout time.Duration
		DedupTTL     time.Duration
	}
)

func NewService(cfg Config) *Service {
	svc := &Service{
		registry:     cfg.Registry,
		delivery:     cfg.Delivery,
		guard:        cfg.Guard,
		logger:       cfg.Logger.With().Str("component", "match-service").Logger(),
		roundTimeout: cfg.RoundTimeout,
		dedupTTL:     cfg.DedupTTL,
	}
	if svc.roundTimeout <= 0 {
		svc.roundTimeout = defaultRoundTimeout
	}
	if svc.dedupTTL <= 0 {
		svc.dedupTTL = dedup.DefaultTTL
	}
	return svc
}

// JoinRoom admits pid into the room without a live connection, for the
// lobby API. The same join is re-acknowledged when the websocket connects.
func (svc *Service) JoinRoom(roomID, pid string) (game.RoomView, error) {
	var view game.RoomView
	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		evs, joinErr := r.Join(pid)
		view = r.Snapshot()
		return evs, joinErr
	})
	if err != nil {
		return view, errors.Join(ErrJoin, err)
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("pid", pid).
		Msg("player joined room")
	svc.dispatch(context.Background(), roomID, pid, events)
	return view, nil
}

// RoomSnapshot returns the current view of an existing room.
func (svc *Service) RoomSnapshot(roomID string) (game.RoomView, error) {
	var view game.RoomView
	err := svc.registry.Peek(roomID, func(r *game.Room) {
		view = r.Snapshot()
	})
	return view, err
}

// Connect joins pid to the room and registers its wire for delivery.
func (svc *Service) Connect(ctx context.Context, roomID, pid string, wire model.Wire) error {
	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		return r.Join(pid)
	})
	if err != nil {
		return errors.Join(ErrJoin, err)
	}
	svc.delivery.Connect(roomID, pid, wire)
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("pid", pid).
		Msg("match session connected")
	svc.dispatch(ctx, roomID, pid, events)
	return nil
}

// Disconnect unregisters the wire and applies the leave transition.
func (svc *Service) Disconnect(ctx context.Context, roomID, pid string) error {
	svc.delivery.Disconnect(roomID, pid)
	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		return r.Leave(pid)
	})
	if err != nil {
		return err
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("pid", pid).
		Msg("match session disconnected")
	svc.dispatch(ctx, roomID, pid, events)
	return nil
}

// SetReady applies a readiness flip. Guarded against replays since both
// ready flips together start a round. A flip clears the opposite flip's
// key: ready -> unready -> ready within the key TTL is a change of mind,
// not a replay.
func (svc *Service) SetReady(ctx context.Context, roomID, pid string, ready bool) error {
	payload, opposite := "ready", "unready"
	if !ready {
		payload, opposite = opposite, payload
	}
	if svc.replayed(ctx, actionReady, roomID, pid, payload) {
		svc.ack(ctx, roomID, pid)
		return nil
	}
	svc.clearGuardKey(ctx, actionReady, roomID, pid, opposite)

	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		return r.SetReady(pid, ready)
	})
	if err != nil {
		svc.reportError(ctx, roomID, pid, err)
		return err
	}
	svc.dispatch(ctx, roomID, pid, events)
	return nil
}

// Move applies a move to the current round. Replays are acknowledged and
// never reach the engine.
func (svc *Service) Move(ctx context.Context, roomID, pid string, mv game.Move) error {
	if svc.replayed(ctx, actionMove, roomID, pid, string(mv)) {
		svc.ack(ctx, roomID, pid)
		return nil
	}

	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		return r.ApplyMove(pid, mv)
	})
	if err != nil {
		svc.reportError(ctx, roomID, pid, err)
		return err
	}
	svc.dispatch(ctx, roomID, pid, events)
	return nil
}

// Restart resets the match for a rematch with the same participants.
func (svc *Service) Restart(ctx context.Context, roomID, pid string) error {
	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		return r.Restart()
	})
	if err != nil {
		svc.reportError(ctx, roomID, pid, err)
		return err
	}
	svc.dispatch(ctx, roomID, pid, events)
	return nil
}

// Abort hard-resets a room. Administrative surface.
func (svc *Service) Abort(ctx context.Context, roomID string) error {
	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		return r.Abort(), nil
	})
	if err != nil {
		return err
	}
	svc.logger.Info().Str("roomID", roomID).Msg("room aborted")
	svc.dispatch(context.WithoutCancel(ctx), roomID, "", events)
	return nil
}

// handleRoundTimeout fires from the round timer. Staleness is checked
// under the lock: the round may have resolved while the timer was in
// flight.
func (svc *Service) handleRoundTimeout(roomID string, roundID int) {
	events, err := svc.registry.With(roomID, func(r *game.Room) ([]game.Event, error) {
		if r.State != game.RoomAwaitMoves || r.RoundID != roundID {
			return nil, nil
		}
		return r.RoundTimeout()
	})
	if err != nil {
		svc.logger.Error().Err(err).
			Str("roomID", roomID).
			Int("roundID", roundID).
			Msg("round timeout failed")
		return
	}
	if len(events) == 0 {
		return
	}
	svc.logger.Debug().
		Str("roomID", roomID).
		Int("roundID", roundID).
		Msg("round timed out")
	svc.dispatch(context.Background(), roomID, "", events)
}

// replayed checks the action against the dedup store with bounded retry.
// A store that stays unreachable fails open: serving the action beats
// stalling the room on infrastructure.
func (svc *Service) replayed(ctx context.Context, action, roomID, pid, payload string) bool {
	var roundID int
	_ = svc.registry.Peek(roomID, func(r *game.Room) {
		roundID = r.RoundID
	})
	key := dedup.Key(action, roomID, pid, roundID, payload)

	var (
		seen bool
		err  error
	)
	for attempt := 0; attempt < dedupAttempts; attempt++ {
		if attempt > 0 {
			delay := dedupBackoffBase<<(attempt-1) + time.Duration(rand.Int63n(int64(dedupBackoffJitter)))
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
		seen, err = svc.guard.Seen(ctx, key, svc.dedupTTL)
		if err == nil {
			return seen
		}
	}
	svc.logger.Error().Err(err).
		Str("roomID", roomID).
		Str("pid", pid).
		Str("action", action).
		Msg("dedup store unreachable, serving action anyway")
	return false
}

// clearGuardKey re-arms an action in the dedup store. Best effort: a key
// left behind expires on its own.
func (svc *Service) clearGuardKey(ctx context.Context, action, roomID, pid, payload string) {
	var roundID int
	_ = svc.registry.Peek(roomID, func(r *game.Room) {
		roundID = r.RoundID
	})
	if err := svc.guard.Clear(ctx, dedup.Key(action, roomID, pid, roundID, payload)); err != nil {
		svc.logger.Warn().Err(err).
			Str("roomID", roomID).
			Str("pid", pid).
			Str("action", action).
			Msg("dedup key clear failed")
	}
}

// dispatch fans events out after the lock is released. Targeted events go
// to their participant, the rest are broadcast. Round timers are armed and
// disarmed off the event stream so the engine stays free of timing.
func (svc *Service) dispatch(ctx context.Context, roomID, actor string, events []game.Event) {
	for _, ev := range events {
		svc.adjustRoundTimer(roomID, ev)

		msg := model.Message{
			Type: string(ev.Type),
			Data: ev.Data,
			Meta: model.Meta{CID: uuid.NewString()},
		}

		var err error
		if ev.To != "" {
			err = svc.delivery.SendTo(ctx, roomID, ev.To, msg)
		} else {
			err = svc.delivery.Broadcast(ctx, roomID, msg)
		}
		if err != nil {
			svc.logger.Warn().Err(err).
				Str("roomID", roomID).
				Str("actor", actor).
				Str("type", msg.Type).
				Msg("event delivery failed")
		}
	}
}

func (svc *Service) adjustRoundTimer(roomID string, ev game.Event) {
	switch ev.Type {
	case game.EventRoundStart:
		view, ok := ev.Data.(game.RoomView)
		if !ok {
			return
		}
		roundID := view.RoundID
		svc.registry.ArmRoundTimer(roomID, svc.roundTimeout, func() {
			svc.handleRoundTimeout(roomID, roundID)
		})
	case game.EventRoundResult, game.EventRoundTimeoutDraw, game.EventRoundTimeoutWin,
		game.EventMatchAborted, game.EventRoomAborted, game.EventMatchRestarted,
		game.EventPlayerLeft:
		svc.registry.DisarmRoundTimer(roomID)
	}
}

func (svc *Service) ack(ctx context.Context, roomID, pid string) {
	msg := model.Message{
		Type: model.MessageTypeAck,
		Meta: model.Meta{CID: uuid.NewString()},
	}
	if err := svc.delivery.SendTo(ctx, roomID, pid, msg); err != nil {
		svc.logger.Warn().Err(err).
			Str("roomID", roomID).
			Str("pid", pid).
			Msg("ack delivery failed")
	}
}

// reportError sends a transition failure back to the acting participant
// only. Room state is untouched by definition of these errors.
func (svc *Service) reportError(ctx context.Context, roomID, pid string, actErr error) {
	msg := model.Message{
		Type: model.MessageTypeError,
		Data: model.ErrorData{Message: actErr.Error()},
		Meta: model.Meta{CID: uuid.NewString()},
	}
	if err := svc.delivery.SendTo(ctx, roomID, pid, msg); err != nil {
		svc.logger.Warn().Err(err).
			Str("roomID", roomID).
			Str("pid", pid).
			Msg("error delivery failed")
	}
}
