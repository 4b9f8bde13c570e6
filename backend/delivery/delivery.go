// Package delivery routes engine events to the live connections of a room.
// Sends are best-effort: a slow endpoint is retried with bounded backoff and
// surfaced as an error after the attempt cap, never back into the engine.
package delivery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/adwski/rps-arena/backend/model"
	"github.com/rs/zerolog"
)

const (
	defaultSendTimeout   = time.Second
	defaultSendAttempts  = 3
	defaultBackoffBase   = 30 * time.Millisecond
	defaultBackoffJitter = 20 * time.Millisecond
)

var (
	ErrNotConnected = errors.New("participant is not connected")
	ErrDeadEndpoint = errors.New("endpoint did not accept message")
)

type Delivery struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	rooms  map[string]map[string]model.Wire

	sendTimeout time.Duration
	attempts    int
}

type Config struct {
	Logger *zerolog.Logger

	// SendTimeout and Attempts override the defaults, mainly for tests.
	SendTimeout time.Duration
	Attempts    int
}

func New(cfg Config) *Delivery {
	d := &Delivery{
		logger:      cfg.Logger.With().Str("component", "delivery").Logger(),
		mx:          &sync.RWMutex{},
		rooms:       make(map[string]map[string]model.Wire),
		sendTimeout: cfg.SendTimeout,
		attempts:    cfg.Attempts,
	}
	if d.sendTimeout <= 0 {
		d.sendTimeout = defaultSendTimeout
	}
	if d.attempts <= 0 {
		d.attempts = defaultSendAttempts
	}
	return d
}

func (d *Delivery) Connect(roomID, pid string, wire model.Wire) {
	d.mx.Lock()
	defer d.mx.Unlock()

	room, ok := d.rooms[roomID]
	if !ok {
		room = make(map[string]model.Wire)
		d.rooms[roomID] = room
	}
	room[pid] = wire

	d.logger.Debug().
		Str("roomID", roomID).
		Str("pid", pid).
		Msg("endpoint connected")
}

func (d *Delivery) Disconnect(roomID, pid string) {
	d.mx.Lock()
	defer d.mx.Unlock()

	room, ok := d.rooms[roomID]
	if !ok {
		return
	}
	delete(room, pid)
	if len(room) == 0 {
		delete(d.rooms, roomID)
	}

	d.logger.Debug().
		Str("roomID", roomID).
		Str("pid", pid).
		Msg("endpoint disconnected")
}

// SendTo delivers a message to one participant of a room.
func (d *Delivery) SendTo(ctx context.Context, roomID, pid string, msg model.Message) error {
	d.mx.RLock()
	wire, ok := d.rooms[roomID][pid]
	d.mx.RUnlock()

	if !ok {
		d.logger.Debug().
			Str("roomID", roomID).
			Str("pid", pid).
			Str("type", msg.Type).
			Msg("cannot send, endpoint not found")
		return ErrNotConnected
	}
	return d.send(ctx, wire, roomID, pid, msg)
}

// Broadcast delivers a message to every connected participant of a room.
// A failed endpoint does not stop delivery to the rest.
func (d *Delivery) Broadcast(ctx context.Context, roomID string, msg model.Message) error {
	d.mx.RLock()
	room := d.rooms[roomID]
	wires := make(map[string]model.Wire, len(room))
	for pid, wire := range room {
		wires[pid] = wire
	}
	d.mx.RUnlock()

	if len(wires) == 0 {
		d.logger.Debug().
			Str("roomID", roomID).
			Str("type", msg.Type).
			Msg("broadcast did not reach anyone")
		return nil
	}

	var errs []error
	for pid, wire := range wires {
		if err := d.send(ctx, wire, roomID, pid, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Delivery) send(ctx context.Context, wire model.Wire, roomID, pid string, msg model.Message) error {
	for attempt := 0; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			delay := defaultBackoffBase<<(attempt-1) + time.Duration(rand.Int63n(int64(defaultBackoffJitter)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		t := time.NewTimer(d.sendTimeout)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case wire.TX <- msg:
			t.Stop()
			return nil
		case <-t.C:
			d.logger.Warn().
				Str("roomID", roomID).
				Str("pid", pid).
				Str("type", msg.Type).
				Int("attempt", attempt+1).
				Msg("send attempt timed out")
		}
	}

	d.logger.Error().
		Str("roomID", roomID).
		Str("pid", pid).
		Str("type", msg.Type).
		Msg("dead endpoint")
	return ErrDeadEndpoint
}
