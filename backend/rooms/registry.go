// Package rooms holds the live room runtimes. Each room carries its own
// lock and round timer; rooms never contend with each other. Rooms are
// created on first use and evicted once empty.
package rooms

import (
	"errors"
	"sync"
	"time"

	"github.com/adwski/rps-arena/backend/game"
	"github.com/rs/zerolog"
)

var ErrRoomNotFound = errors.New("room is not found")

type runtime struct {
	mx    sync.Mutex
	room  *game.Room
	timer *time.Timer
	// gone marks a runtime the sweep removed from the registry. A caller
	// that looked it up before removal but locked it after must not mutate
	// the orphaned room.
	gone bool
}

type Registry struct {
	logger zerolog.Logger
	mx     *sync.Mutex
	rooms  map[string]*runtime
	bestOf int
}

type Config struct {
	Logger *zerolog.Logger
	BestOf int
}

func NewRegistry(cfg Config) *Registry {
	bestOf := cfg.BestOf
	if bestOf <= 0 || bestOf%2 == 0 {
		bestOf = game.DefaultBestOf
	}
	return &Registry{
		logger: cfg.Logger.With().Str("component", "rooms").Logger(),
		mx:     &sync.Mutex{},
		rooms:  make(map[string]*runtime),
		bestOf: bestOf,
	}
}

func (rg *Registry) get(roomID string, create bool) (*runtime, bool) {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	rt, ok := rg.rooms[roomID]
	if !ok {
		if !create {
			return nil, false
		}
		rt = &runtime{room: game.NewRoom(roomID, rg.bestOf)}
		rg.rooms[roomID] = rt
		rg.logger.Debug().Str("roomID", roomID).Msg("room created")
	}
	return rt, true
}

// With runs fn with exclusive access to the room's state, creating the
// room if it does not exist yet. All mutations go through here. A runtime
// the sweep evicted between lookup and lock is retried with a fresh one.
func (rg *Registry) With(roomID string, fn func(*game.Room) ([]game.Event, error)) ([]game.Event, error) {
	for {
		rt, _ := rg.get(roomID, true)

		rt.mx.Lock()
		if rt.gone {
			rt.mx.Unlock()
			continue
		}
		defer rt.mx.Unlock()
		return fn(rt.room)
	}
}

// Peek runs fn with exclusive access to an existing room's state, without
// creating one.
func (rg *Registry) Peek(roomID string, fn func(*game.Room)) error {
	for {
		rt, ok := rg.get(roomID, false)
		if !ok {
			return ErrRoomNotFound
		}

		rt.mx.Lock()
		if rt.gone {
			rt.mx.Unlock()
			continue
		}
		fn(rt.room)
		rt.mx.Unlock()
		return nil
	}
}

// ArmRoundTimer schedules fire after d, replacing any previously armed
// timer for the room. fire runs on its own goroutine and must re-validate
// room state before acting.
func (rg *Registry) ArmRoundTimer(roomID string, d time.Duration, fire func()) {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	rt, ok := rg.rooms[roomID]
	if !ok {
		return
	}
	if rt.timer != nil {
		rt.timer.Stop()
	}
	rt.timer = time.AfterFunc(d, fire)
}

// DisarmRoundTimer cancels the room's pending round timer, if any.
func (rg *Registry) DisarmRoundTimer(roomID string) {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	rt, ok := rg.rooms[roomID]
	if !ok || rt.timer == nil {
		return
	}
	rt.timer.Stop()
	rt.timer = nil
}

// EvictEmpty removes rooms whose last participant has departed. Returns
// the number of rooms removed.
func (rg *Registry) EvictEmpty() int {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	var evicted int
	for roomID, rt := range rg.rooms {
		rt.mx.Lock()
		if rt.room.State != game.RoomEmpty {
			rt.mx.Unlock()
			continue
		}
		rt.gone = true
		rt.mx.Unlock()
		if rt.timer != nil {
			rt.timer.Stop()
		}
		delete(rg.rooms, roomID)
		evicted++
		rg.logger.Debug().Str("roomID", roomID).Msg("room evicted")
	}
	return evicted
}

// Len reports the number of live rooms.
func (rg *Registry) Len() int {
	rg.mx.Lock()
	defer rg.mx.Unlock()
	return len(rg.rooms)
}
