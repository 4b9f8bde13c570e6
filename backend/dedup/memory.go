package dedup

import (
	"context"
	"sync"
	"time"
)

// MemGuard is an in-process Guard for single-node runs and tests.
type MemGuard struct {
	mx   *sync.Mutex
	keys map[string]time.Time
}

func NewMemGuard() *MemGuard {
	return &MemGuard{
		mx:   &sync.Mutex{},
		keys: make(map[string]time.Time),
	}
}

func (g *MemGuard) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mx.Lock()
	defer g.mx.Unlock()

	now := time.Now()
	for k, exp := range g.keys {
		if now.After(exp) {
			delete(g.keys, k)
		}
	}

	if exp, ok := g.keys[key]; ok && now.Before(exp) {
		return true, nil
	}
	g.keys[key] = now.Add(ttl)
	return false, nil
}

func (g *MemGuard) Clear(_ context.Context, key string) error {
	g.mx.Lock()
	defer g.mx.Unlock()
	delete(g.keys, key)
	return nil
}
