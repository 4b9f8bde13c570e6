// Package dedup suppresses replayed client actions. A key derived from the
// action's identity and the current round is inserted into a shared store
// with a short expiry; a key that already exists marks the action as a
// replay. Round id inside the key keeps suppression from leaking across
// rounds.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const keyPrefix = "rps:idem:"

// DefaultTTL bounds store memory while still absorbing client retries.
const DefaultTTL = 10 * time.Second

// Guard is an atomic insert-if-absent store with per-key expiry.
type Guard interface {
	// Seen records the key and reports whether it already existed.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Clear drops a key before its expiry, re-arming the action it
	// fingerprints.
	Clear(ctx context.Context, key string) error
}

// Key fingerprints one action. Identical inputs always produce an
// identical key.
func Key(action, roomID, pid string, roundID int, payload string) string {
	sum := sha256.Sum256([]byte(roomID + "|" + pid + "|" + strconv.Itoa(roundID) + "|" + payload))
	return keyPrefix + action + ":" + hex.EncodeToString(sum[:])
}
