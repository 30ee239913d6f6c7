// Package store persists authoritative session state in a shared cache so
// any worker can act on any session.
package store

import (
	"context"
	"errors"

	"github.com/wortley/unichess/internal/game"
)

var (
	// ErrSessionNotFound means the key is absent from the cache.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreUnavailable means the cache could not be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store defines the session state operations. There is no transactional
// guarantee across a read-modify-write cycle: concurrent mutations of the
// same session race and the later Save wins.
type Store interface {
	// Get retrieves a session, failing with ErrSessionNotFound or
	// ErrStoreUnavailable.
	Get(ctx context.Context, id string) (*game.Session, error)
	// Save serializes and writes the session, overwriting any prior value.
	Save(ctx context.Context, sess *game.Session) error
	// Delete removes the session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error
	// CountActive counts live sessions. It scans the key namespace, so its
	// cost grows with the number of active sessions.
	CountActive(ctx context.Context) (int, error)
}
