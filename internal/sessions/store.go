// Package sessions persists conversation threads and their message
// history, keyed by "{channel}:{chat_id}:{user_id}".
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// ErrNotFound is returned when a session or message lookup misses.
var ErrNotFound = errors.New("session not found")

// Store is the interface for session persistence. Implementations must
// preserve append order per session; the engine serialises writes per
// session so stores do not need cross-call ordering guarantees beyond
// that.
type Store interface {
	// GetOrCreate returns the live session for key, creating it when
	// absent or expired. A new session replaces an expired one under the
	// same key; the expired session's history is kept but no longer live.
	GetOrCreate(ctx context.Context, key models.SessionKey) (*models.Session, error)

	// Get returns the live session for key, or ErrNotFound.
	Get(ctx context.Context, key models.SessionKey) (*models.Session, error)

	// Update persists mutated session fields (turn counters, metadata).
	Update(ctx context.Context, session *models.Session) error

	// AppendMessage appends to the session's history and bumps its
	// last-active time.
	AppendMessage(ctx context.Context, key models.SessionKey, msg *models.Message) error

	// History returns the most recent messages in chronological order.
	// limit <= 0 returns everything.
	History(ctx context.Context, key models.SessionKey, limit int) ([]*models.Message, error)

	// ExpireStale marks sessions idle since before cutoff as expired and
	// returns how many were marked.
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases underlying resources.
	Close() error
}
