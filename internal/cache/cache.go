package cache

import (
	"context"

	"github.com/roach88/homesync/internal/state"
)

// Cache is the per-user fallback store used by the engine.
//
// Get reports ok=false when nothing has been cached for the user yet.
// Put replaces the user's entry.
type Cache interface {
	Get(ctx context.Context, userID string) (state.Entry, bool, error)
	Put(ctx context.Context, userID string, e state.Entry) error
	Close() error
}

var (
	_ Cache = (*Store)(nil)
	_ Cache = (*Memory)(nil)
)
