package remote

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/state"
)

// KeyLastUpdated addresses the stamp written after a device change.
// It is not a user writable key and ParseKey does not accept it.
const KeyLastUpdated state.Key = "lastUpdated"

var (
	// ErrUnavailable is returned by writes attempted without connectivity.
	ErrUnavailable = errors.New("remote unavailable")

	// ErrMisconfigured marks failures that retrying cannot fix, such as a
	// malformed endpoint or a rejected subscription.
	ErrMisconfigured = errors.New("remote misconfigured")

	// ErrStreamClosed is yielded once by a stream whose transport went away.
	ErrStreamClosed = errors.New("remote stream closed")
)

// Source is the remote store as seen by the engine.
type Source interface {
	// Subscribe opens the user's stream. Only configuration problems fail
	// synchronously; transport trouble arrives as Event.Err.
	Subscribe(ctx context.Context, userID string) (Stream, error)

	// Write sets one field for the user. value is a bool for state keys
	// and an RFC 3339 string for KeyLastUpdated.
	Write(ctx context.Context, userID string, key state.Key, value any) error
}

// Stream delivers snapshots for one user until closed.
type Stream interface {
	// Events is closed after Close.
	Events() <-chan Event
	Close() error
}

// Event carries either a snapshot or a transport error.
type Event struct {
	Snapshot *state.Snapshot
	Err      error
}
