package engine

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// Error kinds. Every error the engine reports is a *SyncError whose Kind is
// one of these, so callers can branch with errors.Is.
var (
	// ErrSubscription: the stream failed or could not be opened.
	ErrSubscription = errors.New("subscription failed")

	// ErrWrite: a remote write failed and the field was reverted.
	ErrWrite = errors.New("write failed")

	// ErrCache: the local cache could not be read or written.
	ErrCache = errors.New("cache unavailable")

	// ErrNoIdentity: an update was attempted with nobody signed in.
	ErrNoIdentity = errors.New("no user signed in")
)

var (
	// ErrDiscarded resolves Results whose pending write was dropped by an
	// identity change before it was sent.
	ErrDiscarded = errors.New("pending write discarded")

	// ErrStopped is returned once Run has exited.
	ErrStopped = errors.New("engine stopped")

	// ErrMisconfigured marks subscription failures that move the engine to
	// PhaseError. It is the same sentinel sources use.
	ErrMisconfigured = remote.ErrMisconfigured
)

// SyncError describes a failure the engine recovered from.
type SyncError struct {
	// Kind is ErrSubscription, ErrWrite, ErrCache or ErrNoIdentity.
	Kind error

	// UserID is the user the failure belongs to, if any.
	UserID string

	// Key is the field involved, for write failures.
	Key state.Key

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	var where string
	switch {
	case e.UserID != "" && e.Key != "":
		where = fmt.Sprintf(" (user=%s, key=%s)", e.UserID, e.Key)
	case e.UserID != "":
		where = fmt.Sprintf(" (user=%s)", e.UserID)
	case e.Key != "":
		where = fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Err == nil {
		return e.Kind.Error() + where
	}
	return fmt.Sprintf("%s%s: %v", e.Kind, where, e.Err)
}

// Unwrap returns the cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches the error's kind.
func (e *SyncError) Is(target error) bool {
	return target == e.Kind
}

// KindName returns a short label for metrics and logs.
func (e *SyncError) KindName() string {
	return kindName(e.Kind)
}

func kindName(kind error) string {
	switch kind {
	case ErrSubscription:
		return "subscription"
	case ErrWrite:
		return "write"
	case ErrCache:
		return "cache"
	case ErrNoIdentity:
		return "no_identity"
	default:
		return "unknown"
	}
}

// IsWriteError reports whether err is a failed write.
func IsWriteError(err error) bool {
	return errors.Is(err, ErrWrite)
}

// IsSubscriptionError reports whether err is a stream failure.
func IsSubscriptionError(err error) bool {
	return errors.Is(err, ErrSubscription)
}
