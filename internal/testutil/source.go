package testutil

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// RejectingSource refuses every subscription as misconfigured, the way a
// server answering 4xx does.
type RejectingSource struct {
	// Reason is the error text. Empty means "bad endpoint".
	Reason string
}

// Subscribe fails with an error marked remote.ErrMisconfigured.
func (s RejectingSource) Subscribe(context.Context, string) (remote.Stream, error) {
	reason := s.Reason
	if reason == "" {
		reason = "bad endpoint"
	}
	return nil, errors.Mark(errors.New(reason), remote.ErrMisconfigured)
}

// Write always fails.
func (RejectingSource) Write(context.Context, string, state.Key, any) error {
	return errors.Wrap(remote.ErrUnavailable, "not connected")
}

// FailKeySource wraps a Source and fails writes to one key.
type FailKeySource struct {
	remote.Source
	Key state.Key
	Err error
}

// Write fails for Key and delegates everything else.
func (s FailKeySource) Write(ctx context.Context, user string, key state.Key, value any) error {
	if key == s.Key {
		if s.Err == nil {
			return errors.Newf("write %s rejected", key)
		}
		return s.Err
	}
	return s.Source.Write(ctx, user, key, value)
}

var (
	_ remote.Source = RejectingSource{}
	_ remote.Source = FailKeySource{}
)
