package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

func (e *Engine) handleStream(ctx context.Context, rev remote.Event, ok bool) {
	defer e.processed.Add(1)

	if !ok {
		// The source closed the stream on its own. There is no automatic
		// resubscribe; the next identity change opens a new one.
		e.detachStream()
		e.streamFailed(errors.Wrap(remote.ErrStreamClosed, "stream ended"))
		return
	}
	if rev.Err != nil {
		e.streamFailed(rev.Err)
		return
	}
	if rev.Snapshot != nil {
		e.applySnapshot(ctx, rev.Snapshot)
	}
}

// applySnapshot merges a remote push. Every field it carries wins over
// both the displayed and the confirmed value, including values still
// waiting to be sent.
func (e *Engine) applySnapshot(ctx context.Context, snap *state.Snapshot) {
	e.st.entry = snap.Apply(e.st.entry)
	e.st.confirmed = snap.Apply(e.st.confirmed)
	e.putCache(ctx)

	e.st.loading = false
	e.setConnected(true)
	e.clearError(ErrSubscription)

	e.metrics.Snapshot()
	e.record(Record{Op: OpSnapshot, User: e.st.user})
	e.log.Debugw("Snapshot applied", "user", e.st.user, "fields", len(snap.Bools))
	e.publish()
}

func (e *Engine) streamFailed(cause error) {
	err := &SyncError{Kind: ErrSubscription, UserID: e.st.user, Err: cause}

	e.st.loading = false
	if errors.Is(cause, ErrMisconfigured) {
		e.st.misconfigured = true
	}
	e.setConnected(false)
	e.setError(ErrSubscription, err)

	e.metrics.Error(kindName(ErrSubscription))
	e.record(Record{Op: OpStreamError, User: e.st.user, Error: cause.Error()})
	e.log.Warnw("Subscription error",
		"user", e.st.user,
		"misconfigured", e.st.misconfigured,
		"error", cause,
	)
	e.publishError(err)
	e.publish()
}

func (e *Engine) attachStream(s remote.Stream) {
	e.st.stream = s
	e.st.events = s.Events()
	e.streamCh.Store(&streamRef{ch: e.st.events})
}

func (e *Engine) detachStream() {
	if e.st.stream != nil {
		if err := e.st.stream.Close(); err != nil {
			e.log.Debugw("Closing stream", "user", e.st.user, "error", err)
		}
	}
	e.st.stream = nil
	e.st.events = nil
	e.streamCh.Store(nil)
}
