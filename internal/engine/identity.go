package engine

import (
	"context"
	"strings"

	"github.com/roach88/homesync/internal/metrics"
	"github.com/roach88/homesync/internal/state"
)

// SetIdentity switches the engine to userID. An empty id signs out.
//
// Switching closes the current stream and discards pending writes; their
// Results resolve with ErrDiscarded. The new user's cached state is shown
// while the first snapshot is awaited. Setting the current id again does
// nothing.
func (e *Engine) SetIdentity(userID string) error {
	r, err := e.call(event{kind: evIdentity, user: strings.TrimSpace(userID)})
	if err != nil {
		return err
	}
	return r.err
}

// Logout is SetIdentity("").
func (e *Engine) Logout() error {
	return e.SetIdentity("")
}

func (e *Engine) handleIdentity(ctx context.Context, ev event) {
	defer func() { ev.reply <- reply{} }()

	if ev.user == e.st.user {
		return
	}
	prev := e.st.user

	e.teardown(ErrDiscarded)
	e.st = loopState{
		epoch:     e.st.epoch,
		entry:     state.Default(),
		confirmed: state.Default(),
		waiters:   make(map[state.Key][]*Result),
	}
	e.metrics.Connected(false)
	e.record(Record{Op: OpIdentity, User: ev.user})
	e.log.Infow("Identity changed", "from", prev, "to", ev.user)
	e.publish()

	if ev.user == "" {
		return
	}

	e.st.user = ev.user
	cached, ok, err := e.cache.Get(ctx, ev.user)
	switch {
	case err != nil:
		e.cacheFailed(err)
	case ok:
		e.st.entry = cached
		e.st.confirmed = cached
	}
	e.st.loading = true

	stream, err := e.source.Subscribe(ctx, ev.user)
	if err != nil {
		e.streamFailed(err)
		return
	}
	e.attachStream(stream)
	e.publish()
}

// teardown ends everything tied to the current identity.
func (e *Engine) teardown(reason error) {
	e.detachStream()

	for _, w := range e.debounce.Reset() {
		e.metrics.Write(metrics.OutcomeDiscarded, 0)
		e.record(Record{Op: OpDiscard, User: e.st.user, Key: w.Key, Value: boolPtr(w.Value)})
	}
	for key, ws := range e.st.waiters {
		resolveAll(ws, "", reason)
		delete(e.st.waiters, key)
	}
	e.st.epoch++
}
