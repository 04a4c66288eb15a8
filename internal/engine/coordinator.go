package engine

import (
	"context"
	"time"

	"github.com/roach88/homesync/internal/metrics"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// UpdateDevice sets a device switch (lamp, door, window, motion).
//
// The change is visible in View when the call returns. The remote write
// goes out once the key has been quiet for the debounce window; the
// returned Result resolves with its outcome.
func (e *Engine) UpdateDevice(key string, value bool) (*Result, error) {
	k, err := state.ParseDeviceKey(key)
	if err != nil {
		return nil, err
	}
	return e.update(k, value)
}

// UpdateSensorAlert sets an alert switch (temperatureAlert, humidityAlert,
// motionAlert, doorAlert, windowAlert). It behaves like UpdateDevice.
func (e *Engine) UpdateSensorAlert(key string, value bool) (*Result, error) {
	k, err := state.ParseAlertKey(key)
	if err != nil {
		return nil, err
	}
	return e.update(k, value)
}

func (e *Engine) update(key state.Key, value bool) (*Result, error) {
	r, err := e.call(event{kind: evUpdate, key: key, value: value})
	if err != nil {
		return nil, err
	}
	return r.result, r.err
}

func (e *Engine) handleUpdate(ctx context.Context, ev event) {
	if e.st.user == "" {
		err := &SyncError{Kind: ErrNoIdentity, Key: ev.key}
		e.metrics.Error(kindName(ErrNoIdentity))
		e.record(Record{Op: OpRejected, Key: ev.key, Value: boolPtr(ev.value), Error: err.Error()})
		e.log.Debugw("Update rejected", "key", ev.key, "error", err)
		ev.reply <- reply{err: err}
		return
	}

	e.st.entry.SetBool(ev.key, ev.value)
	e.st.entry.Device.LastUpdated = e.clock.Now()
	e.putCache(ctx)

	_, coalesced := e.debounce.Schedule(ev.key, ev.value)
	res := newResult(ev.key, ev.value)
	e.st.waiters[ev.key] = append(e.st.waiters[ev.key], res)

	e.metrics.Update(ev.key.Group().String(), coalesced)
	e.record(Record{Op: OpUpdate, User: e.st.user, Key: ev.key, Value: boolPtr(ev.value)})
	e.publish()

	ev.reply <- reply{result: res}
}

// onDue runs on a timer goroutine.
func (e *Engine) onDue(key state.Key, token uint64) {
	e.enqueue(event{kind: evFlush, key: key, token: token})
}

func (e *Engine) handleFlush(ctx context.Context, ev event) {
	w, ok := e.debounce.Take(ev.key, ev.token)
	if !ok {
		return
	}
	waiters := e.st.waiters[ev.key]
	delete(e.st.waiters, ev.key)

	done := event{
		kind:    evWriteDone,
		epoch:   e.st.epoch,
		user:    e.st.user,
		key:     w.Key,
		value:   w.Value,
		writeID: e.ids.Generate(),
		waiters: waiters,
	}
	e.record(Record{Op: OpSend, User: done.user, Key: done.key, Value: boolPtr(done.value), WriteID: done.writeID})
	e.log.Debugw("Sending write",
		"user", done.user,
		"key", done.key,
		"value", done.value,
		"write_id", done.writeID,
		"coalesced", len(waiters)-1,
	)

	e.inflight.Add(1)
	go e.transmit(ctx, done)
	e.publish()
}

// transmit runs the remote write off the loop and reports back.
func (e *Engine) transmit(ctx context.Context, done event) {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	done.err = e.source.Write(wctx, done.user, done.key, done.value)
	cancel()
	done.took = int64(time.Since(start))

	if !e.enqueue(done) {
		// The loop is gone; settle the callers here.
		resolveAll(done.waiters, done.writeID, e.writeError(done))
		e.inflight.Add(-1)
	}
}

func (e *Engine) writeError(ev event) error {
	if ev.err == nil {
		return nil
	}
	return &SyncError{Kind: ErrWrite, UserID: ev.user, Key: ev.key, Err: ev.err}
}

func (e *Engine) handleWriteDone(ctx context.Context, ev event) {
	defer e.inflight.Add(-1)

	err := e.writeError(ev)
	resolveAll(ev.waiters, ev.writeID, err)
	stale := ev.epoch != e.st.epoch

	if err != nil {
		e.metrics.Write(metrics.OutcomeFailed, time.Duration(ev.took))
		e.metrics.Error(kindName(ErrWrite))
		e.record(Record{Op: OpFail, User: ev.user, Key: ev.key, Value: boolPtr(ev.value), WriteID: ev.writeID, Error: ev.err.Error()})
		e.log.Warnw("Write failed",
			"user", ev.user,
			"key", ev.key,
			"write_id", ev.writeID,
			"stale", stale,
			"error", ev.err,
		)
		e.publishError(err)
		if stale {
			return
		}

		// A newer value for the key is still waiting to be sent; leave it
		// on screen and let its own write decide.
		if _, pending := e.debounce.Peek(ev.key); !pending {
			want := e.st.confirmed.Bool(ev.key)
			if e.st.entry.Bool(ev.key) != want {
				e.st.entry.SetBool(ev.key, want)
				e.metrics.Revert()
				e.record(Record{Op: OpRevert, User: ev.user, Key: ev.key, Value: boolPtr(want)})
				e.putCache(ctx)
			}
		}
		e.setConnected(false)
		e.setError(ErrWrite, err)
		e.publish()
		return
	}

	e.metrics.Write(metrics.OutcomeOK, time.Duration(ev.took))
	e.record(Record{Op: OpAck, User: ev.user, Key: ev.key, Value: boolPtr(ev.value), WriteID: ev.writeID})
	if stale {
		return
	}

	e.st.confirmed.SetBool(ev.key, ev.value)
	e.setConnected(true)
	e.clearError(ErrWrite)
	if ev.key.Group() == state.GroupDevice {
		e.stamp(ctx)
	}
	e.publish()
}

// stamp writes lastUpdated after a device change. Failures are logged only.
func (e *Engine) stamp(ctx context.Context) {
	user, epoch := e.st.user, e.st.epoch
	at := remote.FormatStamp(e.clock.Now())

	e.inflight.Add(1)
	go func() {
		wctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
		err := e.source.Write(wctx, user, remote.KeyLastUpdated, at)
		cancel()
		if !e.enqueue(event{kind: evStampDone, epoch: epoch, user: user, err: err}) {
			e.inflight.Add(-1)
		}
	}()
}

func (e *Engine) handleStampDone(ev event) {
	defer e.inflight.Add(-1)

	if ev.err != nil {
		e.record(Record{Op: OpStamp, User: ev.user, Error: ev.err.Error()})
		e.log.Warnw("lastUpdated stamp failed", "user", ev.user, "error", ev.err)
		return
	}
	e.record(Record{Op: OpStamp, User: ev.user})
}

func (e *Engine) putCache(ctx context.Context) {
	if e.st.user == "" {
		return
	}
	if err := e.cache.Put(ctx, e.st.user, e.st.entry); err != nil {
		e.cacheFailed(err)
	}
}

func (e *Engine) cacheFailed(err error) {
	serr := &SyncError{Kind: ErrCache, UserID: e.st.user, Err: err}
	e.metrics.Error(kindName(ErrCache))
	e.record(Record{Op: OpCacheError, User: e.st.user, Error: err.Error()})
	e.log.Warnw("Cache unavailable", "user", e.st.user, "error", err)
	e.publishError(serr)
}
