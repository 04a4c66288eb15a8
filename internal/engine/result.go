package engine

import (
	"context"
	"sync"

	"github.com/roach88/homesync/internal/state"
)

// Result tracks one accepted update until its write settles.
//
// Updates to the same key inside one debounce window share a single remote
// write, and every Result in that group resolves with the write's outcome.
type Result struct {
	Key   state.Key
	Value bool

	once      sync.Once
	done      chan struct{}
	err       error
	writeID   string
	coalesced bool
}

func newResult(key state.Key, value bool) *Result {
	return &Result{Key: key, Value: value, done: make(chan struct{})}
}

func (r *Result) resolve(writeID string, coalesced bool, err error) {
	r.once.Do(func() {
		r.writeID = writeID
		r.coalesced = coalesced
		r.err = err
		close(r.done)
	})
}

// Done is closed once the outcome is known.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Err returns the outcome. It is nil until Done is closed.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx ends.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteID names the remote write that carried this update. It is empty
// when the update was discarded before sending.
func (r *Result) WriteID() string {
	<-r.done
	return r.writeID
}

// Coalesced reports whether a newer update for the same key was sent in
// place of this one.
func (r *Result) Coalesced() bool {
	<-r.done
	return r.coalesced
}

func resolveAll(rs []*Result, writeID string, err error) {
	for i, r := range rs {
		r.resolve(writeID, i < len(rs)-1, err)
	}
}
