// Package debounce coalesces bursts of writes to the same key.
//
// A Scheduler keeps one deadline per key. Scheduling a key that already has
// a pending write replaces the value and pushes the deadline out by the full
// window, so only the newest value of a burst is ever delivered.
//
// When a deadline passes the scheduler does not hand the write over itself.
// It calls the fire callback with the key and a token; the owner then calls
// Take with that token. A token that no longer matches (the key was
// rescheduled or the scheduler was reset in between) yields nothing, which
// makes late timer callbacks harmless.
package debounce

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/roach88/homesync/internal/state"
)

// FireFunc is called from a timer goroutine when a key's deadline passes.
type FireFunc func(key state.Key, token uint64)

// Scheduler holds pending writes keyed by field.
type Scheduler struct {
	clock  clock.Clock
	window time.Duration
	fire   FireFunc

	mu      sync.Mutex
	pending map[state.Key]*slot
	seq     uint64
}

type slot struct {
	write    state.PendingWrite
	token    uint64
	deadline time.Time
	timer    *clock.Timer
}

// New returns a scheduler that waits window after the last Schedule of a
// key before calling fire. A nil clock uses the wall clock.
func New(c clock.Clock, window time.Duration, fire FireFunc) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	if window < 0 {
		window = 0
	}
	return &Scheduler{
		clock:   c,
		window:  window,
		fire:    fire,
		pending: make(map[state.Key]*slot),
	}
}

// Window returns the debounce window.
func (s *Scheduler) Window() time.Duration {
	return s.window
}

// Schedule records value as the pending write for key and restarts the
// key's deadline. It returns the token identifying this write and whether
// an earlier pending write was replaced.
func (s *Scheduler) Schedule(key state.Key, value bool) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	old, replaced := s.pending[key]
	if replaced {
		old.timer.Stop()
	}

	s.seq++
	token := s.seq
	sl := &slot{
		write:    state.PendingWrite{Key: key, Value: value, EnqueuedAt: now},
		token:    token,
		deadline: now.Add(s.window),
	}
	if replaced {
		sl.write.EnqueuedAt = old.write.EnqueuedAt
	}
	sl.timer = s.clock.AfterFunc(s.window, func() {
		if s.fire != nil {
			s.fire(key, token)
		}
	})
	s.pending[key] = sl
	return token, replaced
}

// Take removes and returns the pending write for key if token still
// identifies it.
func (s *Scheduler) Take(key state.Key, token uint64) (state.PendingWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.pending[key]
	if !ok || sl.token != token {
		return state.PendingWrite{}, false
	}
	delete(s.pending, key)
	return sl.write, true
}

// Peek returns the pending write for key without removing it.
func (s *Scheduler) Peek(key state.Key) (state.PendingWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.pending[key]
	if !ok {
		return state.PendingWrite{}, false
	}
	return sl.write, true
}

// Reset cancels every pending write and returns them ordered by key.
func (s *Scheduler) Reset() []state.PendingWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]state.PendingWrite, 0, len(s.pending))
	for k, sl := range s.pending {
		sl.timer.Stop()
		out = append(out, sl.write)
		delete(s.pending, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of pending writes.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// HasDue reports whether any pending write has reached its deadline but
// has not been taken yet.
func (s *Scheduler) HasDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, sl := range s.pending {
		if !sl.deadline.After(now) {
			return true
		}
	}
	return false
}
