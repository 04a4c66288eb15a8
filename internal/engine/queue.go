package engine

import (
	"sync"

	"github.com/roach88/homesync/internal/state"
)

// eventKind distinguishes the inputs of the Run loop.
type eventKind int

const (
	// evIdentity switches the signed-in user.
	evIdentity eventKind = iota + 1
	// evUpdate applies an optimistic field change.
	evUpdate
	// evFlush hands a debounced write to the transport.
	evFlush
	// evWriteDone reports the outcome of a remote write.
	evWriteDone
	// evStampDone reports the outcome of a lastUpdated stamp write.
	evStampDone
)

func (k eventKind) String() string {
	switch k {
	case evIdentity:
		return "identity"
	case evUpdate:
		return "update"
	case evFlush:
		return "flush"
	case evWriteDone:
		return "write_done"
	case evStampDone:
		return "stamp_done"
	default:
		return "unknown"
	}
}

// event is one unit of work for the Run loop. Only the fields relevant to
// its kind are set.
type event struct {
	kind  eventKind
	epoch uint64

	user  string
	key   state.Key
	value bool
	token uint64

	writeID string
	waiters []*Result
	err     error
	took    int64

	reply chan reply
}

// reply answers a caller blocked on an identity or update event.
type reply struct {
	result *Result
	err    error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so timer callbacks and write goroutines never
// block on a busy loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// Clear the slot so the backing array does not pin waiters and replies.
	q.events[0] = event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Drain removes and returns every queued event.
func (q *eventQueue) Drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
