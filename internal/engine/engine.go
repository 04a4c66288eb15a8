package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/debounce"
	"github.com/roach88/homesync/internal/metrics"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// Defaults for Options left unset.
const (
	DefaultDebounce     = 100 * time.Millisecond
	DefaultWriteTimeout = 5 * time.Second
	DefaultErrorBuffer  = 16
)

// Engine is the single-writer sync engine event loop.
//
// Thread-safety model:
//   - UpdateDevice, UpdateSensorAlert, SetIdentity: safe from any goroutine;
//     they block until the Run loop has applied them
//   - View, Watch, Errors, Settle: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	source       remote.Source
	cache        cache.Cache
	clock        clock.Clock
	log          *zap.SugaredLogger
	metrics      *metrics.Metrics
	ids          IDGenerator
	observer     Observer
	window       time.Duration
	writeTimeout time.Duration
	errBuffer    int

	queue    *eventQueue
	seq      *Sequence
	debounce *debounce.Scheduler

	// st is owned by the Run loop.
	st loopState

	view      atomic.Pointer[View]
	streamCh  atomic.Pointer[streamRef]
	lastPhase Phase

	watchMu     sync.Mutex
	watchers    map[*remote.Mailbox[View]]struct{}
	watchClosed bool

	errs chan error

	outstanding atomic.Int64
	inflight    atomic.Int64
	processed   atomic.Uint64
	running     atomic.Bool
	stopped     chan struct{}
}

type loopState struct {
	user          string
	epoch         uint64
	entry         state.Entry
	confirmed     state.Entry
	loading       bool
	connected     bool
	misconfigured bool
	errKind       error
	errMsg        string
	stream        remote.Stream
	events        <-chan remote.Event
	waiters       map[state.Key][]*Result
}

type streamRef struct {
	ch <-chan remote.Event
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for debounce timers and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDebounce sets the coalescing window W.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithWriteTimeout bounds each remote write.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.writeTimeout = d }
}

// WithIDGenerator sets the generator used to name writes.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithObserver receives a Record for every step the loop takes.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option {
	return func(e *Engine) { e.errBuffer = n }
}

// New creates an engine reading from source and persisting to c. A nil
// cache keeps state in memory only.
func New(source remote.Source, c cache.Cache, opts ...Option) *Engine {
	e := &Engine{
		source:       source,
		cache:        c,
		window:       DefaultDebounce,
		writeTimeout: DefaultWriteTimeout,
		errBuffer:    DefaultErrorBuffer,
		queue:        newEventQueue(),
		seq:          NewSequence(),
		watchers:     make(map[*remote.Mailbox[View]]struct{}),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = cache.NewMemory()
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.log == nil {
		e.log = zap.NewNop().Sugar()
	}
	if e.ids == nil {
		e.ids = UUIDv7Generator{}
	}
	if e.writeTimeout <= 0 {
		e.writeTimeout = DefaultWriteTimeout
	}
	if e.errBuffer < 1 {
		e.errBuffer = 1
	}
	e.errs = make(chan error, e.errBuffer)
	e.debounce = debounce.New(e.clock, e.window, e.onDue)

	e.st = loopState{
		entry:     state.Default(),
		confirmed: state.Default(),
		waiters:   make(map[state.Key][]*Result),
	}
	e.lastPhase = PhaseUninitialized
	e.view.Store(&View{Phase: PhaseUninitialized, Device: e.st.entry.Device, Sensor: e.st.entry.Sensor})
	return e
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// Event processing never fails the loop: errors are logged, published on
// Errors and reflected in the View.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine is already running")
	}
	e.log.Infow("Engine starting", "debounce", e.window, "write_timeout", e.writeTimeout)
	defer e.shutdown()

	for {
		if e.takeStream(ctx) {
			continue
		}

		if ev, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.log.Infow("Engine stopping", "reason", "context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Stop.
			if e.queue.Len() == 0 && e.queueClosed() {
				e.log.Infow("Engine stopping", "reason", "stopped")
				return nil
			}

		case rev, ok := <-e.st.events:
			e.handleStream(ctx, rev, ok)
		}
	}
}

// Stop makes Run return once the queued events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) queueClosed() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}

// takeStream handles one waiting stream event, if any.
func (e *Engine) takeStream(ctx context.Context) bool {
	if e.st.events == nil {
		return false
	}
	select {
	case rev, ok := <-e.st.events:
		e.handleStream(ctx, rev, ok)
		return true
	default:
		return false
	}
}

func (e *Engine) process(ctx context.Context, ev event) {
	defer func() {
		e.outstanding.Add(-1)
		e.processed.Add(1)
	}()

	switch ev.kind {
	case evIdentity:
		e.handleIdentity(ctx, ev)
	case evUpdate:
		e.handleUpdate(ctx, ev)
	case evFlush:
		e.handleFlush(ctx, ev)
	case evWriteDone:
		e.handleWriteDone(ctx, ev)
	case evStampDone:
		e.handleStampDone(ev)
	default:
		e.log.Errorw("Unknown event", "kind", ev.kind)
	}
}

func (e *Engine) shutdown() {
	e.queue.Close()
	for _, ev := range e.queue.Drain() {
		e.outstanding.Add(-1)
		switch {
		case ev.reply != nil:
			ev.reply <- reply{err: ErrStopped}
		case ev.kind == evWriteDone:
			e.inflight.Add(-1)
			resolveAll(ev.waiters, ev.writeID, e.writeError(ev))
		case ev.kind == evStampDone:
			e.inflight.Add(-1)
		}
	}

	e.teardown(ErrStopped)
	close(e.stopped)

	e.watchMu.Lock()
	e.watchClosed = true
	for box := range e.watchers {
		box.Close()
		delete(e.watchers, box)
	}
	e.watchMu.Unlock()
}

// enqueue counts the event as outstanding until the loop has processed it.
func (e *Engine) enqueue(ev event) bool {
	e.outstanding.Add(1)
	if !e.queue.Enqueue(ev) {
		e.outstanding.Add(-1)
		return false
	}
	return true
}

// call enqueues ev and waits for the loop's reply.
func (e *Engine) call(ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	if !e.enqueue(ev) {
		return reply{}, ErrStopped
	}
	select {
	case r := <-ev.reply:
		return r, nil
	case <-e.stopped:
		select {
		case r := <-ev.reply:
			return r, nil
		default:
			return reply{}, ErrStopped
		}
	}
}

// View returns the latest published view.
func (e *Engine) View() View {
	return *e.view.Load()
}

// Watch returns a channel carrying the current view and then every newer
// one. Slow readers only miss intermediate views. The channel closes when
// ctx ends or the engine stops.
func (e *Engine) Watch(ctx context.Context) <-chan View {
	box := remote.NewMailbox[View]()
	box.Put(e.View())

	e.watchMu.Lock()
	if e.watchClosed {
		e.watchMu.Unlock()
		box.Close()
		return box.C()
	}
	e.watchers[box] = struct{}{}
	e.watchMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.stopped:
		}
		e.watchMu.Lock()
		delete(e.watchers, box)
		e.watchMu.Unlock()
		box.Close()
	}()
	return box.C()
}

// Errors returns the channel sync errors are published on. When nobody
// reads it the oldest errors are dropped.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

func (e *Engine) publishError(err error) {
	select {
	case e.errs <- err:
		return
	default:
	}
	select {
	case <-e.errs:
	default:
	}
	select {
	case e.errs <- err:
	default:
	}
}

// publish stores a new View built from the loop state.
func (e *Engine) publish() {
	phase := e.phase()
	if phase != e.lastPhase {
		e.record(Record{Op: OpPhase, User: e.st.user, Phase: phase.String()})
		e.log.Debugw("Phase changed", "user", e.st.user, "from", e.lastPhase, "to", phase)
		e.lastPhase = phase
	}

	v := &View{
		Seq:         e.seq.Next(),
		UserID:      e.st.user,
		Phase:       phase,
		Device:      e.st.entry.Device,
		Sensor:      e.st.entry.Sensor,
		Loading:     e.st.loading,
		Connected:   e.st.connected,
		Error:       e.st.errMsg,
		LastUpdated: e.st.entry.Device.LastUpdated,
	}
	if len(e.st.waiters) > 0 {
		v.Pending = make([]state.Key, 0, len(e.st.waiters))
		for k := range e.st.waiters {
			v.Pending = append(v.Pending, k)
		}
		sort.Slice(v.Pending, func(i, j int) bool { return v.Pending[i] < v.Pending[j] })
	}
	e.view.Store(v)

	e.watchMu.Lock()
	for box := range e.watchers {
		box.Put(*v)
	}
	e.watchMu.Unlock()
}

func (e *Engine) record(r Record) {
	if e.observer == nil {
		return
	}
	r.Seq = e.seq.Next()
	e.observer(r)
}
