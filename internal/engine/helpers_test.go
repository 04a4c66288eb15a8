package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

const testWindow = 100 * time.Millisecond

type fixture struct {
	t      *testing.T
	node   *remote.Node
	cache  *cache.Memory
	clock  *clock.Mock
	eng    *Engine
	done   chan error
	cancel context.CancelFunc

	mu      sync.Mutex
	records []Record
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, opts...)
}

// newFixtureWith lets wrap replace the source handed to the engine.
func newFixtureWith(t *testing.T, wrap func(*remote.NodeSource) remote.Source, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		node:  remote.NewNode(),
		cache: cache.NewMemory(),
		clock: clock.NewMock(),
		done:  make(chan error, 1),
	}
	base := []Option{
		WithClock(f.clock),
		WithDebounce(testWindow),
		WithIDGenerator(NewCountingGenerator("w")),
		WithObserver(f.observe),
	}
	var src remote.Source = remote.NewNodeSource(f.node, remote.DefaultPathMap())
	if wrap != nil {
		src = wrap(src.(*remote.NodeSource))
	}
	f.eng = New(src, f.cache, append(base, opts...)...)
	f.start()
	return f
}

func (f *fixture) start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() { f.done <- f.eng.Run(ctx) }()
	f.t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			f.t.Error("engine did not stop")
		}
	})
}

func (f *fixture) observe(r Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

func (f *fixture) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Op)
	}
	return out
}

func (f *fixture) countOps(op string) int {
	n := 0
	for _, o := range f.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fixture) settle() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(f.t, f.eng.Settle(ctx))
}

func (f *fixture) settleQueued() {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(f.t, f.eng.SettleQueued(ctx))
}

func (f *fixture) login(user string) {
	f.t.Helper()
	require.NoError(f.t, f.eng.SetIdentity(user))
	f.settle()
}

func (f *fixture) advance(d time.Duration) {
	f.t.Helper()
	f.clock.Add(d)
	f.settle()
}

func (f *fixture) update(key string, value bool) *Result {
	f.t.Helper()
	r, err := f.eng.UpdateDevice(key, value)
	require.NoError(f.t, err)
	return r
}

// fieldWrites returns the logged writes to path for user.
func (f *fixture) fieldWrites(user, path string) []remote.WriteRecord {
	var out []remote.WriteRecord
	for _, w := range f.node.Writes() {
		if w.User == user && w.Path == path {
			out = append(out, w)
		}
	}
	return out
}

func (f *fixture) cached(user string) state.Entry {
	f.t.Helper()
	e, ok, err := f.cache.Get(context.Background(), user)
	require.NoError(f.t, err)
	require.True(f.t, ok, "no cache entry for %s", user)
	return e
}

func waitResult(t *testing.T, r *Result) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "result never resolved")
	return err
}

func drainErrors(e *Engine) []error {
	var out []error
	for {
		select {
		case err := <-e.Errors():
			out = append(out, err)
		default:
			return out
		}
	}
}
