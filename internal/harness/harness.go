package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// settleTimeout bounds each wait for the engine to go idle.
const settleTimeout = 5 * time.Second

// Harness holds the collaborators of one scenario run.
type Harness struct {
	engine  *engine.Engine
	node    *remote.Node
	paths   remote.PathMap
	cache   *cache.Store
	clock   *clock.Mock
	log     *zap.SugaredLogger
	results map[string]*engine.Result
	release func()
}

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger passed to the engine.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Harness) { h.log = l }
}

// Run executes a scenario against a fresh engine and returns its trace.
//
// Each run gets its own in-memory cache, remote node and mock clock
// starting at the Unix epoch. Failed expectations and assertions are
// reported in the Result; the error is only for runs that could not
// execute.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := cache.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "create in-memory cache")
	}
	defer st.Close()

	paths, err := remote.NewPathMap(scenario.Devices)
	if err != nil {
		return nil, errors.Wrap(err, "devices")
	}

	h := &Harness{
		node:    remote.NewNode(),
		paths:   paths,
		cache:   st,
		clock:   clock.NewMock(),
		log:     zap.NewNop().Sugar(),
		results: make(map[string]*engine.Result),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.preload(ctx, scenario); err != nil {
		return nil, err
	}

	window := engine.DefaultDebounce
	if scenario.Debounce > 0 {
		window = time.Duration(scenario.Debounce)
	}

	result := NewResult()
	h.engine = engine.New(
		remote.NewNodeSource(h.node, paths, remote.WithNodeSourceLogger(h.log)),
		st,
		engine.WithClock(h.clock),
		engine.WithDebounce(window),
		engine.WithIDGenerator(engine.NewCountingGenerator("write")),
		engine.WithObserver(result.observe),
		engine.WithLogger(h.log),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()
	defer func() {
		if h.release != nil {
			h.release()
		}
		cancel()
		<-done
	}()

	for i, step := range scenario.Steps {
		if err := h.step(ctx, i, step, result); err != nil {
			return nil, errors.Wrapf(err, "steps[%d]", i)
		}
	}

	result.Final = h.engine.View()
	actx := &AssertionContext{Cache: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// preload seeds the remote node and the cache.
func (h *Harness) preload(ctx context.Context, s *Scenario) error {
	for _, user := range sortedKeys(s.Seed) {
		h.node.Seed(user, s.Seed[user])
	}
	for _, user := range sortedKeys(s.Cache) {
		e := state.Default()
		for name, v := range s.Cache[user] {
			k, err := state.ParseKey(name)
			if err != nil {
				return errors.Wrapf(err, "cache[%s]", user)
			}
			e.SetBool(k, v)
		}
		if err := h.cache.Put(ctx, user, e); err != nil {
			return errors.Wrapf(err, "preload cache for %s", user)
		}
	}
	return nil
}

func (h *Harness) step(ctx context.Context, i int, st Step, result *Result) error {
	switch {
	case st.Login != nil:
		if err := h.engine.SetIdentity(*st.Login); err != nil {
			return err
		}
	case st.Logout:
		if err := h.engine.Logout(); err != nil {
			return err
		}
	case st.Update != nil:
		r, err := h.engine.UpdateDevice(st.Update.Key, st.Update.Value)
		h.keep(st.Update.As, r, err, i)
	case st.Alert != nil:
		r, err := h.engine.UpdateSensorAlert(st.Alert.Key, st.Alert.Value)
		h.keep(st.Alert.As, r, err, i)
	case st.Advance != nil:
		h.clock.Add(time.Duration(*st.Advance))
	case st.RemoteSet != nil:
		user := st.RemoteSet.User
		if user == "" {
			user = h.engine.View().UserID
		}
		h.node.Set(user, st.RemoteSet.Path, st.RemoteSet.Value)
	case st.FailWrites != nil:
		var err error
		if *st.FailWrites != "" {
			err = errors.New(*st.FailWrites)
		}
		h.node.FailWrites(err)
	case st.Interrupt != nil:
		var err error
		if *st.Interrupt != "" {
			err = errors.New(*st.Interrupt)
		}
		h.node.Interrupt(err)
	case st.Online != nil:
		h.node.SetOnline(*st.Online)
	case st.Hold:
		if h.release == nil {
			h.release = h.node.HoldWrites()
		}
	case st.Release:
		if h.release != nil {
			h.release()
			h.release = nil
		}
	case st.Expect != nil:
		if err := h.settle(ctx); err != nil {
			return err
		}
		for _, msg := range h.check(st.Expect) {
			result.AddError(fmt.Sprintf("steps[%d].expect: %s", i, msg))
		}
		return nil
	}
	return h.settle(ctx)
}

func (h *Harness) keep(name string, r *engine.Result, err error, i int) {
	if err != nil {
		// Rejections are visible in the trace; expectations decide
		// whether they were wanted.
		h.log.Debugw("Update rejected", "step", i, "error", err)
		return
	}
	if name != "" {
		h.results[name] = r
	}
}

func (h *Harness) settle(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if h.release != nil {
		return h.engine.SettleQueued(sctx)
	}
	return h.engine.Settle(sctx)
}

// check compares the current view and remote with want.
func (h *Harness) check(want *Expect) []string {
	v := h.engine.View()
	var out []string
	fail := func(format string, args ...any) {
		out = append(out, fmt.Sprintf(format, args...))
	}

	if want.Phase != "" && v.Phase.String() != want.Phase {
		fail("phase = %s, expected %s", v.Phase, want.Phase)
	}
	if want.User != nil && v.UserID != *want.User {
		fail("user = %q, expected %q", v.UserID, *want.User)
	}
	if want.Connected != nil && v.Connected != *want.Connected {
		fail("connected = %t, expected %t", v.Connected, *want.Connected)
	}
	if want.Loading != nil && v.Loading != *want.Loading {
		fail("loading = %t, expected %t", v.Loading, *want.Loading)
	}
	if want.Error != nil && v.Error != *want.Error {
		fail("error = %q, expected %q", v.Error, *want.Error)
	}
	if want.ErrorContains != "" && !strings.Contains(v.Error, want.ErrorContains) {
		fail("error = %q, expected it to contain %q", v.Error, want.ErrorContains)
	}

	entry := v.Entry()
	for _, name := range sortedKeys(want.Fields) {
		k, _ := state.ParseKey(name)
		if got := entry.Bool(k); got != want.Fields[name] {
			fail("%s = %t, expected %t", k, got, want.Fields[name])
		}
	}
	if want.Temperature != nil && v.Sensor.Temperature != *want.Temperature {
		fail("temperature = %g, expected %g", v.Sensor.Temperature, *want.Temperature)
	}
	if want.Humidity != nil && v.Sensor.Humidity != *want.Humidity {
		fail("humidity = %g, expected %g", v.Sensor.Humidity, *want.Humidity)
	}
	if want.Pending != nil {
		got := make([]string, 0, len(v.Pending))
		for _, k := range v.Pending {
			got = append(got, string(k))
		}
		exp := slices.Clone(*want.Pending)
		sort.Strings(exp)
		if !slices.Equal(got, exp) {
			fail("pending = %v, expected %v", got, exp)
		}
	}

	writes, stamps := h.countWrites()
	if want.Writes != nil && writes != *want.Writes {
		fail("writes = %d, expected %d", writes, *want.Writes)
	}
	if want.Stamps != nil && stamps != *want.Stamps {
		fail("stamps = %d, expected %d", stamps, *want.Stamps)
	}

	for _, name := range sortedKeys(want.Results) {
		r, ok := h.results[name]
		if !ok {
			fail("result %q was never recorded", name)
			continue
		}
		if got := resultState(r); got != want.Results[name] {
			fail("result %q = %s, expected %s", name, got, want.Results[name])
		}
	}

	errs := h.drainErrors()
	if want.Errors != nil && errs != *want.Errors {
		fail("errors = %d, expected %d", errs, *want.Errors)
	}
	return out
}

// countWrites splits the remote write log into field writes and
// lastUpdated stamps.
func (h *Harness) countWrites() (writes, stamps int) {
	for _, w := range h.node.Writes() {
		if w.Path == remote.PathLastUpdated {
			stamps++
		} else {
			writes++
		}
	}
	return writes, stamps
}

func (h *Harness) drainErrors() int {
	n := 0
	for {
		select {
		case <-h.engine.Errors():
			n++
		default:
			return n
		}
	}
}

func resultState(r *engine.Result) string {
	select {
	case <-r.Done():
	default:
		return ResultPending
	}
	err := r.Err()
	switch {
	case err == nil && r.Coalesced():
		return ResultCoalesced
	case err == nil:
		return ResultOK
	case errors.Is(err, engine.ErrDiscarded):
		return ResultDiscarded
	case errors.Is(err, engine.ErrStopped):
		return ResultStopped
	default:
		return ResultFailed
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
