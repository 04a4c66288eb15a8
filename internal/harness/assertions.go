package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/state"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []engine.Record
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, r := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", r.Seq, FormatRecord(r))
		}
	}
	return buf.String()
}

// FormatRecord renders one record as space separated op and fields.
func FormatRecord(r engine.Record) string {
	parts := []string{r.Op}
	if r.User != "" {
		parts = append(parts, "user="+r.User)
	}
	if r.Key != "" {
		parts = append(parts, "key="+string(r.Key))
	}
	if r.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%t", *r.Value))
	}
	if r.WriteID != "" {
		parts = append(parts, "write="+r.WriteID)
	}
	if r.Phase != "" {
		parts = append(parts, "phase="+r.Phase)
	}
	if r.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%q", r.Error))
	}
	return strings.Join(parts, " ")
}

func matches(r engine.Record, a Assertion) bool {
	if r.Op != a.Op {
		return false
	}
	if a.Key != "" && string(r.Key) != a.Key {
		return false
	}
	if a.User != "" && r.User != a.User {
		return false
	}
	return true
}

// assertTraceContains checks that some record matches op, key and user.
func assertTraceContains(trace []engine.Record, a Assertion) error {
	for _, r := range trace {
		if matches(r, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s (key=%q user=%q)", a.Op, a.Key, a.User),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of ops are in order.
// Other records may appear in between.
func assertTraceOrder(trace []engine.Record, a Assertion) error {
	positions := make(map[string]int)
	for i, r := range trace {
		if _, seen := positions[r.Op]; !seen {
			positions[r.Op] = i + 1
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count records match.
func assertTraceCount(trace []engine.Record, a Assertion) error {
	count := 0
	for _, r := range trace {
		if matches(r, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s (key=%q)", a.Count, a.Op, a.Key),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the cached entry of a.User.
func assertFinalState(ctx context.Context, c cache.Cache, a Assertion) error {
	e, ok, err := c.Get(ctx, a.User)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("cache entry for %s", a.User),
			Actual:   fmt.Sprintf("cache error: %v", err),
		}
	}
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("cache entry for %s", a.User),
			Actual:   "no entry",
		}
	}

	for _, name := range sortedKeys(a.Expect) {
		k, err := state.ParseKey(name)
		if err != nil {
			return err
		}
		if got := e.Bool(k); got != a.Expect[name] {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %t", a.User, k, a.Expect[name]),
				Actual:   fmt.Sprintf("%s.%s = %t", a.User, k, got),
			}
		}
	}
	return nil
}

// AssertionContext gives final_state assertions access to the cache.
type AssertionContext struct {
	Cache cache.Cache
	Ctx   context.Context
}

// EvaluateAssertions checks every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	trace := result.trace()

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, a)
		case AssertTraceCount:
			err = assertTraceCount(trace, a)
		case AssertFinalState:
			if actx == nil || actx.Cache == nil {
				err = errors.Newf("assertion[%d]: final_state requires a cache", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Cache, a)
			}
		default:
			err = errors.Newf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
