package harness

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/roach88/homesync/internal/engine"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }

func TestScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err, f)

		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestRun_MinimalScenario(t *testing.T) {
	s := &Scenario{
		Name:        "minimal",
		Description: "Sign in and wait for the first snapshot",
		Steps: []Step{
			{Login: strPtr("alice")},
			{Expect: &Expect{Phase: "synced", User: strPtr("alice"), Connected: boolPtr(true)}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.Equal(t, engine.PhaseSynced, result.Final.Phase)

	ops := make([]string, len(result.Trace))
	for i, r := range result.Trace {
		ops[i] = r.Op
	}
	assert.Equal(t, []string{"identity", "phase", "snapshot", "phase"}, ops)
}

func TestRun_FailedExpectationIsReported(t *testing.T) {
	s := &Scenario{
		Name:        "wrong",
		Description: "Expects a value that never appears",
		Steps: []Step{
			{Login: strPtr("alice")},
			{Expect: &Expect{Fields: map[string]bool{"lamp": true}, Writes: intPtr(3)}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "steps[1].expect: lamp = false, expected true", result.Errors[0])
	assert.Equal(t, "steps[1].expect: writes = 0, expected 3", result.Errors[1])
}

func TestRun_UnknownResultName(t *testing.T) {
	s := &Scenario{
		Name:        "unnamed",
		Description: "Checks a result that was never named",
		Steps: []Step{
			{Login: strPtr("alice")},
			{Update: &Change{Key: "lamp", Value: true}},
			{Expect: &Expect{Results: map[string]string{"lamp": ResultPending}}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `result "lamp" was never recorded`)
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	s := &Scenario{
		Name:        "no_send",
		Description: "Nothing is sent before the window passes",
		Steps: []Step{
			{Login: strPtr("alice")},
			{Update: &Change{Key: "lamp", Value: true}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceContains, Op: engine.OpSend},
			{Type: AssertFinalState, User: "alice", Expect: map[string]bool{"lamp": true}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "trace_contains")
}

func TestRun_CustomDebounce(t *testing.T) {
	s := &Scenario{
		Name:        "slow",
		Description: "A longer window holds the write back",
		Debounce:    Duration(500_000_000),
		Steps: []Step{
			{Login: strPtr("alice")},
			{Update: &Change{Key: "door", Value: true}},
			{Advance: durPtr(Duration(100_000_000))},
			{Expect: &Expect{Writes: intPtr(0), Pending: &[]string{"door"}}},
			{Advance: durPtr(Duration(400_000_000))},
			{Expect: &Expect{Writes: intPtr(1), Pending: &[]string{}}},
		},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_WithLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := &Scenario{
		Name:        "logged",
		Description: "Engine logs go to the given logger",
		Steps:       []Step{{Login: strPtr("alice")}},
	}

	_, err := Run(context.Background(), s, WithLogger(zap.New(core).Sugar()))
	require.NoError(t, err)
	assert.NotZero(t, logs.FilterMessage("Identity changed").Len())
}

func TestFormatTrace(t *testing.T) {
	r := NewResult()
	r.observe(engine.Record{Seq: 4, Op: engine.OpSend, User: "alice", Key: "lamp", Value: boolPtr(true), WriteID: "write-1"})
	r.observe(engine.Record{Seq: 9, Op: engine.OpStreamError, User: "alice", Error: "socket reset"})
	r.Final = engine.View{Phase: engine.PhaseDisconnected, UserID: "alice", Pending: nil, Error: "boom"}

	want := "# demo\n" +
		"send user=alice key=lamp value=true write=write-1\n" +
		"stream_error user=alice error=\"socket reset\"\n" +
		"final phase=disconnected user=\"alice\" connected=false loading=false error=\"boom\"\n"
	assert.Equal(t, want, string(FormatTrace("demo", r)))
}

func TestRunSuite(t *testing.T) {
	res, err := RunSuite(context.Background(), "testdata/scenarios")
	require.NoError(t, err)

	assert.Equal(t, res.Total, res.Passed, "failures: %+v", res.Failures)
	assert.Zero(t, res.Failed)
}

func TestRunSuite_CountsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	good := "name: good\ndescription: d\nsteps:\n  - login: alice\n  - expect: {phase: synced}\n"
	bad := "name: bad\nsteps: []\n"
	failing := "name: failing\ndescription: d\nsteps:\n  - expect: {phase: synced}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_good.yaml"), []byte(good), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_bad.yml"), []byte(bad), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c_failing.yaml"), []byte(failing), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	res, err := RunSuite(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "b_bad.yml", res.Failures[0].Scenario)
	assert.Equal(t, "failing", res.Failures[1].Scenario)
	assert.Contains(t, res.Failures[1].Errors[0], "phase = uninitialized, expected synced")
}

func TestRunSuite_EmptyDir(t *testing.T) {
	_, err := RunSuite(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios found")
}

func TestFindScenarios_SingleFile(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios/defaults.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"testdata/scenarios/defaults.yaml"}, files)
}

func durPtr(d Duration) *Duration { return &d }
