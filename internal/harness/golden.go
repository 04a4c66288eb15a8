package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a run as text: one line per record in processing
// order, then the final view. Sequence numbers are left out so that adding
// a publish does not rewrite every golden file.
func FormatTrace(name string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "# %s\n", name)
	for _, r := range result.trace() {
		buf.WriteString(FormatRecord(r))
		buf.WriteByte('\n')
	}

	v := result.Final
	fmt.Fprintf(&buf, "final phase=%s user=%q connected=%t loading=%t", v.Phase, v.UserID, v.Connected, v.Loading)
	if len(v.Pending) > 0 {
		keys := make([]string, len(v.Pending))
		for i, k := range v.Pending {
			keys[i] = string(k)
		}
		fmt.Fprintf(&buf, " pending=%s", strings.Join(keys, ","))
	}
	if v.Error != "" {
		fmt.Fprintf(&buf, " error=%q", v.Error)
	}
	buf.WriteByte('\n')
	return []byte(buf.String())
}

// RunWithGolden runs scenario, fails t on unmet expectations and compares
// the trace with testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, FormatTrace(scenarioName, result))
}
