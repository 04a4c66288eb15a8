package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Ops []string // optional filter on record ops
}

// TraceResult holds the trace of one scenario run.
type TraceResult struct {
	Scenario string          `json:"scenario"`
	Pass     bool            `json:"pass"`
	Trace    []engine.Record `json:"trace"`
	Final    engine.View     `json:"final"`
	Errors   []string        `json:"errors,omitempty"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats counts records by kind.
type TraceStats struct {
	Records   int `json:"records"`
	Updates   int `json:"updates"`
	Writes    int `json:"writes"`
	Failures  int `json:"failures"`
	Snapshots int `json:"snapshots"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario-file>",
		Short: "Print the engine trace of a scenario",
		Long: `Run one scenario and print every step the engine took, in order:
identity changes, updates, writes and their outcomes, snapshots and
phase changes, followed by the final view.

The text output is the golden file format used by homesync test.

Examples:
  homesync trace ./testdata/scenarios/coalescing.yaml
  homesync trace ./testdata/scenarios/revert_on_failure.yaml --op send --op fail
  homesync trace ./testdata/scenarios/coalescing.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Ops, "op", nil, "only show records with these ops")

	return cmd
}

func runTrace(opts *TraceOptions, file string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}
	hopts, err := harnessOptions(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	result, err := harness.Run(commandContext(cmd), scenario, hopts...)
	if err != nil {
		return WrapExitError(ExitFailure, "run scenario", err)
	}

	records := filterRecords(result.Trace, opts.Ops)
	out := opts.formatter(cmd)

	if opts.Format == "json" {
		if err := out.Success(TraceResult{
			Scenario: scenario.Name,
			Pass:     result.Pass,
			Trace:    records,
			Final:    result.Final,
			Errors:   result.Errors,
			Stats:    traceStats(result.Trace),
		}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if len(opts.Ops) == 0 {
			fmt.Fprint(w, string(harness.FormatTrace(scenario.Name, result)))
		} else {
			fmt.Fprintf(w, "# %s (op %s)\n", scenario.Name, strings.Join(opts.Ops, ","))
			for _, r := range records {
				fmt.Fprintln(w, harness.FormatRecord(r))
			}
		}
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", e)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func filterRecords(trace []engine.Record, ops []string) []engine.Record {
	if len(ops) == 0 {
		return trace
	}
	out := []engine.Record{}
	for _, r := range trace {
		if slices.Contains(ops, r.Op) {
			out = append(out, r)
		}
	}
	return out
}

func traceStats(trace []engine.Record) TraceStats {
	s := TraceStats{Records: len(trace)}
	for _, r := range trace {
		switch r.Op {
		case engine.OpUpdate:
			s.Updates++
		case engine.OpSend:
			s.Writes++
		case engine.OpFail:
			s.Failures++
		case engine.OpSnapshot:
			s.Snapshots++
		}
	}
	return s
}
