package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/harness"
	"github.com/roach88/homesync/internal/logger"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // overrides the golden directory
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated", "missing" or "mismatch"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run sync scenarios against golden traces",
		Long: `Run scenario files against the sync engine with a scripted remote and
a mock clock.

Each scenario's expectations and assertions must hold. When a golden
trace exists it must match too. Golden files live in a "golden"
directory next to the scenarios directory, so testdata/scenarios/x.yaml
is compared with testdata/golden/x.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  homesync test ./testdata/scenarios
  homesync test ./testdata/scenarios --filter "identity_*"
  homesync test ./testdata/scenarios --update
  homesync test ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "directory holding golden traces")

	return cmd
}

func runTests(opts *TestOptions, scenariosPath string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosPath); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", scenariosPath))
	}

	files, err := findScenarioFiles(scenariosPath, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "find scenarios", err)
	}

	out := opts.formatter(cmd)
	if len(files) == 0 {
		if opts.Format == "json" {
			return out.Success(TestResult{Scenarios: []ScenarioResult{}})
		}
		return out.Success("No scenarios found.")
	}

	hopts, err := harnessOptions(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, f := range files {
		sr := runScenario(opts, f, hopts, cmd)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(out, result)
	}
	return outputTestText(cmd, result)
}

// harnessOptions routes engine logs to stderr in verbose mode.
func harnessOptions(opts *RootOptions, cmd *cobra.Command) ([]harness.Option, error) {
	if !opts.Verbose {
		return nil, nil
	}
	log, err := logger.New(logger.Options{Verbose: true, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create logger", err)
	}
	return []harness.Option{harness.WithLogger(log)}, nil
}

// findScenarioFiles lists scenario files under path whose base name
// matches filter.
func findScenarioFiles(path, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, errors.Wrapf(err, "invalid filter pattern %q", filter)
		}
	}
	all, err := harness.FindScenarios(path)
	if err != nil {
		return nil, err
	}
	if filter == "" {
		return all, nil
	}
	var files []string
	for _, f := range all {
		base := filepath.Base(f)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if ok, _ := filepath.Match(filter, name); ok {
			files = append(files, f)
		}
	}
	return files, nil
}

func runScenario(opts *TestOptions, file string, hopts []harness.Option, cmd *cobra.Command) ScenarioResult {
	w := cmd.OutOrStdout()
	text := opts.Format != "json"

	fail := func(name string, golden string, errs ...string) ScenarioResult {
		if text {
			fmt.Fprintf(w, "✗ %s\n", name)
			for _, e := range errs {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
		return ScenarioResult{Name: name, Pass: false, Golden: golden, Errors: errs}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail(filepath.Base(file), "", fmt.Sprintf("load error: %v", err))
	}

	result, err := harness.Run(commandContext(cmd), scenario, hopts...)
	if err != nil {
		return fail(scenario.Name, "", fmt.Sprintf("execution error: %v", err))
	}

	trace := harness.FormatTrace(scenario.Name, result)
	goldenPath := goldenFilePath(opts.GoldenDir, file, scenario.Name)

	var golden string
	switch {
	case opts.Update:
		if err := writeGolden(goldenPath, trace); err != nil {
			return fail(scenario.Name, "", fmt.Sprintf("golden update error: %v", err))
		}
		golden = "updated"
	default:
		want, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			golden = "missing"
		case err != nil:
			return fail(scenario.Name, "", fmt.Sprintf("golden read error: %v", err))
		case !bytes.Equal(want, trace):
			errs := append([]string{"trace does not match golden file (run with --update to regenerate)"}, result.Errors...)
			return fail(scenario.Name, "mismatch", errs...)
		default:
			golden = "match"
		}
	}

	if !result.Pass {
		return fail(scenario.Name, golden, result.Errors...)
	}
	if text {
		switch golden {
		case "updated":
			fmt.Fprintf(w, "✓ %s (golden updated)\n", scenario.Name)
		case "missing":
			fmt.Fprintf(w, "✓ %s (no golden file)\n", scenario.Name)
		default:
			fmt.Fprintf(w, "✓ %s\n", scenario.Name)
		}
	}
	return ScenarioResult{Name: scenario.Name, Pass: true, Golden: golden}
}

// goldenFilePath returns <dir>/<name>.golden, where dir defaults to the
// "golden" sibling of the scenario file's directory.
func goldenFilePath(dir, scenarioFile, name string) string {
	if dir == "" {
		dir = filepath.Join(filepath.Dir(filepath.Dir(scenarioFile)), "golden")
	}
	return filepath.Join(dir, name+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create golden directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write golden file")
	}
	return nil
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(out *OutputFormatter, result TestResult) error {
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d scenario(s) failed", result.Failed)
		if err := out.Error(CodeTestFailed, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return out.Success(result)
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
