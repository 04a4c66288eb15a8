package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/homesync/internal/config"
	"github.com/roach88/homesync/internal/harness"
)

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Config    string            `json:"config,omitempty"`
	Scenarios int               `json:"scenarios"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenarios...]",
		Short: "Check the config and scenario files",
		Long: `Check the configuration and, when given, scenario files or
directories, without connecting to anything or running the engine.

Config checks cover durations, the remote URL, the cache path and the
device path map. Scenario checks are the same ones homesync test applies
before a run.

Examples:
  homesync validate
  homesync validate --config ./homesync.toml ./testdata/scenarios`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	res := ValidationResult{Valid: true}

	cfgFile := opts.ConfigPath
	if cfg, err := config.Load(opts.ConfigPath); err != nil {
		res.add(cfgFile, err)
	} else {
		if cfg.File != "" {
			cfgFile = cfg.File
		}
		res.Config = cfgFile
		if err := cfg.Validate(); err != nil {
			res.add(cfgFile, err)
		}
		out.VerboseLog("Config: %s", describeConfigSource(cfgFile))
	}

	for _, p := range paths {
		files, err := harness.FindScenarios(p)
		if err != nil {
			res.add(p, err)
			continue
		}
		for _, f := range files {
			res.Scenarios++
			out.VerboseLog("Validating scenario: %s", f)
			if _, err := harness.LoadScenario(f); err != nil {
				res.add(f, err)
			}
		}
	}

	if !res.Valid {
		return outputValidationErrors(out, res)
	}
	if opts.Format == "json" {
		return out.Success(res)
	}
	msg := "✓ Config is valid"
	if res.Scenarios > 0 {
		msg = fmt.Sprintf("✓ Config and %d scenario(s) are valid", res.Scenarios)
	}
	return out.Success(msg)
}

func (r *ValidationResult) add(file string, err error) {
	if file == "" {
		file = "(defaults)"
	}
	r.Valid = false
	r.Errors = append(r.Errors, ValidationIssue{File: file, Message: err.Error()})
}

func describeConfigSource(file string) string {
	if file == "" {
		return "built-in defaults"
	}
	return file
}

func outputValidationErrors(out *OutputFormatter, res ValidationResult) error {
	msg := fmt.Sprintf("%d validation error(s)", len(res.Errors))
	if out.Format == "json" {
		if err := out.Error(CodeValidation, msg, res); err != nil {
			return err
		}
	} else {
		for _, e := range res.Errors {
			fmt.Fprintf(out.Writer, "✗ %s: %s\n", e.File, e.Message)
		}
	}
	return NewExitError(ExitFailure, msg)
}
