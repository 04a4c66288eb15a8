package harness

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// SuiteResult summarises a directory of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure is one scenario that did not pass.
type SuiteFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// FindScenarios returns the .yaml and .yml files under path in lexical
// order. A file path is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario path %s", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// RunSuite loads and runs every scenario under path. A file that cannot be
// loaded counts as a failure rather than aborting the suite.
func RunSuite(ctx context.Context, path string, opts ...Option) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.WithHint(errors.Newf("no scenarios found in %s", path), "scenario files end in .yaml or .yml")
	}

	res := &SuiteResult{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Total++

		s, err := LoadScenario(f)
		if err != nil {
			res.fail(filepath.Base(f), f, err.Error())
			continue
		}
		r, err := Run(ctx, s, opts...)
		if err != nil {
			res.fail(s.Name, f, err.Error())
			continue
		}
		if !r.Pass {
			res.fail(s.Name, f, r.Errors...)
			continue
		}
		res.Passed++
	}
	return res, nil
}

func (r *SuiteResult) fail(name, path string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, SuiteFailure{Scenario: name, Path: path, Errors: errs})
}
