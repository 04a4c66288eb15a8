package harness

import (
	"sync"

	"github.com/roach88/homesync/internal/engine"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect step and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the engine's records in processing order.
	Trace []engine.Record `json:"trace"`

	// Errors lists failed expectations.
	Errors []string `json:"errors,omitempty"`

	// Final is the last published view.
	Final engine.View `json:"final"`

	mu sync.Mutex
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []engine.Record{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result failed.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// observe is the engine observer.
func (r *Result) observe(rec engine.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trace = append(r.Trace, rec)
}

func (r *Result) trace() []engine.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Record(nil), r.Trace...)
}
