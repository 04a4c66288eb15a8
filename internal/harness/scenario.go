package harness

import (
	"bytes"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/remote"
	"github.com/roach88/homesync/internal/state"
)

// Scenario is a scripted run of the engine.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario shows.
	Description string `yaml:"description"`

	// Debounce is the coalescing window. Defaults to engine.DefaultDebounce.
	Debounce Duration `yaml:"debounce,omitempty"`

	// Devices renames device paths on the remote, e.g. lamp: lamp1.
	Devices map[string]string `yaml:"devices,omitempty"`

	// Seed holds remote documents per user before the first step.
	Seed map[string]map[string]any `yaml:"seed,omitempty"`

	// Cache holds cached boolean fields per user before the first step.
	Cache map[string]map[string]bool `yaml:"cache,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the trace and cache after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scripted action. Exactly one field is set.
type Step struct {
	Login      *string    `yaml:"login,omitempty"`
	Logout     bool       `yaml:"logout,omitempty"`
	Update     *Change    `yaml:"update,omitempty"`
	Alert      *Change    `yaml:"alert,omitempty"`
	Advance    *Duration  `yaml:"advance,omitempty"`
	RemoteSet  *RemoteSet `yaml:"remote_set,omitempty"`
	FailWrites *string    `yaml:"fail_writes,omitempty"`
	Interrupt  *string    `yaml:"interrupt,omitempty"`
	Online     *bool      `yaml:"online,omitempty"`
	Hold       bool       `yaml:"hold,omitempty"`
	Release    bool       `yaml:"release,omitempty"`
	Expect     *Expect    `yaml:"expect,omitempty"`
}

// Change is a user toggling one switch.
type Change struct {
	Key   string `yaml:"key"`
	Value bool   `yaml:"value"`
	// As names the update's Result for later expect steps.
	As string `yaml:"as,omitempty"`
}

// RemoteSet changes a remote path as another client or a sensor would.
type RemoteSet struct {
	// User defaults to the signed-in user.
	User  string `yaml:"user,omitempty"`
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// Expect checks the published view and the remote. Unset fields are not
// checked.
type Expect struct {
	Phase         string            `yaml:"phase,omitempty"`
	User          *string           `yaml:"user,omitempty"`
	Connected     *bool             `yaml:"connected,omitempty"`
	Loading       *bool             `yaml:"loading,omitempty"`
	Error         *string           `yaml:"error,omitempty"`
	ErrorContains string            `yaml:"error_contains,omitempty"`
	Fields        map[string]bool   `yaml:"fields,omitempty"`
	Temperature   *float64          `yaml:"temperature,omitempty"`
	Humidity      *float64          `yaml:"humidity,omitempty"`
	Pending       *[]string         `yaml:"pending,omitempty"`
	Writes        *int              `yaml:"writes,omitempty"`
	Stamps        *int              `yaml:"stamps,omitempty"`
	Results       map[string]string `yaml:"results,omitempty"`
	// Errors counts sync errors published since the previous expect step.
	Errors *int `yaml:"errors,omitempty"`
}

// Result states used in Expect.Results.
const (
	ResultPending   = "pending"
	ResultOK        = "ok"
	ResultCoalesced = "coalesced"
	ResultFailed    = "failed"
	ResultDiscarded = "discarded"
	ResultStopped   = "stopped"
)

// Assertion validates the trace or the final cache.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Op is the record op (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Key narrows trace_contains and trace_count to one field.
	Key string `yaml:"key,omitempty"`

	// User narrows trace_contains to one user and selects the cache row
	// for final_state.
	User string `yaml:"user,omitempty"`

	// Count is the expected number of matches (trace_count).
	Count int `yaml:"count,omitempty"`

	// Ops is the expected op order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Expect lists cached boolean fields (final_state).
	Expect map[string]bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// Duration is a time.Duration written as "100ms" in YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return errors.Wrapf(err, "line %d: duration", node.Line)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario file")
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "parse YAML")
	}
	if err := validateScenario(&s); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}
	if s.Debounce < 0 {
		return errors.New("debounce must not be negative")
	}
	if _, err := remote.NewPathMap(s.Devices); err != nil {
		return errors.Wrap(err, "devices")
	}
	for user, fields := range s.Cache {
		for k := range fields {
			if _, err := state.ParseKey(k); err != nil {
				return errors.Wrapf(err, "cache[%s]", user)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	kinds := st.kinds()
	if len(kinds) != 1 {
		return errors.Newf("steps[%d]: exactly one action is required, got %v", i, kinds)
	}

	switch {
	case st.Update != nil:
		if _, err := state.ParseDeviceKey(st.Update.Key); err != nil {
			return errors.Wrapf(err, "steps[%d].update", i)
		}
	case st.Alert != nil:
		if _, err := state.ParseAlertKey(st.Alert.Key); err != nil {
			return errors.Wrapf(err, "steps[%d].alert", i)
		}
	case st.Advance != nil:
		if *st.Advance <= 0 {
			return errors.Newf("steps[%d].advance must be positive", i)
		}
	case st.RemoteSet != nil:
		if st.RemoteSet.Path == "" {
			return errors.Newf("steps[%d].remote_set: path is required", i)
		}
	case st.Expect != nil:
		if p := st.Expect.Phase; p != "" {
			var ph engine.Phase
			if err := ph.UnmarshalText([]byte(p)); err != nil {
				return errors.Wrapf(err, "steps[%d].expect", i)
			}
		}
		for k := range st.Expect.Fields {
			if _, err := state.ParseKey(k); err != nil {
				return errors.Wrapf(err, "steps[%d].expect.fields", i)
			}
		}
		for name, want := range st.Expect.Results {
			switch want {
			case ResultPending, ResultOK, ResultCoalesced, ResultFailed, ResultDiscarded, ResultStopped:
			default:
				return errors.Newf("steps[%d].expect.results[%s]: unknown state %q", i, name, want)
			}
		}
	}
	return nil
}

// kinds lists the actions set on the step.
func (st *Step) kinds() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(st.Login != nil, "login")
	add(st.Logout, "logout")
	add(st.Update != nil, "update")
	add(st.Alert != nil, "alert")
	add(st.Advance != nil, "advance")
	add(st.RemoteSet != nil, "remote_set")
	add(st.FailWrites != nil, "fail_writes")
	add(st.Interrupt != nil, "interrupt")
	add(st.Online != nil, "online")
	add(st.Hold, "hold")
	add(st.Release, "release")
	add(st.Expect != nil, "expect")
	return out
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return errors.Newf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return errors.Newf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return errors.Newf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return errors.Newf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return errors.Newf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.User == "" {
			return errors.Newf("assertions[%d]: user is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return errors.Newf("assertions[%d]: expect is required for final_state", index)
		}
		for k := range a.Expect {
			if _, err := state.ParseKey(k); err != nil {
				return errors.Wrapf(err, "assertions[%d].expect", index)
			}
		}
	default:
		return errors.Newf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
