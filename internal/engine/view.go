package engine

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/state"
)

// Phase is the engine's lifecycle state.
type Phase int

const (
	// PhaseUninitialized: nobody is signed in.
	PhaseUninitialized Phase = iota
	// PhaseLoading: subscribed, waiting for the first snapshot.
	PhaseLoading
	// PhaseSynced: the remote is reachable.
	PhaseSynced
	// PhaseDisconnected: the last stream event or write failed.
	PhaseDisconnected
	// PhaseError: the remote rejected the configuration.
	PhaseError
)

var phaseNames = map[Phase]string{
	PhaseUninitialized: "uninitialized",
	PhaseLoading:       "loading",
	PhaseSynced:        "synced",
	PhaseDisconnected:  "disconnected",
	PhaseError:         "error",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the phase name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for ph, n := range phaseNames {
		if n == string(b) {
			*p = ph
			return nil
		}
	}
	return errors.Newf("unknown phase %q", string(b))
}

// View is an immutable snapshot of what the dashboard should show.
type View struct {
	Seq         int64             `json:"seq"`
	UserID      string            `json:"userId,omitempty"`
	Phase       Phase             `json:"phase"`
	Device      state.DeviceState `json:"deviceState"`
	Sensor      state.SensorState `json:"sensorState"`
	Loading     bool              `json:"loading"`
	Connected   bool              `json:"connected"`
	Error       string            `json:"error,omitempty"`
	LastUpdated time.Time         `json:"lastUpdated"`

	// Pending lists the keys still inside their debounce window.
	Pending []state.Key `json:"pending,omitempty"`
}

// Entry returns the displayed state as a cache entry.
func (v View) Entry() state.Entry {
	return state.Entry{Device: v.Device, Sensor: v.Sensor}
}
