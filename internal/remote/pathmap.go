package remote

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/state"
)

// Fixed paths that are not state keys.
const (
	PathTemperature = "sensors/temperature"
	PathHumidity    = "sensors/humidity"
	PathLastUpdated = "lastUpdated"
)

// PathMap translates between generic keys and remote document paths.
type PathMap struct {
	paths map[state.Key]string
}

// DefaultPathMap stores every device under its own key name.
func DefaultPathMap() PathMap {
	m := PathMap{paths: make(map[state.Key]string)}
	for _, k := range state.DeviceKeys() {
		m.paths[k] = "devices/" + string(k)
	}
	for _, k := range state.AlertKeys() {
		m.paths[k] = "sensors/" + string(k)
	}
	m.paths[KeyLastUpdated] = PathLastUpdated
	return m
}

// NewPathMap returns the default map with device aliases applied.
// aliases maps a device key ("lamp") to the installation's name ("lamp1").
func NewPathMap(aliases map[string]string) (PathMap, error) {
	m := DefaultPathMap()
	names := make([]string, 0, len(aliases))
	for k := range aliases {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		key, err := state.ParseDeviceKey(name)
		if err != nil {
			return PathMap{}, errors.Wrap(err, "device alias")
		}
		alias := strings.Trim(strings.TrimSpace(aliases[name]), "/")
		if alias == "" || strings.Contains(alias, "/") {
			return PathMap{}, errors.Newf("device alias for %s must be a single path segment, got %q", key, aliases[name])
		}
		m.paths[key] = "devices/" + alias
	}

	seen := make(map[string]state.Key, len(m.paths))
	for k, p := range m.paths {
		if other, dup := seen[p]; dup {
			return PathMap{}, errors.Newf("keys %s and %s both map to %q", other, k, p)
		}
		seen[p] = k
	}
	return m, nil
}

// Path returns the document path for key.
func (m PathMap) Path(key state.Key) (string, error) {
	if m.paths == nil {
		m = DefaultPathMap()
	}
	p, ok := m.paths[key]
	if !ok {
		return "", errors.Wrapf(state.ErrUnknownKey, "no remote path for %q", key)
	}
	return p, nil
}

// Decode builds a snapshot from a document. Paths with values of the wrong
// type are left out of the snapshot and returned in skipped.
func (m PathMap) Decode(doc map[string]any) (snap *state.Snapshot, skipped []string) {
	if m.paths == nil {
		m = DefaultPathMap()
	}
	snap = state.NewSnapshot()

	for key, path := range m.paths {
		if key == KeyLastUpdated {
			continue
		}
		raw, ok := doc[path]
		if !ok || raw == nil {
			continue
		}
		b, ok := raw.(bool)
		if !ok {
			skipped = append(skipped, path)
			continue
		}
		snap.SetBool(key, b)
	}

	if raw, ok := doc[PathTemperature]; ok && raw != nil {
		if f, ok := toFloat(raw); ok {
			snap.Temperature = &f
		} else {
			skipped = append(skipped, PathTemperature)
		}
	}
	if raw, ok := doc[PathHumidity]; ok && raw != nil {
		if f, ok := toFloat(raw); ok {
			snap.Humidity = &f
		} else {
			skipped = append(skipped, PathHumidity)
		}
	}
	if raw, ok := doc[PathLastUpdated]; ok && raw != nil {
		if t, ok := toTime(raw); ok {
			snap.LastUpdated = &t
		} else {
			skipped = append(skipped, PathLastUpdated)
		}
	}

	sort.Strings(skipped)
	return snap, skipped
}

// Encode renders a full entry as a document.
func (m PathMap) Encode(e state.Entry) map[string]any {
	if m.paths == nil {
		m = DefaultPathMap()
	}
	doc := make(map[string]any, len(m.paths)+2)
	for key, path := range m.paths {
		if key == KeyLastUpdated {
			continue
		}
		doc[path] = e.Bool(key)
	}
	doc[PathTemperature] = e.Sensor.Temperature
	doc[PathHumidity] = e.Sensor.Humidity
	if !e.Device.LastUpdated.IsZero() {
		doc[PathLastUpdated] = FormatStamp(e.Device.LastUpdated)
	}
	return doc
}

// FormatStamp renders t the way lastUpdated is stored.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
