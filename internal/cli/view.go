package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/homesync/internal/engine"
	"github.com/roach88/homesync/internal/state"
)

// describeView renders a view on one line, e.g.
//
//	[synced] alice lamp=on door=off window=off motion=off 25.0°C 60.0% alerts=doorAlert
func describeView(v engine.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", v.Phase)
	if v.UserID != "" {
		b.WriteString(" " + v.UserID)
	}
	describeEntry(&b, v.Entry())

	if len(v.Pending) > 0 {
		keys := make([]string, len(v.Pending))
		for i, k := range v.Pending {
			keys[i] = string(k)
		}
		b.WriteString(" pending=" + strings.Join(keys, ","))
	}
	if v.Error != "" {
		fmt.Fprintf(&b, " error=%q", v.Error)
	}
	return b.String()
}

func describeEntry(b *strings.Builder, e state.Entry) {
	for _, k := range state.DeviceKeys() {
		fmt.Fprintf(b, " %s=%s", k, onOff(e.Bool(k)))
	}
	fmt.Fprintf(b, " %.1f°C %.1f%%", e.Sensor.Temperature, e.Sensor.Humidity)

	var alerts []string
	for _, k := range state.AlertKeys() {
		if e.Bool(k) {
			alerts = append(alerts, string(k))
		}
	}
	if len(alerts) > 0 {
		b.WriteString(" alerts=" + strings.Join(alerts, ","))
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// parseSwitch accepts on/off, true/false and 1/0.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, NewExitError(ExitCommandError, fmt.Sprintf("invalid value %q: use on or off", s))
}
