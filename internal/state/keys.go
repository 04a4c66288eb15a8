package state

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Key names a boolean field a user can write.
type Key string

// Device keys.
const (
	KeyLamp   Key = "lamp"
	KeyDoor   Key = "door"
	KeyWindow Key = "window"
	KeyMotion Key = "motion"
)

// Alert keys.
const (
	KeyTemperatureAlert Key = "temperatureAlert"
	KeyHumidityAlert    Key = "humidityAlert"
	KeyMotionAlert      Key = "motionAlert"
	KeyDoorAlert        Key = "doorAlert"
	KeyWindowAlert      Key = "windowAlert"
)

// Group tells which half of an Entry a key belongs to.
type Group int

const (
	// GroupUnknown is returned for keys that name no field.
	GroupUnknown Group = iota
	// GroupDevice keys live in DeviceState.
	GroupDevice
	// GroupAlert keys live in SensorState.
	GroupAlert
)

func (g Group) String() string {
	switch g {
	case GroupDevice:
		return "device"
	case GroupAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// ErrUnknownKey is returned when a key names no writable field.
var ErrUnknownKey = errors.New("unknown field key")

var deviceKeys = []Key{KeyLamp, KeyDoor, KeyWindow, KeyMotion}

var alertKeys = []Key{
	KeyTemperatureAlert,
	KeyHumidityAlert,
	KeyMotionAlert,
	KeyDoorAlert,
	KeyWindowAlert,
}

// DeviceKeys returns the device keys in display order.
func DeviceKeys() []Key {
	return append([]Key(nil), deviceKeys...)
}

// AlertKeys returns the alert keys in display order.
func AlertKeys() []Key {
	return append([]Key(nil), alertKeys...)
}

// Group returns the group of k.
func (k Key) Group() Group {
	for _, d := range deviceKeys {
		if k == d {
			return GroupDevice
		}
	}
	for _, a := range alertKeys {
		if k == a {
			return GroupAlert
		}
	}
	return GroupUnknown
}

// ParseKey resolves a user supplied name to a Key.
// Matching ignores case and surrounding space ("Lamp", " lamp ").
func ParseKey(s string) (Key, error) {
	name := strings.TrimSpace(s)
	for _, k := range deviceKeys {
		if strings.EqualFold(name, string(k)) {
			return k, nil
		}
	}
	for _, k := range alertKeys {
		if strings.EqualFold(name, string(k)) {
			return k, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownKey, "%q", s)
}

// ParseDeviceKey is ParseKey restricted to device keys.
func ParseDeviceKey(s string) (Key, error) {
	return parseInGroup(s, GroupDevice)
}

// ParseAlertKey is ParseKey restricted to alert keys.
func ParseAlertKey(s string) (Key, error) {
	return parseInGroup(s, GroupAlert)
}

func parseInGroup(s string, g Group) (Key, error) {
	k, err := ParseKey(s)
	if err != nil {
		return "", err
	}
	if k.Group() != g {
		return "", errors.Wrapf(ErrUnknownKey, "%q is not a %s key", s, g)
	}
	return k, nil
}
