package state

import "time"

// Default sensor readings used until the first snapshot reports real ones.
const (
	DefaultTemperature = 25.0
	DefaultHumidity    = 60.0
)

// DeviceState holds the controllable devices of a home.
type DeviceState struct {
	Lamp        bool      `json:"lamp"`
	Door        bool      `json:"door"`
	Window      bool      `json:"window"`
	Motion      bool      `json:"motion"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// SensorState holds the environment readings and the alert switches.
type SensorState struct {
	Temperature      float64 `json:"temperature"`
	Humidity         float64 `json:"humidity"`
	TemperatureAlert bool    `json:"temperatureAlert"`
	HumidityAlert    bool    `json:"humidityAlert"`
	MotionAlert      bool    `json:"motionAlert"`
	DoorAlert        bool    `json:"doorAlert"`
	WindowAlert      bool    `json:"windowAlert"`
}

// Entry is the unit stored per user in the local cache.
type Entry struct {
	Device DeviceState `json:"deviceState"`
	Sensor SensorState `json:"sensorState"`
}

// DefaultDevice returns the device state shown when nothing else is known.
func DefaultDevice() DeviceState {
	return DeviceState{}
}

// DefaultSensor returns the sensor state shown when nothing else is known.
func DefaultSensor() SensorState {
	return SensorState{
		Temperature: DefaultTemperature,
		Humidity:    DefaultHumidity,
	}
}

// Default returns a fully populated entry holding the fixed defaults.
func Default() Entry {
	return Entry{
		Device: DefaultDevice(),
		Sensor: DefaultSensor(),
	}
}

// Bool returns the value of a boolean field.
// Unknown keys read as false.
func (e Entry) Bool(k Key) bool {
	if p := e.field(k); p != nil {
		return *p
	}
	return false
}

// SetBool sets a boolean field and reports whether the key was known.
func (e *Entry) SetBool(k Key, v bool) bool {
	p := e.field(k)
	if p == nil {
		return false
	}
	*p = v
	return true
}

func (e *Entry) field(k Key) *bool {
	switch k {
	case KeyLamp:
		return &e.Device.Lamp
	case KeyDoor:
		return &e.Device.Door
	case KeyWindow:
		return &e.Device.Window
	case KeyMotion:
		return &e.Device.Motion
	case KeyTemperatureAlert:
		return &e.Sensor.TemperatureAlert
	case KeyHumidityAlert:
		return &e.Sensor.HumidityAlert
	case KeyMotionAlert:
		return &e.Sensor.MotionAlert
	case KeyDoorAlert:
		return &e.Sensor.DoorAlert
	case KeyWindowAlert:
		return &e.Sensor.WindowAlert
	default:
		return nil
	}
}

// PendingWrite is a user change waiting out the debounce window.
// At most one exists per key; a newer change for the same key replaces it.
type PendingWrite struct {
	Key        Key
	Value      bool
	EnqueuedAt time.Time
}
