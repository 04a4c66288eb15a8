package state

import "time"

// Snapshot is a point-in-time push of remote state.
// Only the fields the remote reported are set.
type Snapshot struct {
	Bools       map[Key]bool
	Temperature *float64
	Humidity    *float64
	LastUpdated *time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{Bools: make(map[Key]bool)}
}

// FullSnapshot returns a snapshot carrying every field of e.
func FullSnapshot(e Entry) *Snapshot {
	s := NewSnapshot()
	for _, k := range deviceKeys {
		s.Bools[k] = e.Bool(k)
	}
	for _, k := range alertKeys {
		s.Bools[k] = e.Bool(k)
	}
	t, h := e.Sensor.Temperature, e.Sensor.Humidity
	s.Temperature = &t
	s.Humidity = &h
	if !e.Device.LastUpdated.IsZero() {
		lu := e.Device.LastUpdated
		s.LastUpdated = &lu
	}
	return s
}

// SetBool records a boolean field.
func (s *Snapshot) SetBool(k Key, v bool) {
	if s.Bools == nil {
		s.Bools = make(map[Key]bool)
	}
	s.Bools[k] = v
}

// Bool returns a boolean field and whether the snapshot carried it.
func (s *Snapshot) Bool(k Key) (bool, bool) {
	if s == nil || s.Bools == nil {
		return false, false
	}
	v, ok := s.Bools[k]
	return v, ok
}

// Empty reports whether the snapshot carries no field at all.
func (s *Snapshot) Empty() bool {
	return s == nil ||
		(len(s.Bools) == 0 && s.Temperature == nil && s.Humidity == nil && s.LastUpdated == nil)
}

// Apply overwrites the fields of e that the snapshot carries and returns
// the result. Fields the snapshot lacks keep their value from e.
func (s *Snapshot) Apply(e Entry) Entry {
	if s == nil {
		return e
	}
	for k, v := range s.Bools {
		e.SetBool(k, v)
	}
	if s.Temperature != nil {
		e.Sensor.Temperature = *s.Temperature
	}
	if s.Humidity != nil {
		e.Sensor.Humidity = *s.Humidity
	}
	if s.LastUpdated != nil {
		e.Device.LastUpdated = *s.LastUpdated
	}
	return e
}
