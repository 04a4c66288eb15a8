package state

// Version constants stored alongside cached entries.
const (
	// SchemaVersion is the encoding version of a cached Entry.
	SchemaVersion = "1"

	// EngineVersion is the homesync engine version.
	EngineVersion = "0.1.0"
)
