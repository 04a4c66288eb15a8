package engine

import "github.com/roach88/homesync/internal/state"

// Trace operations.
const (
	OpIdentity    = "identity"
	OpPhase       = "phase"
	OpUpdate      = "update"
	OpRejected    = "rejected"
	OpSend        = "send"
	OpAck         = "ack"
	OpFail        = "fail"
	OpRevert      = "revert"
	OpDiscard     = "discard"
	OpSnapshot    = "snapshot"
	OpStreamError = "stream_error"
	OpStamp       = "stamp"
	OpCacheError  = "cache_error"
)

// Record is one step of the loop's work, in processing order.
type Record struct {
	Seq     int64     `json:"seq" yaml:"seq"`
	Op      string    `json:"op" yaml:"op"`
	User    string    `json:"user,omitempty" yaml:"user,omitempty"`
	Key     state.Key `json:"key,omitempty" yaml:"key,omitempty"`
	Value   *bool     `json:"value,omitempty" yaml:"value,omitempty"`
	WriteID string    `json:"writeId,omitempty" yaml:"writeId,omitempty"`
	Phase   string    `json:"phase,omitempty" yaml:"phase,omitempty"`
	Error   string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Observer receives every Record. It runs on the loop goroutine and must
// not call back into the engine.
type Observer func(Record)

func boolPtr(v bool) *bool {
	return &v
}
