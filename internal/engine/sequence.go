package engine

import "sync/atomic"

// Sequence is a monotonic logical clock. Every published View and every
// trace Record is stamped from it, so traces order the same way on every
// run regardless of wall time.
type Sequence struct {
	seq atomic.Int64
}

// NewSequence returns a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
