package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator names remote writes for logs and traces.
// Implemented by UUIDv7Generator (production) and CountingGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CountingGenerator returns prefix-1, prefix-2, ... so traces are stable
// across runs.
//
// Thread-safety: CountingGenerator is safe for concurrent use.
type CountingGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingGenerator returns a generator starting at prefix-1.
func NewCountingGenerator(prefix string) *CountingGenerator {
	return &CountingGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *CountingGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
