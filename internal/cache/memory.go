package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/homesync/internal/state"
)

// Memory is an in-process Cache. It is used by tests, by the scenario
// harness, and when the configured cache path is empty.
type Memory struct {
	mu      sync.Mutex
	entries map[string]state.Entry
	puts    int
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]state.Entry)}
}

// Get returns the cached entry for userID.
func (m *Memory) Get(_ context.Context, userID string) (state.Entry, bool, error) {
	ns, err := Namespace(userID)
	if err != nil {
		return state.Entry{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[ns]
	return e, ok, nil
}

// Put replaces the cached entry for userID.
func (m *Memory) Put(_ context.Context, userID string, e state.Entry) error {
	ns, err := Namespace(userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ns] = e
	m.puts++
	return nil
}

// Users lists the cached namespaces in sorted order.
// UpdatedAt is not tracked and stays zero.
func (m *Memory) Users(_ context.Context) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]Row, 0, len(m.entries))
	for ns, e := range m.entries {
		d, err := e.Digest()
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{Namespace: ns, Digest: d})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Namespace < rows[j].Namespace })
	return rows, nil
}

// Puts returns how many writes the cache has accepted.
func (m *Memory) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
