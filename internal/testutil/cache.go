package testutil

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/cache"
	"github.com/roach88/homesync/internal/state"
)

// ErrDiskFull is what BrokenCache fails with.
var ErrDiskFull = errors.New("disk full")

// BrokenCache fails every read and write and counts the attempts.
type BrokenCache struct {
	gets atomic.Int64
	puts atomic.Int64
}

// Get fails with ErrDiskFull.
func (c *BrokenCache) Get(context.Context, string) (state.Entry, bool, error) {
	c.gets.Add(1)
	return state.Entry{}, false, ErrDiskFull
}

// Put fails with ErrDiskFull.
func (c *BrokenCache) Put(context.Context, string, state.Entry) error {
	c.puts.Add(1)
	return ErrDiskFull
}

// Close does nothing.
func (c *BrokenCache) Close() error { return nil }

// Attempts returns how many Gets and Puts were tried.
func (c *BrokenCache) Attempts() (gets, puts int64) {
	return c.gets.Load(), c.puts.Load()
}

var _ cache.Cache = (*BrokenCache)(nil)
