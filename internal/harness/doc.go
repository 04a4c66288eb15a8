// Package harness runs scripted scenarios against a real engine.
//
// A scenario drives the engine through an in-process remote node, an
// in-memory SQLite cache and a mock clock, so every run of the same file
// produces the same trace.
//
// # Scenario Format
//
//	name: coalescing
//	description: "Three quick toggles produce one write"
//	debounce: 100ms
//	seed:
//	  alice:
//	    devices/door: true
//	cache:
//	  alice:
//	    lamp: true
//	steps:
//	  - login: alice
//	  - update: {key: lamp, value: true, as: first}
//	  - advance: 50ms
//	  - remote_set: {path: devices/lamp, value: false}
//	  - fail_writes: "permission denied"
//	  - expect:
//	      phase: synced
//	      fields: {lamp: true}
//	      results: {first: ok}
//	assertions:
//	  - type: trace_count
//	    op: send
//	    count: 1
//
// # Steps
//
// Each step sets exactly one of: login, logout, update, alert, advance,
// remote_set, fail_writes, interrupt, online, hold, release, expect.
// After every step the harness waits for the engine to go idle; while
// writes are held it only waits for queued events.
//
// # Assertion Types
//
//   - trace_contains: a record with the given op (and key, user) exists
//   - trace_order: the given ops first appear in this order
//   - trace_count: the op (optionally for one key) appears exactly count times
//   - final_state: the cached entry of user has the expected fields
//
// # Golden Traces
//
// RunWithGolden compares the engine's records with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
