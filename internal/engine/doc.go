// Package engine keeps a user's device state in step with the remote store.
//
// The engine holds three versions of every field: the value on screen, the
// last value the remote confirmed, and the value waiting out the debounce
// window. User actions change the screen at once and are sent later;
// remote pushes overwrite both the screen and the confirmed value.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Run owns all state. API calls, debounce timer fires, write outcomes and
// stream events are all events the loop handles one at a time. Nothing
// else mutates state or writes the cache. Readers see an immutable View
// published after every change.
//
// Event Processing Flow:
//  1. UpdateDevice enqueues an update and waits only for the loop to apply it
//  2. The loop sets the field, writes the cache and arms the key's debounce timer
//  3. When the timer fires the loop takes the newest value and starts a write
//  4. The write's outcome comes back as an event: success confirms the field,
//     failure reverts it and marks the engine disconnected
//  5. Snapshots from the stream overwrite whatever they carry, pending or not
//
// Stream events are taken before queued events. A source that publishes the
// resulting snapshot before acknowledging a write therefore always shows
// the snapshot first, which keeps traces stable.
//
// Identity:
// SetIdentity closes the old stream, drops pending writes without sending
// them and bumps an epoch. Write outcomes from an older epoch resolve their
// Results but never touch state.
//
// PHASES:
//
//	Uninitialized -> Loading -> Synced <-> Disconnected
//	any -> Error (the source rejected the subscription as misconfigured)
//
// A subscription error before the first snapshot goes from Loading to
// Disconnected.
package engine
