// Package remote defines the push-based source of authoritative device
// state and ships an in-process implementation of it.
//
// A Source is injected into the engine; nothing in this package is global.
// Subscribe never fails for lack of connectivity. The returned Stream stays
// quiet until the transport either delivers a snapshot or reports an error.
//
// # Delivery
//
// Streams are latest-only mailboxes: when the consumer falls behind, a newer
// event replaces the unread one. The guarantee is eventual delivery of the
// current state, not of every intermediate state.
//
// # Paths
//
// The remote store is a flat document of relative paths per user:
//
//	devices/<name>          device switches (lamp, door, window, motion)
//	sensors/<alertKey>      alert switches
//	sensors/temperature     reading
//	sensors/humidity        reading
//	lastUpdated             RFC 3339 stamp written after device changes
//
// Device names can differ per installation (lamp may be stored as lamp1);
// PathMap owns that mapping so the engine only sees generic keys.
package remote
