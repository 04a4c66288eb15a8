// Package state provides the device and sensor state types shared by every
// other homesync package.
//
// This package contains value types only. The engine, cache and remote
// packages import state; state imports nothing internal.
//
// Key design constraints:
//   - Entry values are always fully populated (Default fills every field)
//   - Snapshot fields are optional; an absent field means "unchanged"
//   - JSON tags use the camelCase names the remote node stores
package state
