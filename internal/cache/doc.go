// Package cache persists the last known state of each user's home so the
// dashboard has something to show before the remote store answers.
//
// The cache is a fallback, never a source of truth:
//   - One entry per user namespace, overwritten whole on every Put
//   - Rows for other users are never touched by a Put
//   - Rows are retained across logout so a re-login renders instantly
//
// # Namespaces
//
// User ids are NFC-normalised and trimmed before they become row keys, so
// visually identical ids typed on different keyboards share one namespace.
// See Namespace.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite allows a single writer
package cache
