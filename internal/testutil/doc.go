// Package testutil holds test doubles for the remote source and the cache
// that the real implementations cannot be made to produce on demand.
package testutil
