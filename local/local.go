// Package local defines the in-process (L1) container used by tiercache.
//
// Implementations store decoded values keyed by the coordinator's local key.
// Each Set registers an EvictFunc that MUST run exactly once when that
// particular entry leaves the container, whatever the reason: TTL expiry,
// capacity pressure, admission rejection, explicit Remove, or being
// overwritten by a later Set for the same key. The coordinator uses it to
// keep its version table in step with the container.
package local

import "time"

// Expiration is the TTL policy of one entry.
type Expiration struct {
	TTL     time.Duration // <= 0 => no expiry
	Sliding bool          // true => TTL restarts on every Get hit
}

// EvictFunc is called once when an entry leaves the container.
// It must be cheap and must not call back into the container.
type EvictFunc func()

// Store is a concurrent in-process cache of V values.
type Store[V any] interface {
	// Set inserts or replaces key. The new value must be visible to Get
	// from the same goroutine as soon as Set returns, unless the container
	// refused it (in which case onEvict has already fired).
	Set(key string, v V, exp Expiration, onEvict EvictFunc)

	// Get returns (value, true) on hit; (zero, false) on miss.
	Get(key string) (V, bool)

	// Remove evicts key if present.
	Remove(key string)

	// Close releases resources.
	Close() error
}
