package tiercache

import "time"

const (
	DefaultLocalTTL            = 5 * time.Minute
	DefaultRemoteTTL           = 30 * time.Minute
	DefaultRemoteTimeout       = 250 * time.Millisecond
	DefaultInvalidationChannel = "tiercache:invalidate"
	DefaultLocalCapacity       = 10_000
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
