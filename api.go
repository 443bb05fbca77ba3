package tiercache

import (
	"context"

	"github.com/unkn0wn-root/tiercache/bus"
	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/local"
	"github.com/unkn0wn-root/tiercache/remote"
)

// Result is the three-valued outcome of Lookup.
type Result uint8

const (
	// Miss: the remote tier answered and holds no record.
	Miss Result = iota
	// Hit: a value was returned.
	Hit
	// Unknown: the remote tier could not be reached, or its payload did not
	// decode. Absence is not proven.
	Unknown
)

func (r Result) String() string {
	switch r {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Cache is a two-level (in-process L1, shared L2) cache of V values.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
//
// Remote failures are never returned: reads degrade to stale-or-absent,
// writes degrade to local-only, removals always succeed locally. The only
// errors are cancellation of ctx, encode failures in Set, and ErrClosed.
type Cache[V any] interface {
	// Get returns (v, true, nil) on hit. An unreachable remote tier reads
	// as absent; use Lookup to tell the two apart.
	Get(ctx context.Context, id string) (v V, ok bool, err error)
	Lookup(ctx context.Context, id string) (v V, res Result, err error)

	// Set writes v to L2 (bumping its version), then L1, then broadcasts
	// an invalidation notice to other instances.
	Set(ctx context.Context, id string, v V) error

	// Remove evicts L1 first, then deletes L2 and broadcasts.
	Remove(ctx context.Context, id string) error

	// Close releases L1 and leaves the listener. It does not close
	// Remote, Publisher or Listener, which may be shared.
	Close(ctx context.Context) error
}

// Options wire a coordinator. Settings.KeyPrefix and Remote are required;
// everything else has a default.
type Options[V any] struct {
	Settings Settings

	// Namespace prefixes local keys: "{Namespace}:{id}". Empty => the Go
	// type name of V.
	Namespace string

	Remote remote.Store   // required
	Local  local.Store[V] // nil => ristretto sized by LocalCapacity
	// LocalCapacity bounds the default L1 by entry count; 0 => 10000.
	LocalCapacity int64

	// Publisher broadcasts invalidation notices. nil => single instance.
	Publisher bus.Publisher
	// Listener, if set, must be subscribed to Settings.InvalidationChannel.
	// The cache registers itself on New and deregisters on Close.
	Listener *bus.Listener

	Codec    c.Codec[V] // nil => Msgpack if Settings.BinarySerializer, else JSON
	Logger   Logger     // if nil, NopLogger is used
	Hooks    Hooks      // if nil, NopHooks is used
	Disabled bool       // pass-through: every Get misses, Set/Remove are no-ops
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
