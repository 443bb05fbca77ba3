// Package remote defines the shared (L2) tier used by tiercache.
//
// Every remote key addresses one record with exactly two fields, a 64-bit
// "version" and an opaque "data" payload, plus one TTL for the whole record.
// The version starts at 0 when the record is absent and grows by exactly one
// per successful Write. Version and data change together or not at all.
//
// Implementations must be safe for concurrent use. Transport and server
// failures are returned as errors; a missing record is (zero, false, nil).
// A record that exists but cannot be parsed is reported as a
// *codec.DecodeError (see Corrupt), so callers can tell it from an outage.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
)

// Field names of the record, shared by every implementation that exposes
// named fields (e.g. a Redis hash).
const (
	FieldVersion = "version"
	FieldData    = "data"
)

// Record is a (version, payload) pair read from the remote tier.
type Record struct {
	Version uint64
	Data    []byte
}

// Store is the versioned key-value backend.
type Store interface {
	// Write atomically increments the version, overwrites the payload and
	// resets the TTL of key, returning the new version. ttl <= 0 means no
	// expiry.
	Write(ctx context.Context, key string, payload []byte, ttl time.Duration) (uint64, error)

	// Read returns (record, true, nil) on hit; (Record{}, false, nil) on miss.
	Read(ctx context.Context, key string) (Record, bool, error)

	// ReadVersion reads only the version field.
	ReadVersion(ctx context.Context, key string) (uint64, bool, error)

	// Touch resets the TTL of an existing record. Missing keys are a no-op.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the record (missing keys are a no-op).
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Corrupt reports an unparseable stored record of key.
func Corrupt(store, key string, err error) error {
	return &codec.DecodeError{Codec: store, Err: fmt.Errorf("record %s: %w", key, err)}
}
