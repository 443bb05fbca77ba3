// Package tiercache coordinates a fast in-process cache (L1) with a shared
// out-of-process store (L2) so that many service instances can share cached
// state while tolerating outages of the shared tier.
//
// Components:
//   - remote.Store: versioned (version, data) records with one TTL. Every
//     write bumps the version by one atomically with the payload (Redis Lua
//     script, bbolt transaction, or in-memory for tests).
//   - local.Store[V]: decoded values with an eviction callback per entry
//     (ristretto by default, bigcache optional).
//   - keylock: per-key lock so N concurrent misses cost one remote read.
//   - bus: best-effort invalidation notices (Redis pub/sub, exact channel).
//   - Codec[V]: (de)serializes V <-> []byte.
//
// Keys:
//
//	{namespace}:{id} - local key, also the invalidation message body
//	{prefix}:{id}    - remote key (Redis hash with fields "version", "data")
//
// Consistency: a process remembers the remote version it last saw for each
// L1 entry. With VerifyOnRead every L1 hit costs one version round-trip and
// stale entries are refetched; otherwise staleness is bounded by LocalTTL
// and shortened by invalidation notices. Writes made while L2 is down are
// kept locally with an unconfirmed version, so verification always refetches
// them once L2 is back.
package tiercache
