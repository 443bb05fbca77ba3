// Package bigcache adapts allegro/bigcache as a tiercache L1 container.
//
// BigCache stores bytes in large shards with little GC pressure, so values
// are kept encoded with a codec and decoded on every Get. It has a single
// LifeWindow for all entries: per-entry TTLs are ignored and sliding
// expiration is not supported. Configure LifeWindow to the local TTL.
package bigcache

import (
	"context"
	"errors"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/local"
)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Shards             int // power of two; 0 => bigcache default
}

type Store[V any] struct {
	c     *bc.BigCache
	codec codec.Codec[V]

	mu        sync.Mutex
	callbacks map[string]local.EvictFunc
}

var _ local.Store[struct{}] = (*Store[struct{}])(nil)

func New[V any](cfg Config, cd codec.Codec[V]) (*Store[V], error) {
	if cd == nil {
		return nil, errors.New("bigcache: codec is required")
	}
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("bigcache: LifeWindow must be > 0")
	}
	s := &Store[V]{codec: cd, callbacks: make(map[string]local.EvictFunc)}

	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	// fires for Expired, NoSpace and Deleted
	conf.OnRemoveWithReason = func(key string, _ []byte, _ bc.RemoveReason) {
		s.fire(key)
	}

	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	s.c = c
	return s, nil
}

func (s *Store[V]) fire(key string) {
	s.mu.Lock()
	fn := s.callbacks[key]
	delete(s.callbacks, key)
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Store[V]) Set(key string, v V, _ local.Expiration, onEvict local.EvictFunc) {
	raw, err := s.codec.Encode(v)
	if err != nil {
		if onEvict != nil {
			onEvict()
		}
		return
	}

	// overwrites do not trigger bigcache's removal callback
	s.mu.Lock()
	prev := s.callbacks[key]
	if onEvict != nil {
		s.callbacks[key] = onEvict
	} else {
		delete(s.callbacks, key)
	}
	s.mu.Unlock()
	if prev != nil {
		prev()
	}

	if err := s.c.Set(key, raw); err != nil {
		s.fire(key)
	}
}

func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	raw, err := s.c.Get(key)
	if err != nil {
		return zero, false
	}
	v, err := s.codec.Decode(raw)
	if err != nil {
		// self-heal: drop undecodable entry
		_ = s.c.Delete(key)
		return zero, false
	}
	return v, true
}

func (s *Store[V]) Remove(key string) {
	if err := s.c.Delete(key); err != nil {
		// not resident; drop any orphaned callback
		s.fire(key)
	}
}

func (s *Store[V]) Close() error {
	return s.c.Close()
}

// Len reports the number of resident entries.
func (s *Store[V]) Len() int { return s.c.Len() }
