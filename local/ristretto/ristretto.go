// Package ristretto adapts dgraph-io/ristretto as a tiercache L1 container.
// It supports per-entry TTL, sliding expiration and cost-based capacity.
package ristretto

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"
	"github.com/dgraph-io/ristretto/z"

	"github.com/unkn0wn-root/tiercache/local"
)

const stripes = 64

type Config struct {
	// MaxEntries bounds the number of resident entries (each costs 1).
	MaxEntries int64
	// NumCounters for TinyLFU admission; 0 => 10 * MaxEntries.
	NumCounters int64
	// BufferItems per Get buffer; 0 => 64.
	BufferItems int64
	Metrics     bool
}

// item wraps a value with its eviction callback. Sliding entries carry
// their own deadline; ristretto never expires them, a Get past the
// deadline does.
type item[V any] struct {
	v        V
	exp      local.Expiration
	onEvict  local.EvictFunc
	once     sync.Once
	deadline atomic.Int64 // unix nanos; sliding entries only
}

func (it *item[V]) fire() {
	if it.onEvict == nil {
		return
	}
	it.once.Do(it.onEvict)
}

func (it *item[V]) sliding() bool { return it.exp.Sliding && it.exp.TTL > 0 }

type Store[V any] struct {
	c *rc.Cache
	// writers and lazy expiry of a key serialize on its stripe
	mu  [stripes]sync.Mutex
	now func() time.Time
}

var _ local.Store[struct{}] = (*Store[struct{}])(nil)

func New[V any](cfg Config) (*Store[V], error) {
	if cfg.MaxEntries <= 0 {
		return nil, errors.New("ristretto: MaxEntries must be > 0")
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = cfg.MaxEntries * 10
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.Metrics,
		IgnoreInternalCost: true,
		// OnExit covers eviction, rejection, deletion and replacement.
		OnExit: func(val interface{}) {
			if it, ok := val.(*item[V]); ok {
				it.fire()
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &Store[V]{c: c, now: time.Now}, nil
}

func (s *Store[V]) stripe(key string) *sync.Mutex {
	h, _ := z.KeyToHash(key)
	return &s.mu[h%stripes]
}

func (s *Store[V]) Set(key string, v V, exp local.Expiration, onEvict local.EvictFunc) {
	it := &item[V]{v: v, exp: exp, onEvict: onEvict}
	ttl := ttl(exp)
	if it.sliding() {
		it.deadline.Store(s.now().Add(exp.TTL).UnixNano())
		ttl = 0
	}

	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	if !s.c.SetWithTTL(key, it, 1, ttl) {
		// dropped by the set buffer: never resident
		it.fire()
		return
	}
	// make the write visible to the next Get
	s.c.Wait()
}

func (s *Store[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := s.c.Get(key)
	if !ok {
		return zero, false
	}
	it, ok := raw.(*item[V])
	if !ok {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return zero, false
	}
	if !it.sliding() {
		return it.v, true
	}

	now := s.now().UnixNano()
	for {
		d := it.deadline.Load()
		if now >= d {
			s.expire(key, it)
			return zero, false
		}
		if it.deadline.CompareAndSwap(d, now+int64(it.exp.TTL)) {
			return it.v, true
		}
	}
}

// expire drops key only while it still holds it; a newer Set wins.
func (s *Store[V]) expire(key string, it *item[V]) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()
	if raw, ok := s.c.Get(key); ok && raw == any(it) {
		s.c.Del(key)
	}
}

func (s *Store[V]) Remove(key string) {
	s.c.Del(key)
}

func (s *Store[V]) Close() error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (s *Store[V]) Metrics() *rc.Metrics { return s.c.Metrics }

// ristretto refuses negative TTLs; zero means no expiry.
func ttl(exp local.Expiration) time.Duration {
	if exp.TTL <= 0 {
		return 0
	}
	return exp.TTL
}
