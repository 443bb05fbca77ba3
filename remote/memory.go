package remote

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Memory after Close.
var ErrClosed = errors.New("remote: store closed")

type memRecord struct {
	ver  uint64
	data []byte
	exp  time.Time // zero => no TTL
}

// Memory is an in-process Store. It is useful for single-instance
// deployments and tests; it gives no cross-process sharing.
// An optional sweep loop prunes expired records; reads expire lazily either way.
type Memory struct {
	mu     sync.RWMutex
	m      map[string]memRecord
	closed bool

	now    func() time.Time
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Store = (*Memory)(nil)

// NewMemory creates a Memory store. sweepInterval <= 0 disables the
// background sweeper.
func NewMemory(sweepInterval time.Duration) *Memory {
	s := &Memory{m: make(map[string]memRecord), now: time.Now}
	if sweepInterval > 0 {
		s.ticker = time.NewTicker(sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Memory) expired(r memRecord, now time.Time) bool {
	return !r.exp.IsZero() && !now.Before(r.exp)
}

func (s *Memory) Write(ctx context.Context, key string, payload []byte, ttl time.Duration) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	data := append([]byte(nil), payload...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	r, ok := s.m[key]
	if !ok || s.expired(r, now) {
		r = memRecord{}
	}
	r.ver++
	r.data = data
	r.exp = time.Time{}
	if ttl > 0 {
		r.exp = now.Add(ttl)
	}
	s.m[key] = r
	return r.ver, nil
}

func (s *Memory) lookup(ctx context.Context, key string) (memRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return memRecord{}, false, err
	}
	s.mu.RLock()
	r, ok := s.m[key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return memRecord{}, false, ErrClosed
	}
	if !ok || s.expired(r, s.now()) {
		return memRecord{}, false, nil
	}
	return r, true, nil
}

func (s *Memory) Read(ctx context.Context, key string) (Record, bool, error) {
	r, ok, err := s.lookup(ctx, key)
	if err != nil || !ok {
		return Record{}, false, err
	}
	return Record{Version: r.ver, Data: append([]byte(nil), r.data...)}, true, nil
}

func (s *Memory) ReadVersion(ctx context.Context, key string) (uint64, bool, error) {
	r, ok, err := s.lookup(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	return r.ver, true, nil
}

func (s *Memory) Touch(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.m[key]
	if !ok || s.expired(r, now) {
		return nil
	}
	r.exp = time.Time{}
	if ttl > 0 {
		r.exp = now.Add(ttl)
	}
	s.m[key] = r
	return nil
}

func (s *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.m, key)
	return nil
}

// Sweep drops expired records.
func (s *Memory) Sweep() {
	now := s.now()
	s.mu.Lock()
	for k, r := range s.m {
		if s.expired(r, now) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

// Len reports the number of stored records, expired ones included until swept.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Memory) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.ticker.Stop()
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return nil
}
