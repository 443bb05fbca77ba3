// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/tiercache"
//	"github.com/unkn0wn-root/tiercache/hooks/async"
//	"github.com/unkn0wn-root/tiercache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitEvery:   100, // sample hit/miss logs: ~every 100th
//	    StaleEvery: 1,   // log every stale drop
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := tiercache.New[User](tiercache.Options[User]{
//	    Settings: settings,
//	    Remote:   store,
//	    Hooks:    hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

// Hooks runs another Hooks off the caller's goroutine. Events that do not
// fit in the queue are dropped and counted.
type Hooks struct {
	inner   tiercache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events raised after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) LocalHit(k string)   { h.try(func() { h.inner.LocalHit(k) }) }
func (h *Hooks) LocalMiss(k string)  { h.try(func() { h.inner.LocalMiss(k) }) }
func (h *Hooks) RemoteHit(k string)  { h.try(func() { h.inner.RemoteHit(k) }) }
func (h *Hooks) RemoteMiss(k string) { h.try(func() { h.inner.RemoteMiss(k) }) }
func (h *Hooks) RemoteUnavailable(op, k string, err error) {
	h.try(func() { h.inner.RemoteUnavailable(op, k, err) })
}
func (h *Hooks) DecodeFailed(k string, err error) { h.try(func() { h.inner.DecodeFailed(k, err) }) }
func (h *Hooks) StaleLocal(k, r string)           { h.try(func() { h.inner.StaleLocal(k, r) }) }
func (h *Hooks) DegradedWrite(k string)           { h.try(func() { h.inner.DegradedWrite(k) }) }
func (h *Hooks) PublishFailed(k string, err error) {
	h.try(func() { h.inner.PublishFailed(k, err) })
}
func (h *Hooks) Invalidated(k string) { h.try(func() { h.inner.Invalidated(k) }) }
