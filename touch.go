package tiercache

import (
	"context"
	"sync"
)

const touchQueueLen = 1024

type touchReq struct{ lk, rk string }

// toucher refreshes remote TTLs off the read path. Requests that do not
// fit in the queue are dropped; the next hit on the key asks again.
type toucher struct {
	run     func(lk, rk string)
	q       chan touchReq
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	pending sync.Map // lk -> struct{}; one queued refresh per key
}

func newToucher(run func(lk, rk string)) *toucher {
	t := &toucher{run: run, q: make(chan touchReq, touchQueueLen)}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for r := range t.q {
			t.pending.Delete(r.lk)
			t.run(r.lk, r.rk)
		}
	}()
	return t
}

func (t *toucher) enqueue(lk, rk string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	if _, dup := t.pending.LoadOrStore(lk, struct{}{}); dup {
		return
	}
	select {
	case t.q <- touchReq{lk: lk, rk: rk}:
	default:
		t.pending.Delete(lk)
	}
}

// close drains queued refreshes.
func (t *toucher) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.q)
	t.mu.Unlock()
	t.wg.Wait()
}

// touch resets the remote TTL of an L1 hit when configured. Best-effort and
// asynchronous: the caller never waits on the remote tier.
func (ca *cache[V]) touch(lk, rk string) {
	if ca.touches == nil {
		return
	}
	ca.touches.enqueue(lk, rk)
}

func (ca *cache[V]) refreshRemoteTTL(lk, rk string) {
	timeout := coalesce(ca.remoteTimeout, DefaultRemoteTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := ca.remote.Touch(ctx, rk, ca.remoteTTL)
	switch {
	case err == nil:
	case isCorrupt(err):
		// the next miss reports it
		ca.log.Debug("skipped TTL refresh of corrupt record", Fields{"key": lk, "err": err})
	default:
		ca.unavailable("touch", lk, err)
	}
}
