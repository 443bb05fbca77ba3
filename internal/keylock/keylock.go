// Package keylock provides per-key mutual exclusion with a self-pruning
// lock table.
//
// Concurrency notes:
//   - Each key maps to a weighted semaphore of size 1 plus a reference count
//     of holders and waiters. The count is only touched under the table mutex.
//   - Release drops the entry when the count reaches zero, so idle keys do
//     not accumulate lock objects. A later Acquire for the same key simply
//     creates a fresh entry.
//   - Waiting honors ctx. A cancelled waiter gives up its reference and
//     never holds the semaphore.
package keylock

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders + waiters
}

// Table maps keys to exclusive locks. The zero value is ready to use.
type Table struct {
	mu sync.Mutex
	m  map[string]*entry
}

// New returns an empty lock table.
func New() *Table { return &Table{m: make(map[string]*entry)} }

// Handle is a held lock. Release is idempotent.
type Handle struct {
	t    *Table
	key  string
	e    *entry
	once sync.Once
}

// Acquire blocks until the lock for key is held or ctx is done.
func (t *Table) Acquire(ctx context.Context, key string) (*Handle, error) {
	t.mu.Lock()
	if t.m == nil {
		t.m = make(map[string]*entry)
	}
	e, ok := t.m[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		t.m[key] = e
	}
	e.refs++
	t.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		t.unref(key, e)
		return nil, err
	}
	return &Handle{t: t, key: key, e: e}, nil
}

// Release unlocks the key and prunes its table entry if nobody else holds
// or awaits it.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.e.sem.Release(1)
		h.t.unref(h.key, h.e)
	})
}

func (t *Table) unref(key string, e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 && t.m[key] == e {
		delete(t.m, key)
	}
	t.mu.Unlock()
}

// Len reports the number of keys with a holder or waiter.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
