package tiercache

import (
	"sync"
)

// version is the last remote version this process observed for a local key.
// confirmed=false marks an entry written while L2 was unreachable; it never
// matches any remote version, so verify-on-read always refetches it.
type version struct {
	n         uint64
	confirmed bool
}

func confirmedVersion(n uint64) version { return version{n: n, confirmed: true} }

type versionEntry struct {
	ver   version
	stamp uint64
}

// versionTable tracks versions beside L1 values. Each put returns a stamp
// so an eviction callback only removes the entry it was registered with,
// never a newer one for the same key.
type versionTable struct {
	mu   sync.RWMutex
	m    map[string]versionEntry
	next uint64
}

func newVersionTable() *versionTable {
	return &versionTable{m: make(map[string]versionEntry)}
}

func (t *versionTable) put(key string, v version) uint64 {
	t.mu.Lock()
	t.next++
	stamp := t.next
	t.m[key] = versionEntry{ver: v, stamp: stamp}
	t.mu.Unlock()
	return stamp
}

func (t *versionTable) get(key string) (version, bool) {
	t.mu.RLock()
	e, ok := t.m[key]
	t.mu.RUnlock()
	return e.ver, ok
}

func (t *versionTable) removeIf(key string, stamp uint64) {
	t.mu.Lock()
	if e, ok := t.m[key]; ok && e.stamp == stamp {
		delete(t.m, key)
	}
	t.mu.Unlock()
}

func (t *versionTable) remove(key string) {
	t.mu.Lock()
	delete(t.m, key)
	t.mu.Unlock()
}

func (t *versionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
