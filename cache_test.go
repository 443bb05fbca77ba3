package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/tiercache/bus"
	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/local"
	"github.com/unkn0wn-root/tiercache/remote"
)

// ==============================
// Test doubles
// ==============================

// mapLocal is a deterministic L1: no admission policy, callbacks fire
// synchronously on overwrite and removal.
type mapLocal[V any] struct {
	mu sync.Mutex
	m  map[string]mapEntry[V]
}

type mapEntry[V any] struct {
	v       V
	onEvict local.EvictFunc
}

var _ local.Store[struct{}] = (*mapLocal[struct{}])(nil)

func newMapLocal[V any]() *mapLocal[V] { return &mapLocal[V]{m: make(map[string]mapEntry[V])} }

func (l *mapLocal[V]) Set(key string, v V, _ local.Expiration, onEvict local.EvictFunc) {
	l.mu.Lock()
	prev, had := l.m[key]
	l.m[key] = mapEntry[V]{v: v, onEvict: onEvict}
	l.mu.Unlock()
	if had && prev.onEvict != nil {
		prev.onEvict()
	}
}

func (l *mapLocal[V]) Get(key string) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[key]
	return e.v, ok
}

func (l *mapLocal[V]) Remove(key string) {
	l.mu.Lock()
	e, ok := l.m[key]
	delete(l.m, key)
	l.mu.Unlock()
	if ok && e.onEvict != nil {
		e.onEvict()
	}
}

func (l *mapLocal[V]) Close() error { return nil }

func (l *mapLocal[V]) has(key string) bool {
	_, ok := l.Get(key)
	return ok
}

var (
	errDown      = errors.New("dial tcp 10.0.0.1:6379: connect: connection refused")
	errBadHeader = errors.New("bad record header")
)

// flakyRemote counts calls and can simulate an unreachable store.
type flakyRemote struct {
	remote.Store
	down atomic.Bool

	reads, versionReads, writes, touches, deletes atomic.Int64

	// readGate, if set, blocks Read until closed or ctx is done.
	readGate chan struct{}
	// touchGate, if set, blocks Touch until closed or ctx is done.
	touchGate chan struct{}
	// corrupt makes every existing record unparseable.
	corrupt atomic.Bool
}

func newFlakyRemote() *flakyRemote { return &flakyRemote{Store: remote.NewMemory(0)} }

func (r *flakyRemote) Write(ctx context.Context, key string, p []byte, ttl time.Duration) (uint64, error) {
	r.writes.Add(1)
	if r.down.Load() {
		return 0, errDown
	}
	return r.Store.Write(ctx, key, p, ttl)
}

func (r *flakyRemote) Read(ctx context.Context, key string) (remote.Record, bool, error) {
	r.reads.Add(1)
	if r.readGate != nil {
		select {
		case <-r.readGate:
		case <-ctx.Done():
			return remote.Record{}, false, ctx.Err()
		}
	}
	if r.down.Load() {
		return remote.Record{}, false, errDown
	}
	if r.corrupt.Load() {
		return remote.Record{}, false, remote.Corrupt("flaky", key, errBadHeader)
	}
	return r.Store.Read(ctx, key)
}

func (r *flakyRemote) ReadVersion(ctx context.Context, key string) (uint64, bool, error) {
	r.versionReads.Add(1)
	if r.down.Load() {
		return 0, false, errDown
	}
	if r.corrupt.Load() {
		return 0, false, remote.Corrupt("flaky", key, errBadHeader)
	}
	return r.Store.ReadVersion(ctx, key)
}

func (r *flakyRemote) Touch(ctx context.Context, key string, ttl time.Duration) error {
	r.touches.Add(1)
	if r.touchGate != nil {
		select {
		case <-r.touchGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.down.Load() {
		return errDown
	}
	return r.Store.Touch(ctx, key, ttl)
}

func (r *flakyRemote) Delete(ctx context.Context, key string) error {
	r.deletes.Add(1)
	if r.down.Load() {
		return errDown
	}
	return r.Store.Delete(ctx, key)
}

type countingHooks struct {
	NopHooks
	localHits, localMisses, remoteHits, remoteMisses atomic.Int64
	unavailable, decodeFailed, stale, degraded       atomic.Int64
	publishFailed, invalidated                       atomic.Int64
	lastStale                                        atomic.Value
}

func (h *countingHooks) LocalHit(string)                         { h.localHits.Add(1) }
func (h *countingHooks) LocalMiss(string)                        { h.localMisses.Add(1) }
func (h *countingHooks) RemoteHit(string)                        { h.remoteHits.Add(1) }
func (h *countingHooks) RemoteMiss(string)                       { h.remoteMisses.Add(1) }
func (h *countingHooks) RemoteUnavailable(string, string, error) { h.unavailable.Add(1) }
func (h *countingHooks) DecodeFailed(string, error)              { h.decodeFailed.Add(1) }
func (h *countingHooks) DegradedWrite(string)                    { h.degraded.Add(1) }
func (h *countingHooks) PublishFailed(string, error)             { h.publishFailed.Add(1) }
func (h *countingHooks) Invalidated(string)                      { h.invalidated.Add(1) }
func (h *countingHooks) StaleLocal(_, reason string) {
	h.stale.Add(1)
	h.lastStale.Store(reason)
}

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type session struct {
	Token string `json:"token"`
}

type fixture struct {
	cache  Cache[user]
	impl   *cache[user]
	local  *mapLocal[user]
	remote *flakyRemote
	hooks  *countingHooks
}

func testSettings() Settings {
	s := DefaultSettings()
	s.KeyPrefix = "users"
	s.RemoteTimeout = 0
	return s
}

func newFixture(t *testing.T, r *flakyRemote, optsOpt func(*Options[user])) *fixture {
	t.Helper()
	if r == nil {
		r = newFlakyRemote()
	}
	f := &fixture{local: newMapLocal[user](), remote: r, hooks: &countingHooks{}}
	opts := Options[user]{
		Settings:  testSettings(),
		Namespace: "user",
		Remote:    r,
		Local:     f.local,
		Codec:     c.JSON[user]{},
		Hooks:     f.hooks,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[user](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	f.cache = cc
	f.impl = mustImpl(t, cc)
	return f
}

func mustImpl[V any](t *testing.T, cc Cache[V]) *cache[V] {
	t.Helper()
	impl, ok := cc.(*cache[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

func remoteVersion(t *testing.T, s remote.Store, key string) uint64 {
	t.Helper()
	n, _, err := s.ReadVersion(context.Background(), key)
	if err != nil {
		t.Fatalf("ReadVersion(%q): %v", key, err)
	}
	return n
}

// ==============================
// Read path
// ==============================

func TestGetNeverWrittenIsAbsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)

	for _, id := range []string{"u1", "", "with:colon"} {
		v, ok, err := f.cache.Get(ctx, id)
		if err != nil || ok {
			t.Fatalf("Get(%q) = %v, %v, %v; want absent", id, v, ok, err)
		}
		if _, res, err := f.cache.Lookup(ctx, id); err != nil || res != Miss {
			t.Fatalf("Lookup(%q) = %v, %v; want miss", id, res, err)
		}
	}
	if f.local.has("user:u1") {
		t.Fatalf("a miss must not populate L1")
	}
}

func TestReadYourWriteWithoutRemoteRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	want := user{ID: "1", Name: "Ada"}

	if err := f.cache.Set(ctx, "u1", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, ok, err := f.cache.Get(ctx, "u1")
		if err != nil || !ok || got != want {
			t.Fatalf("Get #%d = %v, %v, %v", i, got, ok, err)
		}
	}
	if n := f.remote.reads.Load(); n != 0 {
		t.Fatalf("expected no remote reads, got %d", n)
	}
	if v, ok := f.impl.versions.get("user:u1"); !ok || v != confirmedVersion(1) {
		t.Fatalf("version table = %+v, %v; want confirmed 1", v, ok)
	}
}

func TestMissPopulatesFromRemote(t *testing.T) {
	ctx := context.Background()
	r := newFlakyRemote()
	payload, _ := c.JSON[user]{}.Encode(user{ID: "7", Name: "Grace"})
	for i := 0; i < 3; i++ {
		if _, err := r.Store.Write(ctx, "users:u7", payload, time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	f := newFixture(t, r, nil)

	got, res, err := f.cache.Lookup(ctx, "u7")
	if err != nil || res != Hit || got.Name != "Grace" {
		t.Fatalf("Lookup = %v, %v, %v", got, res, err)
	}
	if v, _ := f.impl.versions.get("user:u7"); v != confirmedVersion(3) {
		t.Fatalf("populated with version %+v, want 3", v)
	}
	_, _, _ = f.cache.Get(ctx, "u7")
	if n := f.remote.reads.Load(); n != 1 {
		t.Fatalf("second Get should be an L1 hit, reads=%d", n)
	}
	if f.hooks.remoteHits.Load() != 1 || f.hooks.localHits.Load() != 1 {
		t.Fatalf("hooks: remoteHits=%d localHits=%d", f.hooks.remoteHits.Load(), f.hooks.localHits.Load())
	}
}

func TestStampedeSingleRemoteRead(t *testing.T) {
	ctx := context.Background()
	r := newFlakyRemote()
	payload, _ := c.JSON[user]{}.Encode(user{ID: "hot", Name: "Hot"})
	if _, err := r.Store.Write(ctx, "users:hot", payload, time.Minute); err != nil {
		t.Fatal(err)
	}
	r.readGate = make(chan struct{})
	f := newFixture(t, r, nil)

	const K = 64
	results := make([]user, K)
	var g errgroup.Group
	for i := 0; i < K; i++ {
		g.Go(func() error {
			v, ok, err := f.cache.Get(ctx, "hot")
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("caller %d missed", i)
			}
			results[i] = v
			return nil
		})
	}

	// let the winner block inside Read while the rest pile up on the lock
	NewWithT(t).Eventually(f.remote.reads.Load).Should(BeEquivalentTo(1))
	time.Sleep(20 * time.Millisecond)
	close(r.readGate)

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := f.remote.reads.Load(); n != 1 {
		t.Fatalf("remote reads = %d, want exactly 1", n)
	}
	for i, v := range results {
		if v != results[0] || v.Name != "Hot" {
			t.Fatalf("caller %d got %v", i, v)
		}
	}
	if n := f.impl.locks.Len(); n != 0 {
		t.Fatalf("lock table not pruned: %d entries", n)
	}
}

func TestOutageOnMissReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	f.remote.down.Store(true)

	if _, ok, err := f.cache.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("Get during outage = %v, %v; want absent, nil", ok, err)
	}
	if _, res, err := f.cache.Lookup(ctx, "u1"); err != nil || res != Unknown {
		t.Fatalf("Lookup during outage = %v, %v; want unknown", res, err)
	}
	if f.hooks.unavailable.Load() != 2 {
		t.Fatalf("unavailable hook count = %d", f.hooks.unavailable.Load())
	}
}

func TestDecodeFailureIsMissAndNotCached(t *testing.T) {
	ctx := context.Background()
	r := newFlakyRemote()
	if _, err := r.Store.Write(ctx, "users:bad", []byte("{not json"), time.Minute); err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, r, nil)

	_, res, err := f.cache.Lookup(ctx, "bad")
	if err != nil || res != Unknown {
		t.Fatalf("Lookup = %v, %v; want unknown", res, err)
	}
	if f.hooks.decodeFailed.Load() != 1 {
		t.Fatalf("DecodeFailed not reported")
	}
	if f.local.has("user:bad") {
		t.Fatalf("undecodable payload must not reach L1")
	}
	if _, ok, _ := f.cache.Get(ctx, "bad"); ok {
		t.Fatalf("Get should miss")
	}
}

// ==============================
// Write path
// ==============================

func TestConcurrentSetsBumpVersionByN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	if err := f.cache.Set(ctx, "u1", user{ID: "seed"}); err != nil {
		t.Fatal(err)
	}
	before := remoteVersion(t, f.remote, "users:u1")

	const N = 32
	var g errgroup.Group
	for i := 0; i < N; i++ {
		g.Go(func() error {
			return f.cache.Set(ctx, "u1", user{ID: fmt.Sprint(i)})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if after := remoteVersion(t, f.remote, "users:u1"); after != before+N {
		t.Fatalf("version %d -> %d, want +%d", before, after, N)
	}
	rec, _, _ := f.remote.Store.Read(ctx, "users:u1")
	last, err := c.JSON[user]{}.Decode(rec.Data)
	if err != nil {
		t.Fatal(err)
	}
	got, _, _ := f.cache.Get(ctx, "u1")
	if got != last {
		t.Fatalf("L1 holds %v but the last remote write was %v", got, last)
	}
	if v, _ := f.impl.versions.get("user:u1"); v != confirmedVersion(rec.Version) {
		t.Fatalf("L1 version %+v, remote %d", v, rec.Version)
	}
}

func TestSessionScenario(t *testing.T) {
	ctx := context.Background()
	r := remote.NewMemory(0)
	s := DefaultSettings()
	s.KeyPrefix = "sessions"
	cc, err := New[session](Options[session]{Settings: s, Remote: r})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cc.Close(ctx) })

	if err := cc.Set(ctx, "u1", session{Token: "abc"}); err != nil {
		t.Fatal(err)
	}
	if v := remoteVersion(t, r, "sessions:u1"); v != 1 {
		t.Fatalf("version after first write = %d", v)
	}
	if err := cc.Set(ctx, "u1", session{Token: "def"}); err != nil {
		t.Fatal(err)
	}
	if v := remoteVersion(t, r, "sessions:u1"); v != 2 {
		t.Fatalf("version after second write = %d", v)
	}
	got, ok, err := cc.Get(ctx, "u1")
	if err != nil || !ok || got.Token != "def" {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
}

func TestDegradedSetIsUnconfirmed(t *testing.T) {
	ctx := context.Background()
	hub := bus.NewMemory()
	sub, _ := hub.Subscribe(ctx, DefaultInvalidationChannel)
	f := newFixture(t, nil, func(o *Options[user]) { o.Publisher = hub })
	f.remote.down.Store(true)

	v := user{ID: "1", Name: "offline"}
	if err := f.cache.Set(ctx, "u1", v); err != nil {
		t.Fatalf("Set during outage must not fail: %v", err)
	}
	if got, ok, _ := f.cache.Get(ctx, "u1"); !ok || got != v {
		t.Fatalf("degraded write not readable locally: %v %v", got, ok)
	}
	if ver, ok := f.impl.versions.get("user:u1"); !ok || ver.confirmed {
		t.Fatalf("version = %+v, %v; want unconfirmed", ver, ok)
	}
	if f.hooks.degraded.Load() != 1 {
		t.Fatalf("DegradedWrite not reported")
	}
	if len(sub.Messages()) != 0 {
		t.Fatalf("degraded write must not broadcast")
	}
}

func TestDegradedSetSelfHealsWithVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.VerifyOnRead = true })

	f.remote.down.Store(true)
	_ = f.cache.Set(ctx, "u1", user{Name: "local-only"})
	f.remote.down.Store(false)

	// another instance wrote while we were cut off
	payload, _ := c.JSON[user]{}.Encode(user{Name: "authoritative"})
	if _, err := f.remote.Store.Write(ctx, "users:u1", payload, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, ok, err := f.cache.Get(ctx, "u1")
	if err != nil || !ok || got.Name != "authoritative" {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if reason, _ := f.hooks.lastStale.Load().(string); reason != "unconfirmed" {
		t.Fatalf("stale reason = %q", reason)
	}
}

func TestSetPublishesLocalKey(t *testing.T) {
	ctx := context.Background()
	g := NewWithT(t)
	hub := bus.NewMemory()
	sub, err := hub.Subscribe(ctx, DefaultInvalidationChannel)
	g.Expect(err).NotTo(HaveOccurred())
	f := newFixture(t, nil, func(o *Options[user]) { o.Publisher = hub })

	g.Expect(f.cache.Set(ctx, "u1", user{ID: "1"})).To(Succeed())
	g.Eventually(sub.Messages()).Should(Receive(Equal("user:u1")))

	g.Expect(f.cache.Remove(ctx, "u1")).To(Succeed())
	g.Eventually(sub.Messages()).Should(Receive(Equal("user:u1")))
}

func TestPublishFailureIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	hub := bus.NewMemory()
	_ = hub.Close()
	f := newFixture(t, nil, func(o *Options[user]) { o.Publisher = hub })

	if err := f.cache.Set(ctx, "u1", user{ID: "1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if f.hooks.publishFailed.Load() != 1 {
		t.Fatalf("PublishFailed not reported")
	}
	if _, ok, _ := f.cache.Get(ctx, "u1"); !ok {
		t.Fatalf("local write lost after publish failure")
	}
}

func TestEncodeErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	r := remote.NewMemory(0)
	cc, err := New[chan int](Options[chan int]{Settings: testSettings(), Remote: r})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cc.Close(ctx) })

	if err := cc.Set(ctx, "c", make(chan int)); err == nil {
		t.Fatalf("expected encode error for an unserializable value")
	}
	if r.Len() != 0 {
		t.Fatalf("nothing should reach the remote tier")
	}
}

// ==============================
// Remove
// ==============================

func TestRemoveDuringOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	if err := f.cache.Set(ctx, "u1", user{ID: "1"}); err != nil {
		t.Fatal(err)
	}

	f.remote.down.Store(true)
	if err := f.cache.Remove(ctx, "u1"); err != nil {
		t.Fatalf("Remove during outage: %v", err)
	}
	if _, ok, err := f.cache.Get(ctx, "u1"); err != nil || ok {
		t.Fatalf("Get after Remove = %v, %v; want absent", ok, err)
	}
	if _, ok := f.impl.versions.get("user:u1"); ok {
		t.Fatalf("version record survived Remove")
	}
}

func TestRemoveDeletesRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	_ = f.cache.Set(ctx, "u1", user{ID: "1"})

	if err := f.cache.Remove(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.remote.Store.Read(ctx, "users:u1"); ok {
		t.Fatalf("remote record not deleted")
	}
	if _, res, _ := f.cache.Lookup(ctx, "u1"); res != Miss {
		t.Fatalf("Lookup after Remove = %v", res)
	}
}

// ==============================
// Verify-on-read
// ==============================

func TestVerifyOnReadRefetchesAfterExternalWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.VerifyOnRead = true })
	_ = f.cache.Set(ctx, "u1", user{Name: "v1"})

	if got, _, _ := f.cache.Get(ctx, "u1"); got.Name != "v1" {
		t.Fatalf("first hit = %v", got)
	}
	payload, _ := c.JSON[user]{}.Encode(user{Name: "v2"})
	if _, err := f.remote.Store.Write(ctx, "users:u1", payload, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, ok, err := f.cache.Get(ctx, "u1")
	if err != nil || !ok || got.Name != "v2" {
		t.Fatalf("Get after external write = %v, %v, %v", got, ok, err)
	}
	if reason, _ := f.hooks.lastStale.Load().(string); reason != "version_mismatch" {
		t.Fatalf("stale reason = %q", reason)
	}
	if v, _ := f.impl.versions.get("user:u1"); v != confirmedVersion(2) {
		t.Fatalf("version after refetch = %+v", v)
	}
}

func TestVerifyOnReadGoneRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.VerifyOnRead = true })
	_ = f.cache.Set(ctx, "u1", user{Name: "v1"})
	_ = f.remote.Store.Delete(ctx, "users:u1")

	if _, ok, _ := f.cache.Get(ctx, "u1"); ok {
		t.Fatalf("record deleted remotely must read as absent")
	}
	if reason, _ := f.hooks.lastStale.Load().(string); reason != "gone" {
		t.Fatalf("stale reason = %q", reason)
	}
}

func TestCorruptRemoteRecordIsDecodeFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	_ = f.cache.Set(ctx, "u1", user{Name: "v1"})
	f.local.Remove("user:u1")
	f.remote.corrupt.Store(true)

	_, res, err := f.cache.Lookup(ctx, "u1")
	if err != nil || res != Unknown {
		t.Fatalf("Lookup = %v, %v; want unknown", res, err)
	}
	if f.hooks.decodeFailed.Load() != 1 || f.hooks.unavailable.Load() != 0 {
		t.Fatalf("decodeFailed=%d unavailable=%d", f.hooks.decodeFailed.Load(), f.hooks.unavailable.Load())
	}
	if f.local.has("user:u1") {
		t.Fatalf("corrupt record must not reach L1")
	}
}

func TestVerifyOnReadCorruptRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.VerifyOnRead = true })
	_ = f.cache.Set(ctx, "u1", user{Name: "v1"})
	f.remote.corrupt.Store(true)

	if _, res, _ := f.cache.Lookup(ctx, "u1"); res != Unknown {
		t.Fatalf("Lookup = %v; want unknown", res)
	}
	if reason, _ := f.hooks.lastStale.Load().(string); reason != "corrupt" {
		t.Fatalf("stale reason = %q", reason)
	}
	if f.hooks.unavailable.Load() != 0 || f.hooks.decodeFailed.Load() != 1 {
		t.Fatalf("unavailable=%d decodeFailed=%d", f.hooks.unavailable.Load(), f.hooks.decodeFailed.Load())
	}
}

func TestVerifyOnReadServesStaleDuringOutage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.VerifyOnRead = true })
	_ = f.cache.Set(ctx, "u1", user{Name: "cached"})
	f.remote.down.Store(true)

	got, ok, err := f.cache.Get(ctx, "u1")
	if err != nil || !ok || got.Name != "cached" {
		t.Fatalf("Get during outage = %v, %v, %v; want cached value", got, ok, err)
	}
	if f.hooks.unavailable.Load() != 1 || f.hooks.stale.Load() != 0 {
		t.Fatalf("unavailable=%d stale=%d", f.hooks.unavailable.Load(), f.hooks.stale.Load())
	}
}

func TestRefreshRemoteTTLOnRead(t *testing.T) {
	ctx := context.Background()
	g := NewWithT(t)
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.RefreshRemoteTTLOnRead = true })
	_ = f.cache.Set(ctx, "u1", user{Name: "x"})

	_, _, _ = f.cache.Get(ctx, "u1")
	g.Eventually(f.remote.touches.Load).Should(BeEquivalentTo(1))
	_, _, _ = f.cache.Get(ctx, "u1")
	g.Eventually(f.remote.touches.Load).Should(BeEquivalentTo(2))

	// touch failures are swallowed
	f.remote.down.Store(true)
	_, ok, err := f.cache.Get(ctx, "u1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Eventually(f.hooks.unavailable.Load).Should(BeEquivalentTo(1))
}

func TestRefreshRemoteTTLDoesNotBlockHits(t *testing.T) {
	ctx := context.Background()
	g := NewWithT(t)
	r := newFlakyRemote()
	r.touchGate = make(chan struct{})
	f := newFixture(t, r, func(o *Options[user]) { o.Settings.RefreshRemoteTTLOnRead = true })
	// runs before the fixture's Close, which drains the queue
	t.Cleanup(func() { close(r.touchGate) })
	_ = f.cache.Set(ctx, "u1", user{Name: "x"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_, _, _ = f.cache.Get(ctx, "u1")
		}
	}()
	g.Eventually(done, 100*time.Millisecond).Should(BeClosed())
	g.Expect(f.hooks.localHits.Load()).To(BeEquivalentTo(10))
	// one refresh per key is queued at a time
	g.Expect(r.touches.Load()).To(BeNumerically("<=", 2))
}

// ==============================
// Invalidation
// ==============================

func TestInvalidationAcrossInstances(t *testing.T) {
	ctx := context.Background()
	g := NewWithT(t)
	shared := newFlakyRemote()
	hub := bus.NewMemory()
	t.Cleanup(func() { _ = hub.Close() })

	lb, err := bus.NewListener(hub, DefaultInvalidationChannel)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(lb.Start(ctx)).To(Succeed())
	t.Cleanup(func() { _ = lb.Close(ctx) })

	a := newFixture(t, shared, func(o *Options[user]) { o.Publisher = hub })
	b := newFixture(t, shared, func(o *Options[user]) { o.Publisher = hub; o.Listener = lb })

	g.Expect(a.cache.Set(ctx, "u1", user{Name: "old"})).To(Succeed())
	// drain the first notice before B caches anything
	g.Eventually(b.hooks.invalidated.Load).Should(BeEquivalentTo(1))

	got, ok, _ := b.cache.Get(ctx, "u1")
	g.Expect(ok).To(BeTrue())
	g.Expect(got.Name).To(Equal("old"))
	readsBefore := shared.reads.Load()

	g.Expect(a.cache.Set(ctx, "u1", user{Name: "new"})).To(Succeed())
	g.Eventually(func() bool { return b.local.has("user:u1") }).Should(BeFalse())
	g.Expect(b.hooks.invalidated.Load()).To(BeEquivalentTo(2))

	got, ok, _ = b.cache.Get(ctx, "u1")
	g.Expect(ok).To(BeTrue())
	g.Expect(got.Name).To(Equal("new"))
	g.Expect(shared.reads.Load()).To(Equal(readsBefore + 1))
}

func TestEvictIgnoresForeignNamespace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	_ = f.cache.Set(ctx, "u1", user{ID: "1"})

	f.impl.Evict("order:u1")
	f.impl.Evict("user")
	if !f.local.has("user:u1") {
		t.Fatalf("foreign key evicted a local entry")
	}
	f.impl.Evict("user:u1")
	if f.local.has("user:u1") {
		t.Fatalf("own key not evicted")
	}
	if _, ok := f.impl.versions.get("user:u1"); ok {
		t.Fatalf("version record survived eviction")
	}
}

// ==============================
// Version table bookkeeping
// ==============================

// spinReads hammers Get(id) until the returned stop func is called.
func spinReads(ctx context.Context, cc Cache[user], id string, n int) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_, _, _ = cc.Get(ctx, id)
				}
			}
		}()
	}
	return func() { close(done); wg.Wait() }
}

func TestSlidingDefaultLocalUnderConcurrentReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, func(o *Options[user]) {
		o.Local = nil
		o.Settings.SlidingExpiration = true
	})

	for round := 0; round < 50; round++ {
		id := fmt.Sprintf("u%d", round)
		lk := "user:" + id
		if err := f.cache.Set(ctx, id, user{Name: "old"}); err != nil {
			t.Fatal(err)
		}

		stop := spinReads(ctx, f.cache, id, 4)
		if err := f.cache.Set(ctx, id, user{Name: "new"}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
		stop()

		if got, ok, _ := f.cache.Get(ctx, id); !ok || got.Name != "new" {
			t.Fatalf("round %d: Get after Set(new) = %v, %v", round, got, ok)
		}
		if _, inL1 := f.impl.local.Get(lk); inL1 {
			if v, ok := f.impl.versions.get(lk); !ok || v != confirmedVersion(2) {
				t.Fatalf("round %d: resident entry has version %+v, %v", round, v, ok)
			}
		}

		stop = spinReads(ctx, f.cache, id, 4)
		if err := f.cache.Remove(ctx, id); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
		stop()

		if _, res, err := f.cache.Lookup(ctx, id); err != nil || res != Miss {
			t.Fatalf("round %d: Lookup after Remove = %v, %v; want miss", round, res, err)
		}
	}
}

func TestVersionTableFollowsLocalLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, nil)
	_ = f.cache.Set(ctx, "u1", user{Name: "a"})
	_ = f.cache.Set(ctx, "u1", user{Name: "b"})

	// the overwrite fired the first entry's callback; it must not drop the new version
	if v, ok := f.impl.versions.get("user:u1"); !ok || v != confirmedVersion(2) {
		t.Fatalf("version after overwrite = %+v, %v", v, ok)
	}
	f.local.Remove("user:u1") // capacity eviction, TTL, ...
	if f.impl.versions.len() != 0 {
		t.Fatalf("version table leaked %d entries", f.impl.versions.len())
	}
}

// ==============================
// Cancellation and timeouts
// ==============================

func TestCancelledContextIsReturned(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := f.cache.Get(ctx, "u1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Get: %v", err)
	}
	if err := f.cache.Set(ctx, "u1", user{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Set: %v", err)
	}
	if f.hooks.unavailable.Load() != 0 {
		t.Fatalf("cancellation must not be reported as an outage")
	}
}

func TestLockWaitHonorsDeadline(t *testing.T) {
	f := newFixture(t, nil, nil)
	h, err := f.impl.locks.Acquire(context.Background(), "user:u1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := f.cache.Get(ctx, "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get: %v", err)
	}
	h.Release()
	if n := f.impl.locks.Len(); n != 0 {
		t.Fatalf("lock table not pruned after timeout: %d", n)
	}
	if _, ok, err := f.cache.Get(context.Background(), "u1"); err != nil || ok {
		t.Fatalf("lock must be free again: %v %v", ok, err)
	}
}

func TestRemoteTimeoutCountsAsUnavailable(t *testing.T) {
	r := newFlakyRemote()
	r.readGate = make(chan struct{}) // never opened
	f := newFixture(t, r, func(o *Options[user]) { o.Settings.RemoteTimeout = 20 * time.Millisecond })

	_, res, err := f.cache.Lookup(context.Background(), "u1")
	if err != nil || res != Unknown {
		t.Fatalf("Lookup = %v, %v; want unknown, nil", res, err)
	}
	if f.hooks.unavailable.Load() != 1 {
		t.Fatalf("timeout not reported as unavailable")
	}
}

// ==============================
// Construction and lifecycle
// ==============================

func TestNewConfigErrors(t *testing.T) {
	s := DefaultSettings()
	s.LocalTTL = time.Hour
	s.RemoteTTL = time.Minute
	s.RemoteTimeout = -1

	_, err := New[user](Options[user]{Settings: s})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	// prefix, ttl ordering, timeout, nil remote
	if len(ce.Errs) != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", len(ce.Errs), ce)
	}

	hub := bus.NewMemory()
	l, _ := bus.NewListener(hub, "other")
	_, err = New[user](Options[user]{Settings: testSettings(), Remote: remote.NewMemory(0), Listener: l})
	if !errors.As(err, &ce) || len(ce.Errs) != 1 {
		t.Fatalf("listener channel mismatch not reported: %v", err)
	}
}

func TestZeroTTLsUseDefaults(t *testing.T) {
	f := newFixture(t, nil, func(o *Options[user]) { o.Settings.LocalTTL, o.Settings.RemoteTTL = 0, 0 })
	if f.impl.exp.TTL != DefaultLocalTTL || f.impl.remoteTTL != DefaultRemoteTTL {
		t.Fatalf("ttls = %s/%s", f.impl.exp.TTL, f.impl.remoteTTL)
	}
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	s := testSettings()
	s.BinarySerializer = true
	cc, err := New[user](Options[user]{Settings: s, Remote: remote.NewMemory(0)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cc.Close(ctx) })
	impl := mustImpl(t, cc)

	if impl.ns != "tiercache.user" {
		t.Fatalf("default namespace = %q", impl.ns)
	}
	if _, ok := impl.codec.(c.Msgpack[user]); !ok {
		t.Fatalf("binary serializer not selected: %T", impl.codec)
	}
	if err := cc.Set(ctx, "u1", user{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := cc.Get(ctx, "u1"); !ok || got.ID != "1" {
		t.Fatalf("default ristretto L1 round trip failed: %v %v", got, ok)
	}
}

func TestDisabledIsPassThrough(t *testing.T) {
	ctx := context.Background()
	cc, err := New[user](Options[user]{Settings: testSettings(), Disabled: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cc.Close(ctx) })
	if err := cc.Set(ctx, "u1", user{ID: "1"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cc.Get(ctx, "u1"); ok || err != nil {
		t.Fatalf("disabled cache returned a value: %v %v", ok, err)
	}
	if err := cc.Remove(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	hub := bus.NewMemory()
	l, _ := bus.NewListener(hub, DefaultInvalidationChannel)
	f := newFixture(t, nil, func(o *Options[user]) { o.Listener = l })

	if err := f.cache.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.cache.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := f.cache.Get(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after Close: %v", err)
	}
	if err := f.cache.Set(ctx, "u1", user{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after Close: %v", err)
	}
	if err := f.cache.Remove(ctx, "u1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Remove after Close: %v", err)
	}
}

func TestResultString(t *testing.T) {
	for r, want := range map[Result]string{Hit: "hit", Miss: "miss", Unknown: "unknown", Result(9): "invalid"} {
		if r.String() != want {
			t.Fatalf("%d.String() = %q", r, r.String())
		}
	}
}
