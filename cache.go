package tiercache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/unkn0wn-root/tiercache/bus"
	c "github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/internal/keylock"
	"github.com/unkn0wn-root/tiercache/internal/util"
	"github.com/unkn0wn-root/tiercache/local"
	"github.com/unkn0wn-root/tiercache/local/ristretto"
	"github.com/unkn0wn-root/tiercache/remote"
)

type cache[V any] struct {
	ns            string
	prefix        string
	remote        remote.Store
	local         local.Store[V]
	codec         c.Codec[V]
	pub           bus.Publisher
	listener      *bus.Listener
	channel       string
	log           Logger
	hooks         Hooks
	enabled       bool
	exp           local.Expiration
	remoteTTL     time.Duration
	remoteTimeout time.Duration
	refreshOnRead bool
	verifyOnRead  bool

	versions *versionTable
	locks    *keylock.Table
	touches  *toucher // nil unless refreshOnRead
	closed   atomic.Bool
}

var _ bus.Evicter = (*cache[struct{}])(nil)

func newCache[V any](opts Options[V]) (*cache[V], error) {
	s := opts.Settings
	s.LocalTTL = coalesce(s.LocalTTL, DefaultLocalTTL)
	s.RemoteTTL = coalesce(s.RemoteTTL, DefaultRemoteTTL)
	s.InvalidationChannel = coalesce(s.InvalidationChannel, DefaultInvalidationChannel)

	err := s.check()
	if opts.Remote == nil && !opts.Disabled {
		err = multierr.Append(err, errors.New("remote store is required"))
	}
	if opts.LocalCapacity < 0 {
		err = multierr.Append(err, fmt.Errorf("local capacity must not be negative, got %d", opts.LocalCapacity))
	}
	if opts.Listener != nil && opts.Listener.Channel() != s.InvalidationChannel {
		err = multierr.Append(err, fmt.Errorf("listener channel %q differs from invalidation-channel %q",
			opts.Listener.Channel(), s.InvalidationChannel))
	}
	if err != nil {
		return nil, &ConfigError{Errs: multierr.Errors(err)}
	}

	ca := &cache[V]{
		ns:            coalesce(opts.Namespace, reflect.TypeFor[V]().String()),
		prefix:        s.KeyPrefix,
		remote:        opts.Remote,
		local:         opts.Local,
		codec:         opts.Codec,
		pub:           opts.Publisher,
		listener:      opts.Listener,
		channel:       s.InvalidationChannel,
		enabled:       !opts.Disabled,
		exp:           local.Expiration{TTL: s.LocalTTL, Sliding: s.SlidingExpiration},
		remoteTTL:     s.RemoteTTL,
		remoteTimeout: s.RemoteTimeout,
		refreshOnRead: s.RefreshRemoteTTLOnRead,
		verifyOnRead:  s.VerifyOnRead,
		versions:      newVersionTable(),
		locks:         keylock.New(),
	}

	// defaults
	ca.log = coalesce[Logger](opts.Logger, NopLogger{})
	ca.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	if ca.codec == nil {
		if s.BinarySerializer {
			ca.codec = c.Msgpack[V]{}
		} else {
			ca.codec = c.JSON[V]{}
		}
	}
	if ca.local == nil {
		l, err := ristretto.New[V](ristretto.Config{
			MaxEntries: coalesce(opts.LocalCapacity, DefaultLocalCapacity),
		})
		if err != nil {
			return nil, fmt.Errorf("tiercache: local tier: %w", err)
		}
		ca.local = l
	}

	if ca.refreshOnRead && ca.enabled {
		ca.touches = newToucher(ca.refreshRemoteTTL)
	}
	if ca.listener != nil {
		ca.listener.Register(ca)
	}
	return ca, nil
}

func (ca *cache[V]) Close(_ context.Context) error {
	if !ca.closed.CompareAndSwap(false, true) {
		return nil
	}
	if ca.listener != nil {
		ca.listener.Deregister(ca)
	}
	if ca.touches != nil {
		ca.touches.close()
	}
	return ca.local.Close()
}

func (ca *cache[V]) Get(ctx context.Context, id string) (V, bool, error) {
	v, res, err := ca.Lookup(ctx, id)
	return v, res == Hit, err
}

func (ca *cache[V]) Lookup(ctx context.Context, id string) (V, Result, error) {
	var zero V
	if ca.closed.Load() {
		return zero, Unknown, ErrClosed
	}
	if !ca.enabled {
		return zero, Miss, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, Unknown, err
	}
	lk, rk := util.LocalKey(ca.ns, id), util.RemoteKey(ca.prefix, id)

	if v, ok := ca.local.Get(lk); ok {
		if !ca.verifyOnRead {
			ca.hooks.LocalHit(lk)
			ca.touch(lk, rk)
			return v, Hit, nil
		}
		st, err := ca.verify(ctx, lk, rk)
		if err != nil {
			return zero, Unknown, err
		}
		switch st {
		case fresh:
			ca.hooks.LocalHit(lk)
			ca.touch(lk, rk)
			return v, Hit, nil
		case unreachable:
			// availability over consistency: serve what we have
			ca.hooks.LocalHit(lk)
			return v, Hit, nil
		}
		// stale: fall through to the miss path
	}
	ca.hooks.LocalMiss(lk)
	return ca.fetch(ctx, lk, rk)
}

// fetch is the miss path. Only one caller per key reaches the remote tier;
// the rest wait on the key lock and then find the value in L1.
func (ca *cache[V]) fetch(ctx context.Context, lk, rk string) (V, Result, error) {
	var zero V
	h, err := ca.locks.Acquire(ctx, lk)
	if err != nil {
		return zero, Unknown, err
	}
	defer h.Release()

	if v, ok := ca.local.Get(lk); ok {
		return v, Hit, nil
	}

	rctx, cancel := ca.remoteCtx(ctx)
	rec, found, err := ca.remote.Read(rctx, rk)
	cancel()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return zero, Unknown, ctx.Err()
		case isCorrupt(err):
			ca.undecodable(lk, err)
		default:
			ca.unavailable("read", lk, err)
		}
		return zero, Unknown, nil
	}
	if !found {
		ca.hooks.RemoteMiss(lk)
		return zero, Miss, nil
	}

	v, err := ca.codec.Decode(rec.Data)
	if err != nil {
		ca.undecodable(lk, err)
		return zero, Unknown, nil
	}
	ca.populate(lk, v, confirmedVersion(rec.Version))
	ca.hooks.RemoteHit(lk)
	return v, Hit, nil
}

type freshness uint8

const (
	fresh freshness = iota
	stale
	unreachable
)

// verify compares the L1 version of lk with the remote one and evicts the
// local entry unless they match.
func (ca *cache[V]) verify(ctx context.Context, lk, rk string) (freshness, error) {
	known, tracked := ca.versions.get(lk)

	rctx, cancel := ca.remoteCtx(ctx)
	n, found, err := ca.remote.ReadVersion(rctx, rk)
	cancel()
	corrupt := err != nil && isCorrupt(err)
	if err != nil && !corrupt {
		if ctx.Err() != nil {
			return unreachable, ctx.Err()
		}
		ca.unavailable("read_version", lk, err)
		return unreachable, nil
	}

	var reason string
	switch {
	case corrupt:
		// the miss path reports the decode failure
		reason = "corrupt"
	case !found:
		reason = "gone"
	case !tracked || !known.confirmed:
		reason = "unconfirmed"
	case known.n != n:
		reason = "version_mismatch"
	default:
		return fresh, nil
	}
	ca.local.Remove(lk)
	ca.log.Debug("dropped stale local entry", Fields{"key": lk, "reason": reason, "local": known.n, "remote": n})
	ca.hooks.StaleLocal(lk, reason)
	return stale, nil
}

func (ca *cache[V]) Set(ctx context.Context, id string, v V) error {
	if ca.closed.Load() {
		return ErrClosed
	}
	if !ca.enabled {
		return nil
	}
	lk, rk := util.LocalKey(ca.ns, id), util.RemoteKey(ca.prefix, id)

	payload, err := ca.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("tiercache: encode %q: %w", lk, err)
	}

	// Serialize with the miss path so an in-flight fetch of the previous
	// record cannot land in L1 after this write.
	h, err := ca.locks.Acquire(ctx, lk)
	if err != nil {
		return err
	}
	defer h.Release()

	rctx, cancel := ca.remoteCtx(ctx)
	ver, err := ca.remote.Write(rctx, rk, payload, ca.remoteTTL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// the write may or may not have landed; make the next read ask L2
			ca.local.Remove(lk)
			return ctx.Err()
		}
		ca.unavailable("write", lk, err)
		ca.populate(lk, v, version{})
		ca.hooks.DegradedWrite(lk)
		return nil
	}

	ca.populate(lk, v, confirmedVersion(ver))
	ca.log.Debug("write committed", Fields{"key": lk, "version": ver})
	ca.publish(ctx, lk)
	return nil
}

func (ca *cache[V]) Remove(ctx context.Context, id string) error {
	if ca.closed.Load() {
		return ErrClosed
	}
	if !ca.enabled {
		return nil
	}
	lk, rk := util.LocalKey(ca.ns, id), util.RemoteKey(ca.prefix, id)

	ca.local.Remove(lk)
	ca.versions.remove(lk)

	h, err := ca.locks.Acquire(ctx, lk)
	if err != nil {
		return err
	}
	defer h.Release()
	// a fetch that finished while we waited may have repopulated
	ca.local.Remove(lk)

	rctx, cancel := ca.remoteCtx(ctx)
	err = ca.remote.Delete(rctx, rk)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ca.unavailable("delete", lk, err)
		return nil
	}
	ca.publish(ctx, lk)
	return nil
}

// Evict drops a local key named by an invalidation notice. Keys outside
// this cache's namespace are ignored.
func (ca *cache[V]) Evict(localKey string) {
	if ca.closed.Load() || !strings.HasPrefix(localKey, ca.ns+":") {
		return
	}
	ca.local.Remove(localKey)
	ca.hooks.Invalidated(localKey)
}

func (ca *cache[V]) populate(lk string, v V, ver version) {
	stamp := ca.versions.put(lk, ver)
	ca.local.Set(lk, v, ca.exp, func() { ca.versions.removeIf(lk, stamp) })
}

// publish broadcasts lk; failures are logged only.
func (ca *cache[V]) publish(ctx context.Context, lk string) {
	if ca.pub == nil {
		return
	}
	rctx, cancel := ca.remoteCtx(ctx)
	err := ca.pub.Publish(rctx, ca.channel, lk)
	cancel()
	if err != nil {
		ca.log.Warn("invalidation publish failed", Fields{"key": lk, "channel": ca.channel, "err": err})
		ca.hooks.PublishFailed(lk, err)
	}
}

// undecodable reports a remote record that exists but cannot be read back.
// It reads as Unknown and never reaches L1.
func (ca *cache[V]) undecodable(lk string, err error) {
	ca.log.Warn("remote record failed to decode; treating as miss", Fields{"key": lk, "err": err})
	ca.hooks.DecodeFailed(lk, err)
}

func isCorrupt(err error) bool {
	var de *c.DecodeError
	return errors.As(err, &de)
}

func (ca *cache[V]) unavailable(op, lk string, err error) {
	ca.log.Warn("remote tier unavailable; degrading", Fields{"op": op, "key": lk, "err": err})
	ca.hooks.RemoteUnavailable(op, lk, err)
}

func (ca *cache[V]) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ca.remoteTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, ca.remoteTimeout)
}
