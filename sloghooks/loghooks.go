// Package sloghooks logs tiercache hook events through log/slog with
// sampling for hot-path events and key redaction.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery   uint64 // local/remote hit and miss events
	StaleEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr   atomic.Uint64
	staleCtr atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return util.Redact(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) lookup(event, localKey string) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug(event, "key", h.redact(localKey))
}

func (h *Hooks) LocalHit(k string)   { h.lookup("tiercache.local_hit", k) }
func (h *Hooks) LocalMiss(k string)  { h.lookup("tiercache.local_miss", k) }
func (h *Hooks) RemoteHit(k string)  { h.lookup("tiercache.remote_hit", k) }
func (h *Hooks) RemoteMiss(k string) { h.lookup("tiercache.remote_miss", k) }

func (h *Hooks) RemoteUnavailable(op, localKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.remote_unavailable",
		"op", op,
		"key", h.redact(localKey),
		"err", err)
}

func (h *Hooks) DecodeFailed(localKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.decode_failed",
		"key", h.redact(localKey),
		"err", err)
}

func (h *Hooks) StaleLocal(localKey, reason string) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("tiercache.stale_local",
		"key", h.redact(localKey),
		"reason", reason)
}

func (h *Hooks) DegradedWrite(localKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.degraded_write",
		"key", h.redact(localKey),
		"msg", "written locally with unconfirmed version; remote tier unreachable")
}

func (h *Hooks) PublishFailed(localKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tiercache.publish_failed",
		"key", h.redact(localKey),
		"err", err)
}

func (h *Hooks) Invalidated(localKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("tiercache.invalidated", "key", h.redact(localKey))
}
