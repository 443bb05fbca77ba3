package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/tiercache"
)

// Adapter implements tiercache.Hooks and exports Prometheus counters.
// Labels never carry keys, so cardinality stays bounded.
type Adapter struct {
	lookups     *prometheus.CounterVec // tier, result
	unavailable *prometheus.CounterVec // op
	stale       *prometheus.CounterVec // reason
	decodeFail  prometheus.Counter
	degraded    prometheus.Counter
	pubFail     prometheus.Counter
	invalidated prometheus.Counter
}

// New constructs a Prometheus hooks adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	vec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	a := &Adapter{
		lookups:     vec("lookups_total", "Lookups by tier and result", "tier", "result"),
		unavailable: vec("remote_unavailable_total", "Remote calls degraded locally, by operation", "op"),
		stale:       vec("stale_local_total", "L1 entries dropped by verify-on-read, by reason", "reason"),
		decodeFail:  counter("decode_failures_total", "Remote payloads that failed to decode"),
		degraded:    counter("degraded_writes_total", "Writes kept locally with an unconfirmed version"),
		pubFail:     counter("publish_failures_total", "Invalidation notices that could not be sent"),
		invalidated: counter("invalidations_received_total", "L1 evictions triggered by invalidation notices"),
	}
	reg.MustRegister(a.lookups, a.unavailable, a.stale, a.decodeFail, a.degraded, a.pubFail, a.invalidated)
	return a
}

func (a *Adapter) LocalHit(string)   { a.lookups.WithLabelValues("local", "hit").Inc() }
func (a *Adapter) LocalMiss(string)  { a.lookups.WithLabelValues("local", "miss").Inc() }
func (a *Adapter) RemoteHit(string)  { a.lookups.WithLabelValues("remote", "hit").Inc() }
func (a *Adapter) RemoteMiss(string) { a.lookups.WithLabelValues("remote", "miss").Inc() }

func (a *Adapter) RemoteUnavailable(op, _ string, _ error) {
	a.unavailable.WithLabelValues(op).Inc()
}

func (a *Adapter) DecodeFailed(string, error)  { a.decodeFail.Inc() }
func (a *Adapter) StaleLocal(_, reason string) { a.stale.WithLabelValues(reason).Inc() }
func (a *Adapter) DegradedWrite(string)        { a.degraded.Inc() }
func (a *Adapter) PublishFailed(string, error) { a.pubFail.Inc() }
func (a *Adapter) Invalidated(string)          { a.invalidated.Inc() }

// Compile-time check: ensure Adapter implements tiercache.Hooks.
var _ tiercache.Hooks = (*Adapter)(nil)
