// Package metrics defines the engine's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so tests can skip registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsync"

// Metrics groups every collector the engine updates.
type Metrics struct {
	UpdatesApplied *prometheus.CounterVec
	SeqGaps        prometheus.Counter
	HistoryFetches *prometheus.CounterVec
	PendingSends   *prometheus.CounterVec
	MirrorOps      *prometheus.CounterVec
	RPCCalls       *prometheus.CounterVec
	RPCRetries     prometheus.Counter
	Reloads        prometheus.Counter
	Dialogs        prometheus.Gauge
}

// New constructs the collectors and registers them on reg (skipped when reg is nil).
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		UpdatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "updates", Name: "applied_total",
			Help: "Push updates applied, by kind.",
		}, []string{"kind"}),
		SeqGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "updates", Name: "seq_gaps_total",
			Help: "Sequence gaps that forced a reload.",
		}),
		HistoryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "requests_total",
			Help: "History requests, by source (cache, network, shared).",
		}, []string{"source"}),
		PendingSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pending", Name: "sends_total",
			Help: "Outgoing messages, by outcome.",
		}, []string{"outcome"}),
		MirrorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "mirror_ops_total",
			Help: "Read-model mirror operations, by result.",
		}, []string{"result"}),
		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "calls_total",
			Help: "RPC calls, by method and result.",
		}, []string{"method", "result"}),
		RPCRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "retries_total",
			Help: "RPC attempts retried after a transient error.",
		}),
		Reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dialogs", Name: "reloads_total",
			Help: "Conversation reloads requested.",
		}),
		Dialogs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dialogs", Name: "count",
			Help: "Dialogs currently held in memory.",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.UpdatesApplied, m.SeqGaps, m.HistoryFetches, m.PendingSends,
		m.MirrorOps, m.RPCCalls, m.RPCRetries, m.Reloads, m.Dialogs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Update counts one applied update of kind.
func (m *Metrics) Update(kind string) {
	if m != nil {
		m.UpdatesApplied.WithLabelValues(kind).Inc()
	}
}

// Gap counts one sequence gap.
func (m *Metrics) Gap() {
	if m != nil {
		m.SeqGaps.Inc()
	}
}

// History counts one history request served from source.
func (m *Metrics) History(source string) {
	if m != nil {
		m.HistoryFetches.WithLabelValues(source).Inc()
	}
}

// Pending counts one outgoing message outcome.
func (m *Metrics) Pending(outcome string) {
	if m != nil {
		m.PendingSends.WithLabelValues(outcome).Inc()
	}
}

// Mirror counts one mirror operation result.
func (m *Metrics) Mirror(result string) {
	if m != nil {
		m.MirrorOps.WithLabelValues(result).Inc()
	}
}

// RPC counts one RPC call result.
func (m *Metrics) RPC(method, result string) {
	if m != nil {
		m.RPCCalls.WithLabelValues(method, result).Inc()
	}
}

// Retry counts one retried RPC attempt.
func (m *Metrics) Retry() {
	if m != nil {
		m.RPCRetries.Inc()
	}
}

// Reload counts one conversation reload.
func (m *Metrics) Reload() {
	if m != nil {
		m.Reloads.Inc()
	}
}

// SetDialogs records the dialog count.
func (m *Metrics) SetDialogs(n int) {
	if m != nil {
		m.Dialogs.Set(float64(n))
	}
}
