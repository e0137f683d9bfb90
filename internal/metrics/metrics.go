// Package metrics wires this server's Prometheus collectors, following
// go-server-3's Registry shape: one struct of promauto collectors built
// against an explicit prometheus.Registry rather than the global default,
// so a process can build more than one (tests, multiple listeners) without
// a duplicate-registration panic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector this server exposes at /metrics.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsAccepted *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	ConnectionsActive   *prometheus.GaugeVec

	ReplaysActive  prometheus.Gauge
	ReplayState    *prometheus.GaugeVec
	ReplaysSaved   *prometheus.CounterVec
	BytesMerged    prometheus.Counter

	ProcessRSSBytes    prometheus.Gauge
	ProcessCPUPercent  prometheus.Gauge
	GoroutinesActive   prometheus.Gauge
}

// NewRegistry builds and registers every collector.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ConnectionsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replayrelay_connections_accepted_total",
			Help: "Total connections accepted, by kind (writer/reader).",
		}, []string{"kind"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replayrelay_connections_rejected_total",
			Help: "Total connections rejected before dispatch, by reason.",
		}, []string{"reason"}),
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replayrelay_connections_active",
			Help: "Currently open connections, by kind (writer/reader).",
		}, []string{"kind"}),
		ReplaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replayrelay_replays_active",
			Help: "Number of match_ids currently tracked by the registry.",
		}),
		ReplayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "replayrelay_replay_state",
			Help: "Number of replays currently in each lifecycle state.",
		}, []string{"state"}),
		ReplaysSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replayrelay_replays_saved_total",
			Help: "Total replays saved to the vault, by outcome.",
		}, []string{"outcome"}),
		BytesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "replayrelay_bytes_merged_total",
			Help: "Total bytes appended to merged replay streams.",
		}),
		ProcessRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replayrelay_process_rss_bytes",
			Help: "Memory obtained from the OS by the Go runtime (runtime.MemStats.Sys), sampled periodically.",
		}),
		ProcessCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replayrelay_process_cpu_percent",
			Help: "Process CPU usage percentage, sampled periodically.",
		}),
		GoroutinesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replayrelay_goroutines_active",
			Help: "Current number of live goroutines (runtime.NumGoroutine).",
		}),
	}

	reg.MustRegister(
		r.ConnectionsAccepted,
		r.ConnectionsRejected,
		r.ConnectionsActive,
		r.ReplaysActive,
		r.ReplayState,
		r.ReplaysSaved,
		r.BytesMerged,
		r.ProcessRSSBytes,
		r.ProcessCPUPercent,
		r.GoroutinesActive,
	)

	return r
}

// Handler returns an HTTP handler serving this registry's collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetReplayStateCounts replaces the replay_state gauge vector's values,
// called by the registry's periodic sampler rather than on every
// transition, to keep the hot lifecycle path free of metrics calls.
func (r *Registry) SetReplayStateCounts(counts map[string]int) {
	r.ReplayState.Reset()
	for state, n := range counts {
		r.ReplayState.WithLabelValues(state).Set(float64(n))
	}
}
