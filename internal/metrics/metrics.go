// Package metrics exposes the engine's prometheus instruments: the
// watchdog intervention counter (§3 Telemetry Counters) plus a handful of
// buffer/ring-buffer gauges the developer UI reads (§4.9).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every instrument the engine updates inline as it runs.
// Unlike a scrape-time collector, these are ordinary prometheus.Counter/
// Gauge values incremented directly at the call site — the watchdog fires
// every 100 ms and must not wait for a scrape to observe its own counter.
type Registry struct {
	WatchdogInterventionsTotal *prometheus.CounterVec

	RingBufferUnderruns      *prometheus.CounterVec
	RingBufferGraceUnderruns *prometheus.CounterVec
	ActiveDecodeStreams      prometheus.Gauge
	QueueDepth               prometheus.Gauge
}

// New constructs a Registry with every instrument registered against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to serve /metrics from the default handler.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		WatchdogInterventionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wkmp_watchdog_interventions_total",
			Help: "Count of watchdog-triggered recoveries, by intervention_type (decode, mixer). Non-zero indicates a missed event.",
		}, []string{"intervention_type"}),
		RingBufferUnderruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wkmp_ringbuffer_underruns_total",
			Help: "Count of ring-buffer pops that found no data available, after the startup grace period.",
		}, []string{"queue_entry_id"}),
		RingBufferGraceUnderruns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wkmp_ringbuffer_grace_underruns_total",
			Help: "Count of ring-buffer pops that found no data available, during the startup grace period (not treated as an error).",
		}, []string{"queue_entry_id"}),
		ActiveDecodeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wkmp_active_decode_streams",
			Help: "Number of decode chain slots currently allocated.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wkmp_queue_depth",
			Help: "Number of entries in the queue: current, next, and the queued tail list.",
		}),
	}

	reg.MustRegister(
		r.WatchdogInterventionsTotal,
		r.RingBufferUnderruns,
		r.RingBufferGraceUnderruns,
		r.ActiveDecodeStreams,
		r.QueueDepth,
	)
	return r
}
