// Package metrics provides the Prometheus counters the core touches
// directly: windows processed, events ingested, decode failures, failed
// ticks, and the per-chain worker status gauge the supervisor maintains. Emission
// itself (the HTTP /metrics endpoint) is ambient glue wired in
// cmd/ingestor, not a feature of the core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collectors the ingestion engine updates.
type Metrics struct {
	WindowsProcessed *prometheus.CounterVec
	EventsIngested   *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	TickErrors       *prometheus.CounterVec
	WorkerStatus     *prometheus.GaugeVec
}

// New registers and returns a fresh Metrics against registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		WindowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_windows_processed_total",
				Help: "Number of block-range windows processed per chain.",
			},
			[]string{"chain_id"},
		),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_events_ingested_total",
				Help: "Number of FeeEvent records persisted per chain.",
			},
			[]string{"chain_id"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_decode_errors_total",
				Help: "Number of logs that failed to decode per chain.",
			},
			[]string{"chain_id"},
		),
		TickErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestion_tick_errors_total",
				Help: "Number of failed ticks per chain.",
			},
			[]string{"chain_id"},
		),
		WorkerStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingestion_worker_status",
				Help: "1 if the chain's worker is in the given status, else 0.",
			},
			[]string{"chain_id", "status"},
		),
	}

	registerer.MustRegister(
		m.WindowsProcessed,
		m.EventsIngested,
		m.DecodeErrors,
		m.TickErrors,
		m.WorkerStatus,
	)
	return m
}
