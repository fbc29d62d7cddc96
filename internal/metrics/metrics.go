// Package metrics holds the Prometheus collectors for an ingestion run.
//
// Collectors live in a private registry so tests and repeated runs in one process do not
// collide with the global default registry. After a batch run the registry can be written
// to a node_exporter textfile; the HTTP API serves it on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "event_harvester"

// Metrics groups the collectors updated by the pipeline. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	fetches     *prometheus.CounterVec
	blocks      *prometheus.CounterVec
	candidates  *prometheus.CounterVec
	ingested    *prometheus.CounterVec
	rows        *prometheus.CounterVec
	runDuration prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// New registers all collectors in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "HTTP fetches against the source, by kind (page, batch) and status.",
		}, []string{"kind", "status"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jsonld_blocks_total",
			Help:      "Structured-data blocks seen, by decode status.",
		}, []string{"status"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Event entities found in blocks, by validation result.",
		}, []string{"result"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_total",
			Help:      "Candidates processed by the coordinator, by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows created or updated, by entity.",
		}, []string{"entity", "op"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last ingestion run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last run finished without a fatal error.",
		}),
	}

	m.Registry.MustRegister(
		m.fetches,
		m.blocks,
		m.candidates,
		m.ingested,
		m.rows,
		m.runDuration,
		m.lastSuccess,
		collectors.NewGoCollector(),
	)
	return m
}

// Fetch records one fetch attempt.
func (m *Metrics) Fetch(kind string, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind, status(err)).Inc()
}

// Block records one decoded (err == nil) or undecodable structured-data block.
func (m *Metrics) Block(err error) {
	if m == nil {
		return
	}
	s := "ok"
	if err != nil {
		s = "parse_error"
	}
	m.blocks.WithLabelValues(s).Inc()
}

// Candidate records one event entity that passed (valid) or failed validation.
func (m *Metrics) Candidate(valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.candidates.WithLabelValues(result).Inc()
}

// Ingested records the outcome of one candidate's atomic unit.
func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

// Row records a created or updated row for entity.
func (m *Metrics) Row(entity string, created bool) {
	if m == nil {
		return
	}
	op := "updated"
	if created {
		op = "created"
	}
	m.rows.WithLabelValues(entity, op).Inc()
}

// RunFinished records the duration of a run and, when it succeeded, its end time.
func (m *Metrics) RunFinished(d time.Duration, end time.Time, succeeded bool) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
	if succeeded {
		m.lastSuccess.Set(float64(end.Unix()))
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// WriteFile writes the registry in text exposition format, atomically, for the
// node_exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
