package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "quadstore"

// Metrics holds the counters of one store. Each store gets its own registry
// so several stores can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Queries       prometheus.Counter
	QueryErrors   prometheus.Counter
	QueryDuration prometheus.Histogram
	Updates       prometheus.Counter

	QuadsInserted prometheus.Counter
	QuadsRemoved  prometheus.Counter
	Commits       prometheus.Counter
	BulkLoaded    prometheus.Counter

	CatchUps          prometheus.Counter
	ReplicaGeneration prometheus.Gauge
	Reclaimed         prometheus.Counter
}

// NewMetrics creates the metrics and registers them on a fresh registry.
func NewMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}

	m := &Metrics{
		Registry:      prometheus.NewRegistry(),
		Queries:       counter("queries_total", "Number of SPARQL queries evaluated."),
		QueryErrors:   counter("query_errors_total", "Number of SPARQL queries and updates that failed."),
		Updates:       counter("updates_total", "Number of SPARQL update requests executed."),
		QuadsInserted: counter("quads_inserted_total", "Number of quads added to the store."),
		QuadsRemoved:  counter("quads_removed_total", "Number of quads removed from the store."),
		Commits:       counter("commits_total", "Number of committed write transactions."),
		BulkLoaded:    counter("bulk_loaded_quads_total", "Number of quads written by the bulk loader."),
		CatchUps:      counter("replica_catchups_total", "Number of secondary catch-ups."),
		Reclaimed:     counter("dictionary_reclaimed_terms_total", "Number of unreferenced terms deleted from the dictionary."),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "query_duration_seconds",
			Help:      "Time to prepare and evaluate a SPARQL query.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		ReplicaGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "replica_generation",
			Help:      "Commit generation last observed by the secondary follower.",
		}),
	}

	m.Registry.MustRegister(
		m.Queries, m.QueryErrors, m.QueryDuration, m.Updates,
		m.QuadsInserted, m.QuadsRemoved, m.Commits, m.BulkLoaded,
		m.CatchUps, m.ReplicaGeneration, m.Reclaimed,
	)
	return m
}
