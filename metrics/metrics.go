// Package metrics exposes Prometheus instrumentation for the service.
// Timings are tracked as count/total/avg gauge triplets so dashboards can
// read averages without rate() windows.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Embedding pipeline counters.
var (
	EmbeddingBatchStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_batch_jobs_started",
		Help: "Embedding batch requests started.",
	})
	EmbeddingBatchSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_batch_jobs_succeeded",
		Help: "Embedding batch requests that succeeded.",
	})
	EmbeddingBatchFailedAsync = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_batch_jobs_failed_async",
		Help: "Embedding batch requests that failed after all retries.",
	})
	EmbeddingBatchFailedPerItem = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_batch_jobs_failed_per_item",
		Help: "Individual texts that failed in per-item fallback.",
	})
	EmbeddingFallbackUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedding_batch_jobs_fallback_per_item_used",
		Help: "Batches that fell back to per-item embedding.",
	})
)

// RagQueries counts completed RAG queries by query type.
var RagQueries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rag_queries_total",
	Help: "Completed RAG queries by query type.",
}, []string{"query_type"})

// JobsProcessed counts finished background jobs by queue and outcome.
var JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jobs_processed_total",
	Help: "Background jobs finished by queue and outcome.",
}, []string{"queue", "outcome"})

// timing is one named timing series: count, total ms, derived avg ms.
type timing struct {
	count   prometheus.Gauge
	totalMs prometheus.Gauge
	avgMs   prometheus.Gauge

	n     int64
	total float64
}

// Timings records named operation durations.
type Timings struct {
	mu     sync.Mutex
	series map[string]*timing
}

// NewTimings creates an empty timing registry.
func NewTimings() *Timings {
	return &Timings{series: make(map[string]*timing)}
}

// Observe adds one duration sample (in milliseconds) to the named series,
// registering its gauges on first use.
func (t *Timings) Observe(name string, ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.series[name]
	if !ok {
		s = &timing{
			count: promauto.NewGauge(prometheus.GaugeOpts{
				Name: name + "_count",
				Help: "Samples recorded for " + name + ".",
			}),
			totalMs: promauto.NewGauge(prometheus.GaugeOpts{
				Name: name + "_total_ms",
				Help: "Total milliseconds spent in " + name + ".",
			}),
			avgMs: promauto.NewGauge(prometheus.GaugeOpts{
				Name: name + "_avg_ms",
				Help: "Average milliseconds per " + name + " operation.",
			}),
		}
		t.series[name] = s
	}

	s.n++
	s.total += ms
	s.count.Set(float64(s.n))
	s.totalMs.Set(s.total)
	s.avgMs.Set(s.total / float64(s.n))
}

// Default is the process-wide timing registry.
var Default = NewTimings()
