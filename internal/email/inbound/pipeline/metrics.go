package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ingestMetrics tracks pipeline outcomes per message.
type ingestMetrics struct {
	fetched      prometheus.Counter
	stored       prometheus.Counter
	duplicates   prometheus.Counter
	uncorrelated *prometheus.CounterVec
	parseErrors  prometheus.Counter
	skipped      prometheus.Counter
	extractTime  prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metrics     *ingestMetrics
)

// pipelineMetrics registers the ingest metric set once per process. Multiple
// processors share the same counters.
func pipelineMetrics() *ingestMetrics {
	metricsOnce.Do(func() {
		metrics = &ingestMetrics{
			fetched: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingest_messages_total",
				Help: "Total messages handed to the ingest pipeline",
			}),
			stored: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingest_proposals_stored_total",
				Help: "Total proposals upserted from inbound messages",
			}),
			duplicates: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingest_duplicates_total",
				Help: "Total messages rejected by message-id dedup",
			}),
			uncorrelated: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ingest_uncorrelated_total",
				Help: "Total messages dropped without vendor or RFP attribution",
			}, []string{"reason"}),
			parseErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingest_parse_errors_total",
				Help: "Total messages whose envelope could not be parsed",
			}),
			skipped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "ingest_skipped_total",
				Help: "Total correlated messages skipped after extraction or scoring failure",
			}),
			extractTime: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "ingest_extraction_duration_seconds",
				Help:    "Proposal extraction latency",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return metrics
}
