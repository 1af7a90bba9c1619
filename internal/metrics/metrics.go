package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"conceptnorm/internal/models"
)

var (
	catalogSizeDesc = prometheus.NewDesc(
		"conceptnorm_catalog_entries",
		"Active canonical catalog entries by kind",
		[]string{"kind"},
		nil,
	)
	pendingConceptsDesc = prometheus.NewDesc(
		"conceptnorm_pending_concepts",
		"Concepts not yet linked to a canonical entry, by kind",
		[]string{"kind"},
		nil,
	)
)

var (
	normalizerItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptnorm_normalizer_items_total",
		Help: "Normalizer item outcomes by kind",
	}, []string{"kind", "outcome"})

	canonicalsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptnorm_canonicals_created_total",
		Help: "Catalog entries inserted by normalizers",
	}, []string{"kind"})

	collaboratorDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conceptnorm_collaborator_request_duration_seconds",
		Help:    "Latency of classifier, grouping and composer calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"collaborator", "result"})

	backlogRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conceptnorm_backlog_runs_total",
		Help: "Backlog drain runs by result",
	}, []string{"result"})

	topicsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conceptnorm_topics_created_total",
		Help: "Topics created by clustering runs",
	})
)

// CatalogStats is the read side the scrape-time collector needs.
type CatalogStats interface {
	CountCanonicals(ctx context.Context, kind models.Kind) (int64, error)
	CountPending(ctx context.Context, kind models.Kind) (int64, error)
}

// CatalogCollector is a custom Prometheus collector that reads catalog sizes
// and pending backlog from the database on each scrape.
type CatalogCollector struct {
	stats   CatalogStats
	timeout time.Duration
}

// NewCatalogCollector creates a collector bounded by a per-scrape timeout.
func NewCatalogCollector(stats CatalogStats) *CatalogCollector {
	return &CatalogCollector{stats: stats, timeout: 5 * time.Second}
}

// Describe sends the metric descriptors to the channel.
func (c *CatalogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- catalogSizeDesc
	ch <- pendingConceptsDesc
}

// Collect queries the database for catalog sizes and backlog per kind.
func (c *CatalogCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for _, kind := range models.Kinds {
		if n, err := c.stats.CountCanonicals(ctx, kind); err != nil {
			slog.Error("failed to collect catalog size", "kind", kind, "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(catalogSizeDesc, prometheus.GaugeValue, float64(n), string(kind))
		}
		if n, err := c.stats.CountPending(ctx, kind); err != nil {
			slog.Error("failed to collect pending concepts", "kind", kind, "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(pendingConceptsDesc, prometheus.GaugeValue, float64(n), string(kind))
		}
	}
}

var initOnce sync.Once

// Init registers the collectors with the default registry.
// Must be called once at startup.
func Init(stats CatalogStats) {
	initOnce.Do(func() {
		prometheus.MustRegister(
			NewCatalogCollector(stats),
			normalizerItems,
			canonicalsCreated,
			collaboratorDuration,
			backlogRuns,
			topicsCreated,
		)
	})
}

// RecordNormalizerOutcome adds n items with the given outcome.
func RecordNormalizerOutcome(kind models.Kind, outcome string, n int) {
	if n <= 0 {
		return
	}
	normalizerItems.WithLabelValues(string(kind), outcome).Add(float64(n))
}

// RecordCanonicalsCreated adds n new catalog entries for kind.
func RecordCanonicalsCreated(kind models.Kind, n int) {
	if n > 0 {
		canonicalsCreated.WithLabelValues(string(kind)).Add(float64(n))
	}
}

// ObserveCollaborator records one collaborator call started at start.
func ObserveCollaborator(name string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	collaboratorDuration.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
}

// RecordBacklogRun counts a finished backlog run.
func RecordBacklogRun(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	backlogRuns.WithLabelValues(result).Inc()
}

// RecordTopicsCreated adds n created topics.
func RecordTopicsCreated(n int) {
	if n > 0 {
		topicsCreated.Add(float64(n))
	}
}
