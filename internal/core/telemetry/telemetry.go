package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Partitions
	PartitionLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderlens_partition_loads_total",
		Help: "Monthly partition loads by outcome",
	}, []string{"outcome"})

	RowIssues = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderlens_row_issues_total",
		Help: "Row normalization issues recovered with defaults",
	}, []string{"kind"})

	// Catalog
	CatalogLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderlens_catalog_loads_total",
		Help: "Catalog snapshot requests by result",
	}, []string{"result"})

	// Attach rate
	AttachCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderlens_attach_cache_total",
		Help: "Monthly attach-rate cache lookups",
	}, []string{"result"})

	// Keyword index
	IndexBuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderlens_index_builds_total",
		Help: "Keyword index rebuilds",
	})

	// Verification
	VerificationPauses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orderlens_verification_pauses_total",
		Help: "Queries paused for product verification",
	})

	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderlens_query_duration_seconds",
		Help:    "Query pipeline latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(PartitionLoads)
	prometheus.MustRegister(RowIssues)
	prometheus.MustRegister(CatalogLoads)
	prometheus.MustRegister(AttachCache)
	prometheus.MustRegister(IndexBuilds)
	prometheus.MustRegister(VerificationPauses)
	prometheus.MustRegister(QueryDuration)
}
