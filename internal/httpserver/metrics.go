package httpserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgen_loaded_total",
		Help: "Number of first-page feed skeleton requests served.",
	}, []string{"feed"})

	feedScrolled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedgen_scrolled_total",
		Help: "Number of paginated (cursored) feed skeleton requests served.",
	}, []string{"feed"})

	feedPageSize = promauto.NewSummary(prometheus.SummaryOpts{
		Name:       "feedgen_page_size",
		Help:       "Distribution of feed skeleton page sizes.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	feedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedgen_request_duration_seconds",
		Help:    "Latency of feed skeleton requests.",
		Buckets: prometheus.DefBuckets,
	})
)
