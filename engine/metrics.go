package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHit         = "hit"
	resultMiss        = "miss"
	resultRenderError = "render_error"
	resultClosed      = "closed"
)

var (
	pageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pdfview",
		Name:      "page_requests_total",
		Help:      "Page requests by outcome (hit, miss, render_error, closed).",
	}, []string{"result"})

	cacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pdfview",
		Name:      "cache_write_failures_total",
		Help:      "Rendered pages that could not be written to the page cache.",
	})

	renderSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pdfview",
		Name:      "render_seconds",
		Help:      "Time spent rasterizing a page, excluding lock wait.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
