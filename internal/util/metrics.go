package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CascadesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascades_total",
		Help: "Total number of cascades by final status",
	}, []string{"status"})

	CascadeItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_items_total",
		Help: "Total number of order line items attempted downstream",
	}, []string{"result"})

	CascadeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cascade_duration_seconds",
		Help:    "Wall time of a full ticket/order/items cascade",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})

	DedupSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedup_skipped_total",
		Help: "Total number of events skipped because they were already processed",
	}, []string{"source"})

	DedupPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_pruned_total",
		Help: "Total number of dedup keys removed by the retention window",
	})

	DownstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "downstream_retries_total",
		Help: "Total number of retried downstream calls",
	}, []string{"operation"})

	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_fallbacks_total",
		Help: "Total number of lookups resolved with a fallback value",
	}, []string{"lookup"})

	RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rate_limit_wait_seconds",
		Help:    "Time callers spent waiting on the per-class rate limiter",
		Buckets: []float64{0, 0.1, 0.5, 1, 2, 3, 5},
	}, []string{"class"})

	FeedPollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_poll_cycles_total",
		Help: "Total number of polling cycles by result",
	}, []string{"result"})

	PushReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_reconnects_total",
		Help: "Total number of push stream reconnect attempts",
	})

	PushMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "push_messages_total",
		Help: "Total number of push messages received by event type",
	}, []string{"event"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
