// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// UpstreamRequests counts chart-API requests by terminal result
// (ok, retried, failed, rejected).
var UpstreamRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "priceproxy_upstream_requests_total",
		Help: "Total upstream chart API requests by result",
	},
	[]string{"result"},
)

// UpstreamLatency records end-to-end latency of upstream calls,
// including retries and rate-limit waits.
var UpstreamLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "priceproxy_upstream_request_duration_seconds",
		Help:    "Latency in seconds of upstream fetch calls",
		Buckets: prometheus.DefBuckets,
	},
)

// IngestOutcomes counts gossip ingestion results by path (internal/public)
// and outcome (ok, unauthorized, forbidden, unavailable, bad_request).
var IngestOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "priceproxy_ingest_total",
		Help: "Total gossip ingestion attempts by path and outcome",
	},
	[]string{"path", "outcome"},
)

// GossipFanout counts outbound peer notifications by network and result.
var GossipFanout = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "priceproxy_gossip_fanout_total",
		Help: "Total outbound gossip posts by network and result",
	},
	[]string{"network", "result"},
)

// Store size gauges, refreshed by the worker after each cycle.
var (
	StoreSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "priceproxy_store_symbols",
			Help: "Number of symbols currently held in the store",
		},
	)

	StoreBars = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "priceproxy_store_bars",
			Help: "Total number of bars currently held in the store",
		},
	)
)

// RateLimited counts public gossip requests rejected by the token bucket.
var RateLimited = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "priceproxy_public_rate_limited_total",
		Help: "Public gossip requests rejected by the per-IP rate limiter",
	},
)

// BannedActors counts reputation bans issued since process start.
var BannedActors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "priceproxy_banned_actors_total",
		Help: "Source addresses banned by the reputation registry",
	},
)

func init() {
	prometheus.MustRegister(UpstreamRequests, UpstreamLatency)
	prometheus.MustRegister(IngestOutcomes, GossipFanout)
	prometheus.MustRegister(StoreSymbols, StoreBars)
	prometheus.MustRegister(RateLimited, BannedActors)
}
