// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microtask_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "microtask_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})

	TaskEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microtask_task_events_total",
		Help: "Committed task and submission lifecycle events",
	}, []string{"event"})

	WithdrawalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microtask_withdrawal_events_total",
		Help: "Withdrawal requests and settlement outcomes",
	}, []string{"event"})

	CoinsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microtask_coins_moved_total",
		Help: "Coins moved by committed ledger operations, by entry type",
	}, []string{"entry_type"})
)
