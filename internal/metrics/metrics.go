// Package metrics holds the Prometheus collectors of the store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Transactions
	Transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_transactions_total",
		Help: "The total number of decided transactions",
	}, []string{"base", "result"})

	CommitLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "boxbase_commit_latency_seconds",
		Help: "The latency of index commits",
	}, []string{"base"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "boxbase_queue_depth",
		Help: "The number of transactions waiting behind the in-flight one",
	}, []string{"base"})

	// Coordinators
	CoordinatorStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_coordinator_starts_total",
		Help: "The total number of base coordinators started",
	}, []string{"base"})

	CoordinatorFatal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_coordinator_fatal_total",
		Help: "The total number of base coordinators stopped by an unrecoverable failure",
	}, []string{"base"})

	// Ledger
	LedgerWriteErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_ledger_write_errors_total",
		Help: "The total number of failed revision ledger writes",
	}, []string{"base"})

	// Events
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_events_published_total",
		Help: "The total number of change events published",
	}, []string{"base"})

	PublishErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_publish_errors_total",
		Help: "The total number of change event publish errors",
	}, []string{"base"})

	// HTTP
	Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boxbase_http_requests_total",
		Help: "The total number of HTTP requests",
	}, []string{"route", "status"})
)

func init() {
	prometheus.MustRegister(Transactions)
	prometheus.MustRegister(CommitLatency)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(CoordinatorStarts)
	prometheus.MustRegister(CoordinatorFatal)
	prometheus.MustRegister(LedgerWriteErrors)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(Requests)
}
