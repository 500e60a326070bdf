// Package metrics exposes prometheus instrumentation for the record core
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	auditRecords  *prometheus.CounterVec
	mutations     *prometheus.CounterVec
	bulkItems     *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		auditRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdb",
			Name:      "audit_records_total",
			Help:      "Audit records written, by resource type.",
		}, []string{"resource"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdb",
			Name:      "mutations_total",
			Help:      "Committed mutations, by resource type and operation.",
		}, []string{"resource", "operation"}),
		bulkItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmdb",
			Name:      "bulk_items_total",
			Help:      "Items processed by bulk relationship changes, by outcome.",
		}, []string{"relationship", "outcome"}),
		queryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cmdb",
			Name:      "query_duration_seconds",
			Help:      "Search latency by resource type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource"}),
		gatherer: reg,
	}
}

// AuditWritten counts one audit record
func (m *Metrics) AuditWritten(resource string) {
	if m == nil {
		return
	}
	m.auditRecords.WithLabelValues(resource).Inc()
}

// Mutation counts one committed mutation
func (m *Metrics) Mutation(resource, operation string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(resource, operation).Inc()
}

// BulkItem counts one item of a bulk relationship change
func (m *Metrics) BulkItem(relationship string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	m.bulkItems.WithLabelValues(relationship, outcome).Inc()
}

// ObserveQuery records the latency of a search started at start
func (m *Metrics) ObserveQuery(resource string, start time.Time) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(resource).Observe(time.Since(start).Seconds())
}

// Handler serves the registered collectors
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
