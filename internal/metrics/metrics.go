// Package metrics provides Prometheus metrics for anchorstore
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/anchorstore/pkg/model"
)

// Metrics holds all Prometheus metrics for anchorstore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Store operation metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cascade and clone metrics
	CascadeElements      prometheus.Histogram
	CascadeRelationships prometheus.Histogram
	CascadesIncomplete   prometheus.Counter
	CloneElements        prometheus.Histogram

	// Query metrics
	TraversalPagesTotal     *prometheus.CounterVec
	NullEntriesSkippedTotal *prometheus.CounterVec

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

var sizeBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anchorstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchorstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Store operation metrics
	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorstore_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anchorstore_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.CascadeElements = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchorstore_cascade_elements",
			Help:    "Elements removed per cascading delete",
			Buckets: sizeBuckets,
		},
	)

	m.CascadeRelationships = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchorstore_cascade_relationships",
			Help:    "Relationships removed per cascading delete",
			Buckets: sizeBuckets,
		},
	)

	m.CascadesIncomplete = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "anchorstore_cascades_incomplete_total",
			Help: "Cascading deletes that stopped before removing every element",
		},
	)

	m.CloneElements = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anchorstore_clone_elements",
			Help:    "Elements created per template clone",
			Buckets: sizeBuckets,
		},
	)

	m.TraversalPagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorstore_traversal_pages_total",
			Help: "Relationship pages fetched by traversals",
		},
		[]string{"relationship_type"},
	)

	m.NullEntriesSkippedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anchorstore_null_entries_skipped_total",
			Help: "Null entries skipped by single-result queries",
		},
		[]string{"query"},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "anchorstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge until ctx is done
func (m *Metrics) RunUptime(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCascade records the outcome of a cascading delete
func (m *Metrics) RecordCascade(res model.CascadeResult, err error) {
	m.CascadeElements.Observe(float64(res.ElementsDeleted))
	m.CascadeRelationships.Observe(float64(res.RelationshipsDeleted))
	if err != nil && len(res.Remaining) > 0 {
		m.CascadesIncomplete.Inc()
	}
}

// RecordClone records the size of a template clone
func (m *Metrics) RecordClone(elements int) {
	m.CloneElements.Observe(float64(elements))
}

// PageFetched counts one relationship page read by a traversal
func (m *Metrics) PageFetched(relType string) {
	m.TraversalPagesTotal.WithLabelValues(relType).Inc()
}

// NullSkipped counts one null entry skipped by a single-result query
func (m *Metrics) NullSkipped(query string) {
	m.NullEntriesSkippedTotal.WithLabelValues(query).Inc()
}
