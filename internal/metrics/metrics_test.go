package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/anchorstore/pkg/model"
)

// gathered sums counter values and histogram sample counts per family name.
func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				out[mf.GetName()] += float64(h.GetSampleCount())
			}
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordStoreOperation("CreateElement", "ok", 3*time.Millisecond)
	m.RecordStoreOperation("CreateElement", "ok", time.Millisecond)
	m.RecordGrpcRequest("/anchorstore.v1.AnchorStore/GetByGUID", "OK", time.Millisecond)
	m.PageFetched("TermAnchor")
	m.NullSkipped("TermAnchor")
	m.NullSkipped("TermAnchor")
	m.RecordCascade(model.CascadeResult{ElementsDeleted: 2, Remaining: []string{"g"}}, errors.New("stuck"))
	m.RecordCascade(model.CascadeResult{ElementsDeleted: 4}, nil)
	m.RecordClone(3)

	got := gathered(t, reg)
	assert.Equal(t, 2.0, got["anchorstore_store_operations_total"])
	assert.Equal(t, 2.0, got["anchorstore_store_operation_duration_seconds"])
	assert.Equal(t, 1.0, got["anchorstore_grpc_requests_total"])
	assert.Equal(t, 1.0, got["anchorstore_traversal_pages_total"])
	assert.Equal(t, 2.0, got["anchorstore_null_entries_skipped_total"])
	assert.Equal(t, 1.0, got["anchorstore_cascades_incomplete_total"])
	assert.Equal(t, 2.0, got["anchorstore_cascade_elements"])
	assert.Equal(t, 1.0, got["anchorstore_clone_elements"])
}

func TestMetricsSeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
