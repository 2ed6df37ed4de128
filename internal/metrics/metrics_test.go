package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/knot/internal/ir"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ChangeAccepted("k", ir.OriginExternal)
		m.Reduced("k", time.Millisecond)
		m.ActionDispatched("k", "fetch")
		m.WorkerSuperseded("k")
		m.Failed("k", "REDUCER_FAILED")
		m.QueueDepth("k", 3)
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChangeAccepted("loader", ir.OriginExternal)
	m.ChangeAccepted("loader", ir.OriginExternal)
	m.ChangeAccepted("loader", ir.OriginAction)
	m.Reduced("loader", time.Millisecond)
	m.ActionDispatched("loader", "fetch")
	m.WorkerSuperseded("loader")
	m.Failed("loader", "UNHANDLED_CHANGE")
	m.QueueDepth("loader", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.changes.WithLabelValues("loader", "external")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changes.WithLabelValues("loader", "action")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reductions.WithLabelValues("loader")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.actions.WithLabelValues("loader", "fetch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancelled.WithLabelValues("loader")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("loader", "UNHANDLED_CHANGE")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("loader")))
}

func TestMetrics_HistogramObserved(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Reduced("loader", 2*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "knot_reduce_duration_seconds" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetSampleCount())
}

func TestHandler_ServesText(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Reduced("loader", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "knot_reductions_total"))
}
