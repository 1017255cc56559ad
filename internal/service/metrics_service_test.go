package service

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordImport("xlsx", 12, nil)
	m.RecordImport("text", 0, errors.New("bad"))
	m.RecordExport("pdf", nil)
	m.ObserveSave(nil, 5*time.Millisecond)
	m.SetOpenGradebooks(3)

	assert.Equal(t, 0.5, testutil.ToFloat64(m.cacheHitRatio))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importsTotal.WithLabelValues("xlsx", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.importsTotal.WithLabelValues("text", "error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.importedScores))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exportsTotal.WithLabelValues("pdf", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.openGradebooks))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "gradebook_save_duration_seconds"))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.RecordExport("csv", nil)
	m.ObserveSave(errors.New("x"), time.Second)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
