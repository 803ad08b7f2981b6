package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/college-timetable-api/internal/models"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordConflict(models.ConflictRoomDoubleBooked)
	m.RecordConflict(models.ConflictRoomDoubleBooked)
	m.RecordConflict(models.ConflictNone)
	m.RecordGeneration(20, 1)
	m.RecordPublish(true)
	m.RecordCacheOperation(false, time.Millisecond)
	m.ObserveLockWait(time.Second, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.conflicts.WithLabelValues(string(models.ConflictRoomDoubleBooked))))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.generatedEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishToggles.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockTimeouts))
}

func TestMetricsServiceHandler(t *testing.T) {
	m := NewMetricsService()
	m.ObserveHTTPRequest(http.MethodGet, "/api/v1/timetables", http.StatusOK, 5*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/api/v1/timetables",status="200"} 1`)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordConflict(models.ConflictTeacherDoubleBooked)
		m.RecordGeneration(1, 0)
		m.RecordPublish(false)
		m.ObserveLockWait(time.Second, false)
		m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	})
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
