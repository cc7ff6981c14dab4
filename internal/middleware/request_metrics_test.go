package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2beens/posecoach/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestMetrics(t *testing.T) {
	metricsManager, reg := metrics.NewTestManagerAndRegistry()

	r := mux.NewRouter()
	r.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Name("ok-route")
	r.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	})
	r.Use(RequestMetrics(metricsManager))

	for _, path := range []string{"/ok", "/ok", "/bad"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(metricsManager.CounterRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsManager.CounterRequests.WithLabelValues("GET", "400")))

	count, err := testutil.GatherAndCount(reg, "posecoach_test_server_request_duration_seconds")
	require.NoError(t, err)
	// one series per route/status pair
	assert.Equal(t, 2, count)
}

func TestResponseWriter_Flush(t *testing.T) {
	rr := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}

	var flusher http.Flusher = w
	flusher.Flush()
	assert.True(t, rr.Flushed)

	_, _, err := w.Hijack()
	assert.Error(t, err)
}
