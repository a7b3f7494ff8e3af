package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logon-forwarder/internal/models"
)

type fakeStats struct {
	stats models.Stats
}

func (f fakeStats) Stats(context.Context) models.Stats { return f.stats }

type fakeHealth struct {
	err error
}

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestRouter(state string, healthErr error) http.Handler {
	status := NewStatusHandler(
		fakeStats{models.Stats{State: state, Accepted: 3, CacheEntries: 12}},
		fakeHealth{healthErr},
		models.AppInfo{Name: "logon-forwarder", Version: "0.1.0", MachineName: "WS-01"},
		zap.NewNop(),
	)
	return NewRouter(status, zap.NewNop())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestRouter("running", nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool       `json:"success"`
		Data    healthData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "WS-01", body.Data.Machine)
	assert.Equal(t, "running", body.Data.Watcher)
}

func TestHealthUnavailable(t *testing.T) {
	rec := get(t, newTestRouter("stopped", nil), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, newTestRouter("running", errors.New("redis: connection refused")), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis: connection refused")
}

func TestStatus(t *testing.T) {
	rec := get(t, newTestRouter("running", nil), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data models.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3), body.Data.Accepted)
	assert.Equal(t, 12, body.Data.CacheEntries)
}

func TestMetricsAndFallbacks(t *testing.T) {
	r := newTestRouter("running", nil)

	rec := get(t, r, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/v1/users").Code)

	post := httptest.NewRecorder()
	r.ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}
