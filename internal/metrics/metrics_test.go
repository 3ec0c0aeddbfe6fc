package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
	require.NoError(t, RegisterActiveJobs(func() int { return 3 }))
	require.NoError(t, RegisterActiveJobs(func() int { return 4 }))
}

func TestHandlerExposesCollectors(t *testing.T) {
	Register()
	require.NoError(t, RegisterActiveJobs(func() int { return 2 }))
	RecordCacheHit()
	RecordJobCreated("plate")
	RecordJobFinished("bin", "failed")
	RecordAdmissionRejection("daily")
	RecordSyncThrottled()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gridgate_cache_lookups_total{result="hit"}`)
	assert.Contains(t, string(body), `gridgate_jobs_created_total{type="plate"}`)
	assert.Contains(t, string(body), `gridgate_jobs_finished_total{status="failed",type="bin"}`)
	assert.Contains(t, string(body), `gridgate_admission_rejections_total{reason="daily"}`)
	assert.Contains(t, string(body), "gridgate_http_sync_throttled_total")
	assert.Contains(t, string(body), "gridgate_jobs_active")
}
