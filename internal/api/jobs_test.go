package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamforge/beamforge/internal/auth"
	"github.com/beamforge/beamforge/internal/capability/mock"
	"github.com/beamforge/beamforge/internal/config"
	"github.com/beamforge/beamforge/internal/eventbus"
	"github.com/beamforge/beamforge/internal/jobstore"
	"github.com/beamforge/beamforge/internal/limiter"
	"github.com/beamforge/beamforge/internal/logging"
	"github.com/beamforge/beamforge/internal/orchestrator"
)

func testServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Auth.Enabled = false
	logger := logging.New(cfg.Logging)
	authMgr := auth.NewManager(cfg.Auth)
	bus := eventbus.New(256)
	store := jobstore.NewMemoryStore()
	limiters := limiter.NewRegistry(cfg.Limiter.Defaults)

	factory := func() *orchestrator.Orchestrator {
		return orchestrator.New(mock.NewLanguage(1), mock.NewImage(4), mock.NewVision(1, 4), limiters, bus)
	}

	srv := NewServer(cfg, logger, authMgr, bus, store, limiters, factory)
	return srv, srv.setupRouter()
}

func TestStartJobHandler_RejectsInvalidConfig(t *testing.T) {
	_, router := testServer(t)

	body, _ := json.Marshal(map[string]any{"prompt": "a cat", "beamWidth": 0})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartJobHandler_AcceptsValidConfig(t *testing.T) {
	_, router := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"prompt": "a cat", "beamWidth": 2, "keepTop": 1, "maxIterations": 1,
		"alpha": 0.5, "ensembleSize": 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["jobId"])
}

func TestGetJobHandler_UnknownJobReturnsNotFound(t *testing.T) {
	_, router := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelJobHandler_UnknownJobIsIdempotent(t *testing.T) {
	_, router := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/jobs/does-not-exist/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimiterStatusHandler_ReportsConfiguredCapabilities(t *testing.T) {
	_, router := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/limiters", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Contains(t, status, "language")
}

func TestStartJobHandler_JobCompletesAndIsRetrievable(t *testing.T) {
	_, router := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"prompt": "a cat", "beamWidth": 2, "keepTop": 1, "maxIterations": 1,
		"alpha": 0.5, "ensembleSize": 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	jobID := resp["jobId"]

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return false
		}
		var job map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &job)
		return job["state"] == string(orchestrator.StateCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}
