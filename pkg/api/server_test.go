package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opendeliberation/weaver/pkg/config"
	"github.com/opendeliberation/weaver/pkg/models"
	"github.com/opendeliberation/weaver/pkg/pipeline"
	"github.com/opendeliberation/weaver/pkg/queue"
	"github.com/opendeliberation/weaver/pkg/services"
)

// noStages never runs; HTTP handlers only enqueue jobs.
type noStages struct{}

func (noStages) Clustering(context.Context, *models.ClusteringInput) (*models.ClusteringOutput, error) {
	return nil, fmt.Errorf("not wired in API tests")
}
func (noStages) Claims(context.Context, *models.ClaimsInput) (*models.ClaimsOutput, error) {
	return nil, fmt.Errorf("not wired in API tests")
}
func (noStages) SortAndDeduplicate(context.Context, *models.SortInput) (*models.SortOutput, error) {
	return nil, fmt.Errorf("not wired in API tests")
}
func (noStages) Summaries(context.Context, *models.SummariesInput) (*models.SummariesOutput, error) {
	return nil, fmt.Errorf("not wired in API tests")
}
func (noStages) Cruxes(context.Context, *models.CruxesInput) (*models.CruxesOutput, error) {
	return nil, fmt.Errorf("not wired in API tests")
}

type stubPool struct{}

func (stubPool) Health() *queue.PoolHealth {
	return &queue.PoolHealth{IsHealthy: true, PodID: "pod-1", TotalWorkers: 2}
}

func newTestServer(t *testing.T, pool PoolHealthReporter) (*gin.Engine, *pipeline.RedisStore, *queue.JobQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		Server:    config.DefaultServerConfig(),
		Redis:     config.DefaultRedisConfig(),
		Pipeline:  config.DefaultPipelineConfig(),
		Queue:     config.DefaultQueueConfig(),
		Retention: config.DefaultRetentionConfig(),
		LLM:       config.DefaultLLMProviderConfig(),
		Stages:    config.GetBuiltinConfig().Stages,
	}

	store := pipeline.NewRedisStore(client, 0, 30*time.Second)
	runner := pipeline.NewRunner(store, noStages{}, pipeline.RunnerConfig{})
	jobQueue := queue.NewJobQueue(client)
	reports := services.NewReportService(cfg, store, runner, jobQueue, nil, nil)

	srv := NewServer(cfg.Server, reports, pool)
	return srv.Router(), store, jobQueue
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createBody() map[string]any {
	return map[string]any{
		"userId": "user-1",
		"comments": []map[string]string{
			{"id": "c1", "text": "More buses on route 9", "speaker": "alice"},
			{"id": "c2", "text": "Buses are too infrequent", "speaker": "bob"},
		},
	}
}

func seedServerState(t *testing.T, store *pipeline.RedisStore, reportID string, status models.PipelineStatus) {
	t.Helper()
	state := models.NewPipelineState(reportID, "user-1")
	state.Status = status
	require.NoError(t, store.Save(context.Background(), state))
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotContains(t, w.Body.String(), "pool")
}

func TestHealthEndpointWithPool(t *testing.T) {
	router, _, _ := newTestServer(t, stubPool{})

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pod_id":"pod-1"`)
}

func TestCreateReport(t *testing.T) {
	router, _, jobQueue := newTestServer(t, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/reports", createBody())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp CreateReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ReportID)
	assert.Equal(t, "queued", resp.Status)

	depth, err := jobQueue.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCreateReportBadRequests(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing userId", map[string]any{"comments": createBody()["comments"]}},
		{"missing comments", map[string]any{"userId": "user-1"}},
		{"empty comments", map[string]any{"userId": "user-1", "comments": []any{}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/v1/reports", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReportValidationFailure(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	body := createBody()
	body["comments"] = []map[string]string{
		{"id": "c1", "text": "first", "speaker": "alice"},
		{"id": "c1", "text": "second", "speaker": "bob"},
	}
	w := doJSON(router, http.MethodPost, "/api/v1/reports", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "comments")
}

func TestCreateReportDuplicate(t *testing.T) {
	router, store, _ := newTestServer(t, nil)
	seedServerState(t, store, "report-1", models.PipelineStatusRunning)

	body := createBody()
	body["reportId"] = "report-1"
	w := doJSON(router, http.MethodPost, "/api/v1/reports", body)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetReport(t *testing.T) {
	router, store, _ := newTestServer(t, nil)
	seedServerState(t, store, "report-1", models.PipelineStatusRunning)

	w := doJSON(router, http.MethodGet, "/api/v1/reports/report-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var state models.PipelineState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, "report-1", state.ReportID)
	assert.Equal(t, models.PipelineStatusRunning, state.Status)
}

func TestGetReportNotFound(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResumeReport(t *testing.T) {
	router, store, jobQueue := newTestServer(t, nil)
	seedServerState(t, store, "report-1", models.PipelineStatusFailed)

	w := doJSON(router, http.MethodPost, "/api/v1/reports/report-1/resume", createBody())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	job, err := jobQueue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "report-1", job.ReportID)
	assert.True(t, job.Resume)
}

func TestResumeReportNotFound(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/reports/missing/resume", createBody())
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelReport(t *testing.T) {
	router, store, _ := newTestServer(t, nil)
	seedServerState(t, store, "report-1", models.PipelineStatusRunning)

	w := doJSON(router, http.MethodPost, "/api/v1/reports/report-1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled"`)

	state, err := store.Get(context.Background(), "report-1")
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, state.Status)
}

func TestCancelReportNotCancellable(t *testing.T) {
	router, store, _ := newTestServer(t, nil)
	seedServerState(t, store, "done", models.PipelineStatusCompleted)

	w := doJSON(router, http.MethodPost, "/api/v1/reports/done/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "cancellable")
}

func TestDeleteReport(t *testing.T) {
	router, store, _ := newTestServer(t, nil)
	seedServerState(t, store, "done", models.PipelineStatusCompleted)

	w := doJSON(router, http.MethodDelete, "/api/v1/reports/done", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted"`)

	_, err := store.Get(context.Background(), "done")
	assert.ErrorIs(t, err, pipeline.ErrStateNotFound)
}

func TestDeleteReportRunning(t *testing.T) {
	router, store, _ := newTestServer(t, nil)
	seedServerState(t, store, "report-1", models.PipelineStatusRunning)

	w := doJSON(router, http.MethodDelete, "/api/v1/reports/report-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cancel")
}

func TestDeleteReportNotFound(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	w := doJSON(router, http.MethodDelete, "/api/v1/reports/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/reports", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
