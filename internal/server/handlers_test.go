package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epipanel/internal/cache"
	"epipanel/internal/dataset"
	"epipanel/internal/history"
	"epipanel/internal/observability"
)

type fakeRefresher struct {
	calls atomic.Int32
	next  time.Time
}

func (f *fakeRefresher) RunOnce(_ context.Context, trigger string) *history.RunRecord {
	f.calls.Add(1)
	return &history.RunRecord{ID: "run-test", Trigger: trigger}
}

func (f *fakeRefresher) NextScheduledRun() time.Time {
	return f.next
}

func newTestServer(t *testing.T) (*Server, cache.Store, *history.MemoryStore, *fakeRefresher) {
	t.Helper()

	cacheStore, err := cache.NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	hist := history.NewMemoryStore()
	refresher := &fakeRefresher{}

	handler := NewHandler(PanelInfo{
		MunicipalityCode: "2601201",
		MunicipalityName: "Arcoverde",
		UF:               "PE",
		DemoMode:         true,
	}, cacheStore, hist, refresher, nil, nil)

	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry)

	srv := New(handler, &Config{MetricsRegistry: registry})
	return srv, cacheStore, hist, refresher
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "epipanel_refresh_runs_total")
}

func TestStatus(t *testing.T) {
	srv, _, hist, refresher := newTestServer(t)

	run := &history.RunRecord{
		ID:        "run-9",
		StartedAt: time.Now().UTC(),
		Trigger:   history.TriggerScheduled,
		Succeeded: 6,
	}
	require.NoError(t, hist.Record(context.Background(), run))
	next := time.Date(2026, 9, 6, 3, 0, 0, 0, time.UTC)
	refresher.next = next

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	panel := body["panel"].(map[string]any)
	assert.Equal(t, "2601201", panel["municipality_code"])
	assert.Equal(t, true, panel["demo_mode"])

	lastRun := body["last_run"].(map[string]any)
	assert.Equal(t, "run-9", lastRun["id"])
	assert.Equal(t, next.Format(time.RFC3339), body["next_run"])
}

func TestStatusOmitsNextRunWhenNotArmed(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decodeBody(t, rec), "next_run")
}

func TestListDatasets(t *testing.T) {
	srv, cacheStore, _, _ := newTestServer(t)

	table := dataset.NewTable("ano")
	table.Append(map[string]any{"ano": 2023})
	_, err := cacheStore.Put(context.Background(), "sim_2601201_2023", table, dataset.SourceSynthetic)
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/datasets")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, []any{"sim_2601201_2023"}, body["keys"])
}

func TestGetDataset(t *testing.T) {
	srv, cacheStore, _, _ := newTestServer(t)

	table := dataset.NewTable("ano", "casos")
	table.Append(map[string]any{"ano": 2023, "casos": 12})
	_, err := cacheStore.Put(context.Background(), "sinan_2601201_2023", table, dataset.SourceSynthetic)
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/datasets/sinan_2601201_2023")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "sinan_2601201_2023", meta["key"])
	assert.Equal(t, string(dataset.SourceSynthetic), meta["source"])
	assert.NotContains(t, body, "records")

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/datasets/sinan_2601201_2023?records=true")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Contains(t, body, "records")
	assert.Len(t, body["records"], 1)
}

func TestGetDatasetNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/datasets/sim_2601201_1999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDatasetInvalidKey(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/datasets/NOT%20A%20KEY")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRefresh(t *testing.T) {
	srv, _, _, refresher := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The run happens in the background.
	assert.Eventually(t, func() bool {
		return refresher.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestListRuns(t *testing.T) {
	srv, _, hist, _ := newTestServer(t)

	base := time.Now().UTC()
	for i, id := range []string{"run-a", "run-b"} {
		require.NoError(t, hist.Record(context.Background(), &history.RunRecord{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
	runs := body["runs"].([]any)
	first := runs[0].(map[string]any)
	assert.Equal(t, "run-b", first["id"])
}

func TestGetRun(t *testing.T) {
	srv, _, hist, _ := newTestServer(t)
	require.NoError(t, hist.Record(context.Background(), &history.RunRecord{ID: "run-x", StartedAt: time.Now().UTC()}))

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/runs/run-x")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-x", decodeBody(t, rec)["id"])

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/runs/run-y")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBoundariesUnconfigured(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/boundaries")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
