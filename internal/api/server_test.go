package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

type stubSource struct {
	snap *harvest.Snapshot
	err  error
}

func (s *stubSource) Load(context.Context) (*harvest.Snapshot, error) {
	return s.snap, s.err
}

func testSnapshot(t *testing.T) *harvest.Snapshot {
	t.Helper()
	start, err := time.Parse(harvest.DateLayout, "2020-01-01")
	require.NoError(t, err)
	end, err := time.Parse(harvest.DateLayout, "2020-03-01")
	require.NoError(t, err)
	windows, err := harvest.PlanWindows(start, end, 30)
	require.NoError(t, err)

	snap := harvest.NewSnapshot(harvest.CampaignInfo{
		GlobalStart: start, GlobalEnd: end, MaxSpanDays: 30, CourtType: "supreme",
	}, windows)
	snap.LastRunID = "run-7"

	task := snap.UpsertTask(windows[0].ID(), harvest.ResultRow{
		DiaryNumber:   "100/2020",
		CaseNumber:    "C.A. 1/2020",
		JudgmentDate:  "15-01-2020",
		DocumentLinks: []string{"/judgments/100.pdf"},
	})
	task.Status = harvest.TaskFailed
	task.ErrorMessage = "download failed"
	task.AttemptCount = 3
	return snap
}

func get(t *testing.T, handler http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	srv := NewServer(&stubSource{}, nil)

	rec, body := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(&stubSource{snap: testSnapshot(t)}, nil)

	rec, body := get(t, srv.Handler(), "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok, "summary missing: %v", body)
	windowCounts, ok := summary["window_counts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), windowCounts["pending"])
	taskCounts, ok := summary["task_counts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), taskCounts["failed"])
	assert.Equal(t, "run-7", summary["last_run_id"])
}

func TestStatusEndpointBeforeFirstRun(t *testing.T) {
	srv := NewServer(&stubSource{snap: nil}, nil)
	rec, body := get(t, srv.Handler(), "/v1/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["campaign"])
}

func TestWindowsEndpoint(t *testing.T) {
	srv := NewServer(&stubSource{snap: testSnapshot(t)}, nil)

	rec, body := get(t, srv.Handler(), "/v1/windows")
	require.Equal(t, http.StatusOK, rec.Code)

	windows, ok := body["windows"].([]any)
	require.True(t, ok)
	require.Len(t, windows, 2)
	first := windows[0].(map[string]any)
	assert.Equal(t, "2020-01-01..2020-01-31", first["id"])
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, float64(1), first["tasks"])
}

func TestFailedTasksEndpoint(t *testing.T) {
	srv := NewServer(&stubSource{snap: testSnapshot(t)}, nil)

	rec, body := get(t, srv.Handler(), "/v1/tasks/failed")
	require.Equal(t, http.StatusOK, rec.Code)

	tasks, ok := body["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, "failed", task["status"])
	assert.Equal(t, "download failed", task["error_message"])
	assert.Equal(t, "100/2020", task["diary_number"])
}

func TestSnapshotLoadFailure(t *testing.T) {
	srv := NewServer(&stubSource{err: errors.New("disk gone")}, nil)
	rec, body := get(t, srv.Handler(), "/v1/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "snapshot")
}
