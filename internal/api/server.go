// Package api exposes the read-only status HTTP interface for the harvester.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the campaign summary.
//   - GET /v1/windows and /v1/tasks/failed for operator inspection.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtdata/judgment-harvester/internal/harvest"
	"github.com/courtdata/judgment-harvester/internal/metrics"
)

const snapshotTimeout = 3 * time.Second

// SnapshotSource provides the latest durable progress snapshot. The server
// never mutates what it reads.
type SnapshotSource interface {
	Load(ctx context.Context) (*harvest.Snapshot, error)
}

// Server wires HTTP handlers over the snapshot view.
type Server struct {
	router chi.Router
	source SnapshotSource
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(source SnapshotSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{source: source, logger: logger}

	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/windows", s.windows)
		r.Get("/tasks/failed", s.failedTasks)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot source unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// status handles GET /v1/status: window and task counts by status plus the
// last snapshot time and run ID.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{"campaign": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign": snap.Campaign,
		"summary":  snap.Summarize(),
	})
}

// windows handles GET /v1/windows.
func (s *Server) windows(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	out := []windowDTO{}
	if snap != nil {
		for _, win := range snap.Windows {
			out = append(out, toWindowDTO(win, len(snap.TasksForWindow(win.ID()))))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": out})
}

// failedTasks handles GET /v1/tasks/failed.
func (s *Server) failedTasks(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	out := []taskDTO{}
	if snap != nil {
		for _, task := range snap.Tasks {
			if task.Status != harvest.TaskFailed {
				continue
			}
			out = append(out, toTaskDTO(task))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*harvest.Snapshot, bool) {
	if s.source == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot source unavailable")
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.source.Load(ctx)
	if err != nil {
		s.logger.Error("loading snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress snapshot")
		return nil, false
	}
	return snap, true
}

type windowDTO struct {
	ID           string `json:"id"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	Tasks        int    `json:"tasks"`
}

func toWindowDTO(w harvest.QueryWindow, tasks int) windowDTO {
	return windowDTO{
		ID:           w.ID(),
		StartDate:    w.StartDate.Format(harvest.DateLayout),
		EndDate:      w.EndDate.Format(harvest.DateLayout),
		Status:       string(w.Status),
		AttemptCount: w.AttemptCount,
		Tasks:        tasks,
	}
}

type taskDTO struct {
	RecordKey    string `json:"record_key"`
	WindowID     string `json:"window_id"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	DiaryNumber  string `json:"diary_number,omitempty"`
	CaseNumber   string `json:"case_number,omitempty"`
	JudgmentDate string `json:"judgment_date,omitempty"`
}

func toTaskDTO(t harvest.RecordTask) taskDTO {
	return taskDTO{
		RecordKey:    t.RecordKey,
		WindowID:     t.WindowID,
		Status:       string(t.Status),
		AttemptCount: t.AttemptCount,
		ErrorMessage: t.ErrorMessage,
		DiaryNumber:  t.DiaryNumber,
		CaseNumber:   t.CaseNumber,
		JudgmentDate: t.JudgmentDate,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
