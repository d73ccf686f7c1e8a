package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"photoflow/internal/domain"
	"photoflow/internal/metrics"
	"photoflow/internal/queue"
)

type Server struct {
	r   *chi.Mux
	mgr *queue.Manager
}

// NewServer wires the queue manager behind a JSON API. collector may be nil;
// /metrics is only mounted when it is present.
func NewServer(mgr *queue.Manager, collector *metrics.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, mgr: mgr}

	r.Get("/health", s.health)
	if collector != nil {
		r.Method(http.MethodGet, "/metrics", collector.Handler())
	}

	r.Post("/api/actions", s.createAction)
	r.Get("/api/actions", s.listActions)
	r.Get("/api/actions/{id}", s.getAction)
	r.Post("/api/actions/{id}/cancel", s.cancelAction)
	r.Post("/api/actions/{id}/retry", s.retryAction)
	r.Delete("/api/actions/completed", s.clearCompleted)
	r.Delete("/api/actions/failed", s.clearFailed)
	r.Post("/api/sync", s.sync)
	r.Get("/api/stats", s.stats)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createReq struct {
	Type                string          `json:"type"`
	Payload             json.RawMessage `json:"payload"`
	Priority            string          `json:"priority"`
	MaxRetries          *int            `json:"max_retries"`
	Dependencies        []string        `json:"dependencies"`
	GroupID             string          `json:"group_id"`
	Tags                []string        `json:"tags"`
	RequiresNetwork     *bool           `json:"requires_network"`
	RequiresInteraction bool            `json:"requires_interaction"`
	ConflictStrategy    string          `json:"conflict_strategy"`
	SessionID           string          `json:"session_id"`
	DeviceID            string          `json:"device_id"`
	CorrelationID       string          `json:"correlation_id"`
}

type createResp struct {
	ID string `json:"id"`
}

func (s *Server) createAction(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	id, err := s.mgr.CreateAction(r.Context(), domain.ActionType(req.Type), req.Payload, queue.CreateOptions{
		Priority:            domain.Priority(req.Priority),
		MaxRetries:          req.MaxRetries,
		Dependencies:        req.Dependencies,
		GroupID:             req.GroupID,
		Tags:                req.Tags,
		RequiresNetwork:     req.RequiresNetwork,
		RequiresInteraction: req.RequiresInteraction,
		ConflictStrategy:    req.ConflictStrategy,
		SessionID:           req.SessionID,
		DeviceID:            req.DeviceID,
		CorrelationID:       req.CorrelationID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createResp{ID: id})
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	actions := s.mgr.GetActions(f)
	if actions == nil {
		actions = []domain.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := s.mgr.GetActionByID(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) cancelAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.CancelAction(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.RetryAction(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clearResp struct {
	Removed int `json:"removed"`
}

func (s *Server) clearCompleted(w http.ResponseWriter, r *http.Request) {
	before, err := parseBefore(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := s.mgr.ClearCompleted(r.Context(), before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResp{Removed: n})
}

func (s *Server) clearFailed(w http.ResponseWriter, r *http.Request) {
	before, err := parseBefore(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := s.mgr.ClearFailed(r.Context(), before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResp{Removed: n})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Sync(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.GetStatistics())
}

func parseFilter(r *http.Request) (domain.Filter, error) {
	q := r.URL.Query()
	var f domain.Filter
	for _, t := range splitList(q.Get("type")) {
		f.Types = append(f.Types, domain.ActionType(t))
	}
	for _, st := range splitList(q.Get("status")) {
		f.Statuses = append(f.Statuses, domain.Status(st))
	}
	for _, p := range splitList(q.Get("priority")) {
		f.Priorities = append(f.Priorities, domain.Priority(p))
	}
	f.GroupID = q.Get("group")
	f.Tags = splitList(q.Get("tag"))
	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.CreatedAfter = t
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.CreatedBefore = t
	}
	return f, nil
}

func parseBefore(r *http.Request) (*time.Time, error) {
	v := r.URL.Query().Get("before")
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrActionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrQueueFull):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, domain.ErrNotCancellable), errors.Is(err, domain.ErrNotRetryable), errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
