// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/store"
)

// maxRequestBody bounds submitted task documents.
const maxRequestBody = 1 << 20

// RunRequest is the body of a run submission.
type RunRequest struct {
	ID          string            `json:"id,omitempty"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// Wait queues the run when all slots are taken instead of failing with 429.
	Wait bool `json:"wait,omitempty"`
}

// RunAccepted is the 202 response of an async submission.
type RunAccepted struct {
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	Location string    `json:"location"`
}

// RunList is the response of GET /v1/runs.
type RunList struct {
	Runs   []store.Summary `json:"runs"`
	Active []RunView       `json:"active,omitempty"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: observability -> recoverer -> logging
	if s.obs != nil {
		r.Use(s.obs.Middleware())
	}
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	if s.obs != nil {
		if path := s.obs.MetricsPath(); path != "" {
			r.Method(http.MethodGet, path, s.obs.Metrics().Handler())
		}
	}

	r.Get("/v1/runs", s.handleListRuns)
	r.Post("/v1/runs", s.handleSubmit)
	r.Post("/v1/runs:sync", s.handleSubmitSync)
	r.Get("/v1/runs/{id}", s.handleGetRun)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.activeCount(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	task := req.task()
	a, ok := s.reserve(w, r, &task)
	if !ok {
		return
	}

	if err := s.startAsync(a, req.Wait || queryBool(r, "wait")); err != nil {
		respondError(w, http.StatusTooManyRequests, err)
		return
	}

	location := "/v1/runs/" + a.id
	w.Header().Set("Location", location)
	respondJSON(w, http.StatusAccepted, RunAccepted{
		RunID:    a.id,
		Status:   StatusQueued,
		Location: location,
	})
}

func (s *Server) handleSubmitSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRun(w, r)
	if !ok {
		return
	}
	task := req.task()
	a, ok := s.reserve(w, r, &task)
	if !ok {
		return
	}

	if err := s.admit(r.Context(), req.Wait || queryBool(r, "wait")); err != nil {
		s.release(a)
		if errors.Is(err, errBusy) {
			respondError(w, http.StatusTooManyRequests, err)
			return
		}
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}

	res, err := s.execute(r.Context(), a)
	if res == nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	// A canceled run still returns its partial report.
	respondJSON(w, http.StatusOK, RunView{
		RunID:  res.RunID,
		Status: StatusFinished,
		Task:   res.Task,
		Report: export.NewReport(res),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a, ok := s.lookupActive(id); ok {
		respondJSON(w, http.StatusOK, s.view(a))
		return
	}

	report, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, RunView{
		RunID:  report.RunID,
		Status: StatusFinished,
		Task:   report.Task,
		Report: report,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{}

	if v := q.Get("reason"); v != "" {
		reason, err := refine.ParseReason(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		opts.Reason = reason
	}
	var err error
	if opts.Limit, err = queryInt(q.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
		return
	}
	if opts.Offset, err = queryInt(q.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("offset: %w", err))
		return
	}

	runs, err := s.store.List(r.Context(), opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}

	resp := RunList{Runs: runs, Limit: opts.Limit, Offset: opts.Offset}
	if resp.Limit == 0 {
		resp.Limit = store.DefaultListLimit
	}
	if opts.Reason == "" && opts.Offset == 0 {
		resp.Active = s.activeViews()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) activeViews() []RunView {
	s.mu.RLock()
	runs := make([]*activeRun, 0, len(s.active))
	for _, a := range s.active {
		runs = append(runs, a)
	}
	s.mu.RUnlock()

	views := make([]RunView, 0, len(runs))
	for _, a := range runs {
		views = append(views, s.view(a))
	}
	return views
}

func (s *Server) decodeRun(w http.ResponseWriter, r *http.Request) (RunRequest, bool) {
	var req RunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return req, false
	}
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		respondError(w, http.StatusBadRequest, errors.New("description is required"))
		return req, false
	}
	return req, true
}

// reserve registers task, rejecting IDs that are active or already stored.
func (s *Server) reserve(w http.ResponseWriter, r *http.Request, task *refine.Task) (*activeRun, bool) {
	if task.ID != "" {
		if _, err := s.store.Get(r.Context(), task.ID); err == nil {
			respondError(w, http.StatusConflict, errDuplicate)
			return nil, false
		}
	}
	a, err := s.register(task)
	if err != nil {
		respondError(w, http.StatusConflict, err)
		return nil, false
	}
	return a, true
}

func (req RunRequest) task() refine.Task {
	return refine.Task{ID: req.ID, Description: req.Description, Metadata: req.Metadata}
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must be non-negative")
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
