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


// Package server exposes refinement runs over HTTP.
//
// Routes:
//
//	GET  /health          liveness and active run count
//	GET  /metrics         Prometheus scrape, when metrics are enabled
//	POST /v1/runs         start a run in the background (202)
//	POST /v1/runs:sync    run to completion and return the report
//	GET  /v1/runs         list stored runs, newest first
//	GET  /v1/runs/{id}    status of an active run or a stored report
//
// Admission is bounded by server.max_concurrent_runs. Submissions beyond
// the bound get 429 unless they pass wait=true, in which case they queue.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/observability"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/store"
)

// Refiner runs one task. *refine.Controller implements it.
type Refiner interface {
	Run(ctx context.Context, task refine.Task) (*refine.RunResult, error)
}

// Server serves the refinement API.
type Server struct {
	cfg      config.ServerConfig
	store    store.Store
	exporter export.Exporter
	obs      *observability.Manager
	logger   *slog.Logger
	sem      *semaphore.Weighted

	mu      sync.RWMutex
	refiner Refiner
	active  map[string]*activeRun

	// runCtx parents background runs; cancelRuns stops them on shutdown.
	runCtx     context.Context
	cancelRuns context.CancelFunc
	runs       sync.WaitGroup

	httpMu sync.Mutex
	http   *http.Server
	addr   net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithStore sets where finished runs are kept. The default is an
// in-memory store bounded by server.max_stored_runs.
func WithStore(s store.Store) Option {
	return func(srv *Server) {
		if s != nil {
			srv.store = s
		}
	}
}

// WithExporter adds an exporter called for every finished run.
func WithExporter(e export.Exporter) Option {
	return func(srv *Server) {
		srv.exporter = e
	}
}

// WithObservability adds tracing and metrics middleware and the scrape route.
func WithObservability(m *observability.Manager) Option {
	return func(srv *Server) {
		srv.obs = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// New creates a Server. cfg is defaulted in place.
func New(refiner Refiner, cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if refiner == nil {
		return nil, errors.New("refiner is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		refiner:    refiner,
		logger:     slog.Default(),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		active:     make(map[string]*activeRun),
		runCtx:     runCtx,
		cancelRuns: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = store.NewMemoryStore(cfg.MaxStoredRuns)
	}
	return s, nil
}

// UpdateRefiner swaps the refiner used by new runs. Active runs finish
// with the refiner they started with.
func (s *Server) UpdateRefiner(r Refiner) {
	if r == nil {
		return
	}
	s.mu.Lock()
	s.refiner = r
	s.mu.Unlock()
	s.logger.Info("Refiner updated")
}

func (s *Server) currentRefiner() Refiner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refiner
}

// Start listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.httpMu.Lock()
	s.http = srv
	s.addr = ln.Addr()
	s.httpMu.Unlock()

	s.logger.Info("HTTP server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Addr returns the listening address once serving.
func (s *Server) Addr() net.Addr {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	return s.addr
}

// Shutdown stops accepting requests and waits for background runs. Runs
// still active when ctx is done are canceled; their partial results are
// stored before Shutdown returns.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.httpMu.Lock()
	srv := s.http
	s.httpMu.Unlock()
	if srv != nil {
		s.logger.Info("HTTP server shutting down")
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown error: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Canceling active runs", "count", s.activeCount())
		s.cancelRuns()
		<-done
	}
	s.cancelRuns()

	return errors.Join(errs...)
}
