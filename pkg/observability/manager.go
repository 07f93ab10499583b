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


package observability

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// Manager owns the tracer and metrics built from one Config.
type Manager struct {
	mu      sync.RWMutex
	config  Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager creates a Manager. Call Initialize before use.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// Initialize creates the tracer and metrics enabled by the config.
func (m *Manager) Initialize(ctx context.Context, opts ...TracerOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer, err := NewTracer(ctx, &m.config.Tracing, opts...)
	if err != nil {
		return err
	}

	metrics, err := NewMetrics(&m.config.Metrics)
	if err != nil {
		return errors.Join(err, tracer.Shutdown(ctx))
	}

	m.tracer = tracer
	m.metrics = metrics
	return nil
}

func (m *Manager) Tracer() *Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Observer returns a run observer reporting to this manager.
func (m *Manager) Observer() *RunObserver {
	return NewRunObserver(m.Tracer(), m.Metrics())
}

// Middleware returns HTTP middleware reporting to this manager.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return HTTPMiddleware(m.Tracer(), m.Metrics())
}

// MetricsPath returns the configured scrape path, or "" when metrics are off.
func (m *Manager) MetricsPath() string {
	if m.Metrics() == nil {
		return ""
	}
	return m.config.Metrics.Endpoint
}

// Shutdown flushes and stops the tracer and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.tracer.Shutdown(ctx), m.metrics.Shutdown(ctx))
}
