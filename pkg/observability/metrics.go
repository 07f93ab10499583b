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
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records run and HTTP metrics through an OpenTelemetry meter
// backed by a dedicated Prometheus registry. A nil *Metrics records nothing.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	runsTotal    metric.Int64Counter
	runDuration  metric.Float64Histogram
	activeRuns   metric.Int64UpDownCounter
	iterations   metric.Int64Counter
	scores       metric.Int64Histogram
	fallbacks    metric.Int64Counter
	stepDuration metric.Float64Histogram
	stepFailures metric.Int64Counter
	tokensTotal  metric.Int64Counter
	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics creates Metrics from configuration. It returns nil when
// metrics are disabled.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	cfg.SetDefaults()

	registry := prometheus.NewRegistry()
	var registerer prometheus.Registerer = registry
	if len(cfg.ConstLabels) > 0 {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels(cfg.ConstLabels), registry)
	}

	namespace := cfg.Namespace
	if cfg.Subsystem != "" {
		namespace += "_" + cfg.Subsystem
	}

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registerer),
		otelprom.WithNamespace(namespace),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(DefaultServiceName)

	m := &Metrics{provider: provider, registry: registry}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	m.runsTotal, err = meter.Int64Counter("runs",
		metric.WithDescription("Finished refinement runs by termination reason"))
	check(err)
	m.runDuration, err = meter.Float64Histogram("run_duration",
		metric.WithDescription("Refinement run duration"), metric.WithUnit("s"))
	check(err)
	m.activeRuns, err = meter.Int64UpDownCounter("active_runs",
		metric.WithDescription("Runs currently executing"))
	check(err)
	m.iterations, err = meter.Int64Counter("iterations",
		metric.WithDescription("Evaluated iterations"))
	check(err)
	m.scores, err = meter.Int64Histogram("iteration_score",
		metric.WithDescription("Aggregate score of evaluated iterations"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	check(err)
	m.fallbacks, err = meter.Int64Counter("fallback_evaluations",
		metric.WithDescription("Evaluations replaced by neutral scores"))
	check(err)
	m.stepDuration, err = meter.Float64Histogram("step_duration",
		metric.WithDescription("Generator and evaluator call duration"), metric.WithUnit("s"))
	check(err)
	m.stepFailures, err = meter.Int64Counter("step_failures",
		metric.WithDescription("Failed generator and evaluator calls"))
	check(err)
	m.tokensTotal, err = meter.Int64Counter("tokens",
		metric.WithDescription("Tokens used by generated artifacts"))
	check(err)
	m.httpRequests, err = meter.Int64Counter("http_requests",
		metric.WithDescription("HTTP requests served"))
	check(err)
	m.httpDuration, err = meter.Float64Histogram("http_request_duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s"))
	check(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to create instruments: %v", errs)
	}
	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRuns.Add(ctx, 1)
}

func (m *Metrics) RecordRun(ctx context.Context, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.activeRuns.Add(ctx, -1)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordIteration(ctx context.Context, aggregate int, fallback bool) {
	if m == nil {
		return
	}
	m.iterations.Add(ctx, 1)
	m.scores.Record(ctx, int64(aggregate))
	if fallback {
		m.fallbacks.Add(ctx, 1)
	}
}

func (m *Metrics) RecordStep(ctx context.Context, step string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordStepFailure(ctx context.Context, step string) {
	if m == nil {
		return
	}
	m.stepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.tokensTotal.Add(ctx, int64(prompt), metric.WithAttributes(attribute.String("kind", "prompt")))
	}
	if completion > 0 {
		m.tokensTotal.Add(ctx, int64(completion), metric.WithAttributes(attribute.String("kind", "completion")))
	}
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
