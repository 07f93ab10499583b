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
	"errors"
	"fmt"
	"strings"
	"time"
)

// Span exporters supported by NewTracer.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

const defaultExportTimeout = 10 * time.Second

// Config is the observability section of a refinery config.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls the spans emitted for runs, steps, and HTTP requests.
//
//	tracing:
//	  enabled: true
//	  exporter: otlp
//	  endpoint: collector:4317
//	  sampling_rate: 0.25
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is ExporterOTLP (gRPC) or ExporterStdout. Default: otlp
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the collector address for the otlp exporter.
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the fraction of runs traced, in [0, 1]. Default: 1
	// A zero value means the default; use a small positive rate to sample rarely.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	ServiceName    string `yaml:"service_name,omitempty"`
	ServiceVersion string `yaml:"service_version,omitempty"`

	// Insecure dials the collector without TLS. Default: true
	Insecure *bool `yaml:"insecure,omitempty"`

	// Headers are sent with every export, typically collector auth.
	Headers map[string]string `yaml:"headers,omitempty"`

	// CapturePayloads puts task descriptions and evaluation summaries on spans.
	CapturePayloads bool `yaml:"capture_payloads,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// MetricsConfig controls the run, step, and HTTP instruments served for
// Prometheus scraping.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the scrape path mounted on the API server. Default: /metrics
	Endpoint string `yaml:"endpoint,omitempty"`

	// Namespace and Subsystem prefix metric names: with "refinery" and "api"
	// the run counter is refinery_api_runs_total.
	Namespace string `yaml:"namespace,omitempty"`
	Subsystem string `yaml:"subsystem,omitempty"`

	// ConstLabels are attached to every series.
	ConstLabels map[string]string `yaml:"const_labels,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	return errors.Join(errs...)
}

func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Exporter == "" {
		c.Exporter = ExporterOTLP
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = defaultExportTimeout
	}
}

// Validate only checks an enabled tracer.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case ExporterOTLP:
		if c.Endpoint == "" {
			return errors.New("endpoint is required for the otlp exporter")
		}
	case ExporterStdout:
	default:
		return fmt.Errorf("invalid exporter %q (valid: %s, %s)", c.Exporter, ExporterOTLP, ExporterStdout)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %g", c.SamplingRate)
	}
	return nil
}

// IsInsecure reports whether the collector is dialed without TLS.
func (c *TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

// Validate only checks enabled metrics.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.Endpoint, "/") {
		return fmt.Errorf("endpoint must be a path starting with /, got %q", c.Endpoint)
	}
	return nil
}
