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


package config

import (
	"errors"
	"fmt"
	"time"
)

// ServerConfig configures the HTTP API.
//
// Example:
//
//	server:
//	  address: ":8080"
//	  max_concurrent_runs: 4
//	  run_timeout: 10m
type ServerConfig struct {
	// Address to listen on.
	// Default: :8080
	Address string `yaml:"address,omitempty"`

	// MaxConcurrentRuns bounds runs executing at once. Further submissions
	// wait or are rejected with 429.
	// Default: 4
	MaxConcurrentRuns int `yaml:"max_concurrent_runs,omitempty"`

	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`

	// RunTimeout bounds one run. Zero disables the bound.
	RunTimeout time.Duration `yaml:"run_timeout,omitempty"`

	// MaxStoredRuns bounds runs kept in memory when no store is configured.
	// Default: 1000
	MaxStoredRuns int `yaml:"max_stored_runs,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.MaxConcurrentRuns == 0 {
		c.MaxConcurrentRuns = 4
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxStoredRuns == 0 {
		c.MaxStoredRuns = 1000
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.MaxConcurrentRuns < 1 {
		return errors.New("max_concurrent_runs must be at least 1")
	}
	if c.RunTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("timeouts must be non-negative")
	}
	if c.MaxStoredRuns < 1 {
		return errors.New("max_stored_runs must be at least 1")
	}
	return nil
}

// BatchConfig configures batch runs over a task list.
type BatchConfig struct {
	// Concurrency bounds runs executing at once.
	// Default: 4
	Concurrency int `yaml:"concurrency,omitempty"`

	// StopOnError cancels remaining runs when one returns an error.
	StopOnError bool `yaml:"stop_on_error,omitempty"`
}

// SetDefaults applies default values.
func (c *BatchConfig) SetDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
}

// Validate checks the batch configuration.
func (c *BatchConfig) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	return nil
}

// Export formats.
const (
	ExportAudit = "audit"
	ExportJSON  = "json"
	ExportYAML  = "yaml"
)

// ExportConfig configures what finished runs write to disk.
//
// Example:
//
//	export:
//	  dir: generated
//	  formats: [audit, json]
type ExportConfig struct {
	// Dir receives exported files.
	// Default: generated
	Dir string `yaml:"dir,omitempty"`

	// Formats lists exporters to run: audit, json, yaml. Empty disables export.
	// Default: audit
	Formats []string `yaml:"formats,omitempty"`

	// Disabled turns off export even when formats are set.
	Disabled bool `yaml:"disabled,omitempty"`

	// Pattern prefixes audit folder names.
	// Default: evaluator_optimiser
	Pattern string `yaml:"pattern,omitempty"`

	// Extension of code files in the audit folder.
	// Default: py
	Extension string `yaml:"extension,omitempty"`

	// Language tags fenced code in the audit trail.
	// Default: python
	Language string `yaml:"language,omitempty"`
}

// SetDefaults applies default values.
func (c *ExportConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "generated"
	}
	if len(c.Formats) == 0 {
		c.Formats = []string{ExportAudit}
	}
	if c.Pattern == "" {
		c.Pattern = "evaluator_optimiser"
	}
	if c.Extension == "" {
		c.Extension = "py"
	}
	if c.Language == "" {
		c.Language = "python"
	}
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	for _, f := range c.Formats {
		switch f {
		case ExportAudit, ExportJSON, ExportYAML:
		default:
			return fmt.Errorf("invalid format %q (valid: audit, json, yaml)", f)
		}
	}
	return nil
}
