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


// Package config loads refinery configuration from YAML.
//
// A minimal file names one model and lets every other section default:
//
//	models:
//	  default:
//	    provider: openai
//	    api_key: ${OPENAI_API_KEY}
//
//	policy:
//	  quality_threshold: 9
//	  max_iterations: 5
//
// Missing generator and evaluator sections use the only model, or the one
// named "default", with a criteria evaluator scoring Security, Performance
// and Readability.
package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kadirpekel/refinery/pkg/observability"
)

// DefaultModelName is used when a section does not name a model.
const DefaultModelName = "default"

// Config is the root configuration.
type Config struct {
	// Name identifies this deployment in logs and traces.
	Name string `yaml:"name,omitempty"`

	Policy PolicyConfig `yaml:"policy,omitempty"`

	// Models maps a name to an LLM configuration referenced by other sections.
	Models map[string]*ModelConfig `yaml:"models,omitempty"`

	Generator GeneratorConfig `yaml:"generator,omitempty"`

	// Evaluators score each artifact. More than one forms a panel.
	Evaluators []*EvaluatorConfig `yaml:"evaluators,omitempty"`

	Panel PanelConfig `yaml:"panel,omitempty"`

	Gate GateConfig `yaml:"gate,omitempty"`

	// Store persists runs. Disabled when nil.
	Store *DatabaseConfig `yaml:"store,omitempty"`

	Export ExportConfig `yaml:"export,omitempty"`

	Server ServerConfig `yaml:"server,omitempty"`

	Batch BatchConfig `yaml:"batch,omitempty"`

	Observability observability.Config `yaml:"observability,omitempty"`

	Logger LoggerConfig `yaml:"logger,omitempty"`
}

// Default returns a configuration with every section defaulted. The model
// provider is detected from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies default values to every section.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "refinery"
	}

	if len(c.Models) == 0 {
		c.Models = map[string]*ModelConfig{DefaultModelName: {}}
	}
	for _, m := range c.Models {
		if m != nil {
			m.SetDefaults()
		}
	}
	fallback := c.defaultModel()

	c.Policy.SetDefaults()
	c.Generator.SetDefaults(fallback)

	if len(c.Evaluators) == 0 {
		c.Evaluators = []*EvaluatorConfig{{}}
	}
	for i, e := range c.Evaluators {
		if e != nil {
			e.SetDefaults(fallback, i)
		}
	}

	c.Panel.SetDefaults(fallback)
	c.Gate.SetDefaults(fallback)
	if c.Store != nil {
		c.Store.SetDefaults()
	}
	c.Export.SetDefaults()
	c.Server.SetDefaults()
	c.Batch.SetDefaults()
	c.Observability.SetDefaults()
	c.Logger.SetDefaults()
}

// defaultModel returns the model sections fall back to: the one named
// "default", else the only one, else the alphabetically first one.
func (c *Config) defaultModel() string {
	if _, ok := c.Models[DefaultModelName]; ok {
		return DefaultModelName
	}
	names := c.ModelNames()
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// ModelNames returns the configured model names, sorted.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.Models))
	for name := range c.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every section and cross-section references.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	add("policy", c.Policy.Validate())

	for _, name := range c.ModelNames() {
		m := c.Models[name]
		if m == nil {
			add("models."+name, errors.New("model configuration is empty"))
			continue
		}
		add("models."+name, m.Validate())
	}

	add("generator", c.Generator.Validate())
	add("generator", c.checkModel(c.Generator.Model))

	seen := make(map[string]bool, len(c.Evaluators))
	for i, e := range c.Evaluators {
		section := fmt.Sprintf("evaluators[%d]", i)
		if e == nil {
			add(section, errors.New("evaluator configuration is empty"))
			continue
		}
		if seen[e.Name] {
			add(section, fmt.Errorf("duplicate evaluator name %q", e.Name))
		}
		seen[e.Name] = true
		add(section, e.Validate())
		add(section, c.checkModel(e.Model))
		if e.Reviewer != nil {
			add(section+".reviewer", c.checkModel(e.Reviewer.Model))
		}
	}

	add("panel", c.Panel.Validate())
	if c.Panel.Synthesizer != nil {
		add("panel.synthesizer", c.checkModel(c.Panel.Synthesizer.Model))
	}

	add("gate", c.Gate.Validate())
	if c.Gate.Enabled && c.Gate.Approver == ApproverLLM {
		add("gate", c.checkModel(c.Gate.Model))
	}

	if c.Store != nil {
		add("store", c.Store.Validate())
	}
	add("export", c.Export.Validate())
	add("server", c.Server.Validate())
	add("batch", c.Batch.Validate())
	add("observability", c.Observability.Validate())
	add("logger", c.Logger.Validate())

	return errors.Join(errs...)
}

func (c *Config) checkModel(name string) error {
	if name == "" {
		return errors.New("model is required")
	}
	if _, ok := c.Models[name]; !ok {
		return fmt.Errorf("unknown model %q (configured: %v)", name, c.ModelNames())
	}
	return nil
}
