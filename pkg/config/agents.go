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
	"strings"
	"time"
)

// EvaluatorType selects an evaluator implementation.
type EvaluatorType string

const (
	// EvaluatorCriteria parses "Criterion: N" ratings from free text.
	EvaluatorCriteria EvaluatorType = "criteria"
	// EvaluatorStructured requests schema-constrained JSON scores.
	EvaluatorStructured EvaluatorType = "structured"
	// EvaluatorApproval asks for an approve/reject verdict after a review.
	EvaluatorApproval EvaluatorType = "approval"
)

// Approver kinds for the critical-change gate.
const (
	ApproverTerminal    = "terminal"
	ApproverLLM         = "llm"
	ApproverAutoApprove = "auto_approve"
	ApproverAutoReject  = "auto_reject"
)

// PromptConfig overrides a prompt. Both parts are text/template sources.
type PromptConfig struct {
	System string `yaml:"system,omitempty"`
	User   string `yaml:"user,omitempty"`
}

func (p *PromptConfig) validate() error {
	if p == nil {
		return nil
	}
	if strings.TrimSpace(p.User) == "" {
		return errors.New("prompt user template is required")
	}
	return nil
}

// GeneratorConfig configures the artifact generator.
type GeneratorConfig struct {
	// Model references an entry of the models section.
	Model string `yaml:"model,omitempty"`

	// Language of the generated code.
	// Default: Python
	Language string `yaml:"language,omitempty"`

	// Focus lists the qualities refinement prompts emphasize.
	// Default: Security, Performance, Readability
	Focus []string `yaml:"focus,omitempty"`

	GeneratePrompt *PromptConfig `yaml:"generate_prompt,omitempty"`
	RefinePrompt   *PromptConfig `yaml:"refine_prompt,omitempty"`

	// KeepRaw stores the model reply as-is instead of the first code block.
	KeepRaw bool `yaml:"keep_raw,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

// SetDefaults applies default values.
func (c *GeneratorConfig) SetDefaults(fallbackModel string) {
	if c.Model == "" {
		c.Model = fallbackModel
	}
	if c.Language == "" {
		c.Language = "Python"
	}
	if len(c.Focus) == 0 {
		c.Focus = []string{"Security", "Performance", "Readability"}
	}
}

// Validate checks the generator configuration.
func (c *GeneratorConfig) Validate() error {
	if err := c.GeneratePrompt.validate(); err != nil {
		return fmt.Errorf("generate_prompt: %w", err)
	}
	if err := c.RefinePrompt.validate(); err != nil {
		return fmt.Errorf("refine_prompt: %w", err)
	}
	return validateSampling(c.Temperature, c.MaxTokens)
}

// EvaluatorConfig configures one evaluator.
//
// Example:
//
//	evaluators:
//	  - name: security
//	    type: structured
//	    criteria: [Security]
//	  - name: approval
//	    type: approval
//	    reviewer:
//	      type: criteria
type EvaluatorConfig struct {
	// Name identifies the evaluator in panels and reports.
	// Default: the type, suffixed with the position when not first
	Name string `yaml:"name,omitempty"`

	// Type is criteria, structured or approval.
	// Default: criteria
	Type EvaluatorType `yaml:"type,omitempty"`

	Model string `yaml:"model,omitempty"`

	// Criteria scored by criteria and structured evaluators.
	// Default: Security, Performance, Readability
	Criteria []string `yaml:"criteria,omitempty"`

	Prompt *PromptConfig `yaml:"prompt,omitempty"`

	// Reviewer runs before an approval evaluator and feeds it its summary.
	Reviewer *EvaluatorConfig `yaml:"reviewer,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`
}

// SetDefaults applies default values. index is the evaluator's position.
func (c *EvaluatorConfig) SetDefaults(fallbackModel string, index int) {
	if c.Type == "" {
		c.Type = EvaluatorCriteria
	}
	if c.Name == "" {
		c.Name = string(c.Type)
		if index > 0 {
			c.Name = fmt.Sprintf("%s_%d", c.Type, index)
		}
	}
	if c.Model == "" {
		c.Model = fallbackModel
	}
	if len(c.Criteria) == 0 && c.Type != EvaluatorApproval {
		c.Criteria = []string{"Security", "Performance", "Readability"}
	}
	if c.Reviewer != nil {
		c.Reviewer.SetDefaults(c.Model, 0)
		c.Reviewer.Name = c.Name + "_reviewer"
	}
}

// Validate checks the evaluator configuration.
func (c *EvaluatorConfig) Validate() error {
	switch c.Type {
	case EvaluatorCriteria, EvaluatorStructured:
		if len(c.Criteria) == 0 {
			return fmt.Errorf("%s evaluator requires criteria", c.Type)
		}
		if c.Reviewer != nil {
			return fmt.Errorf("reviewer is only supported by approval evaluators")
		}
	case EvaluatorApproval:
		if c.Reviewer != nil {
			if c.Reviewer.Type == EvaluatorApproval {
				return errors.New("reviewer cannot be an approval evaluator")
			}
			if err := c.Reviewer.Validate(); err != nil {
				return fmt.Errorf("reviewer: %w", err)
			}
		}
	default:
		return fmt.Errorf("invalid type %q (valid: criteria, structured, approval)", c.Type)
	}
	if err := c.Prompt.validate(); err != nil {
		return err
	}
	return validateSampling(c.Temperature, c.MaxTokens)
}

// PanelConfig configures how several evaluators are combined.
type PanelConfig struct {
	// RequireAll fails the evaluation when any member fails.
	RequireAll bool `yaml:"require_all,omitempty"`

	// MaxConcurrency bounds members evaluated at once. Zero runs all at once.
	MaxConcurrency int `yaml:"max_concurrency,omitempty"`

	// MemberTimeout bounds one member's evaluation.
	MemberTimeout time.Duration `yaml:"member_timeout,omitempty"`

	// Synthesizer merges member reports into one feedback summary.
	Synthesizer *SynthesizerConfig `yaml:"synthesizer,omitempty"`
}

// SynthesizerConfig configures the panel feedback synthesizer.
type SynthesizerConfig struct {
	Model  string        `yaml:"model,omitempty"`
	Prompt *PromptConfig `yaml:"prompt,omitempty"`
}

// SetDefaults applies default values.
func (c *PanelConfig) SetDefaults(fallbackModel string) {
	if c.Synthesizer != nil && c.Synthesizer.Model == "" {
		c.Synthesizer.Model = fallbackModel
	}
}

// Validate checks the panel configuration.
func (c *PanelConfig) Validate() error {
	if c.MaxConcurrency < 0 {
		return errors.New("max_concurrency must be non-negative")
	}
	if c.MemberTimeout < 0 {
		return errors.New("member_timeout must be non-negative")
	}
	if c.Synthesizer != nil {
		return c.Synthesizer.Prompt.validate()
	}
	return nil
}

// GateConfig configures human approval of critical changes.
//
// Example:
//
//	gate:
//	  enabled: true
//	  approver: terminal
//	  keywords: [payment, password]
type GateConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Keywords mark an artifact as critical (case-insensitive substring).
	// Default: delete, drop, remove, truncate, password, secret, credential, production
	Keywords []string `yaml:"keywords,omitempty"`

	// MinAggregate skips approval for artifacts scoring below it.
	MinAggregate int `yaml:"min_aggregate,omitempty"`

	// Approver is terminal, llm, auto_approve or auto_reject.
	// Default: terminal
	Approver string `yaml:"approver,omitempty"`

	// Model used by the llm approver.
	Model string `yaml:"model,omitempty"`
}

// SetDefaults applies default values.
func (c *GateConfig) SetDefaults(fallbackModel string) {
	if c.Approver == "" {
		c.Approver = ApproverTerminal
	}
	if c.Approver == ApproverLLM && c.Model == "" {
		c.Model = fallbackModel
	}
}

// Validate checks the gate configuration.
func (c *GateConfig) Validate() error {
	switch c.Approver {
	case ApproverTerminal, ApproverLLM, ApproverAutoApprove, ApproverAutoReject:
	default:
		return fmt.Errorf("invalid approver %q (valid: terminal, llm, auto_approve, auto_reject)", c.Approver)
	}
	if c.MinAggregate < 0 || c.MinAggregate > 10 {
		return errors.New("min_aggregate must be between 0 and 10")
	}
	return nil
}

func validateSampling(temperature *float64, maxTokens *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	return nil
}
