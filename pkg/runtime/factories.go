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


package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/fanout"
	"github.com/kadirpekel/refinery/pkg/llmagent"
	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/model/anthropic"
	"github.com/kadirpekel/refinery/pkg/model/gemini"
	"github.com/kadirpekel/refinery/pkg/model/openai"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/store"
)

// LLMFactory creates a model from its configuration.
type LLMFactory func(ctx context.Context, cfg *config.ModelConfig) (model.LLM, error)

// DefaultLLMFactory creates LLM instances based on provider type.
func DefaultLLMFactory(ctx context.Context, cfg *config.ModelConfig) (model.LLM, error) {
	maxRetries := 0
	if cfg.MaxRetries != nil {
		maxRetries = *cfg.MaxRetries
	}

	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxRetries:  maxRetries,
			TLS:         cfg.TLS,
		})

	case config.LLMProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			BaseURL:     cfg.BaseURL,
			Timeout:     cfg.Timeout,
			MaxRetries:  maxRetries,
			TLS:         cfg.TLS,
		})

	case config.LLMProviderGemini:
		gcfg := gemini.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			BaseURL:   cfg.BaseURL,
		}
		if cfg.Temperature != nil {
			gcfg.Temperature = *cfg.Temperature
		}
		return gemini.New(ctx, gcfg)

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// builder resolves model references while assembling collaborators.
type builder struct {
	cfg      *config.Config
	models   map[string]model.LLM
	approver llmagent.Approver
	logger   *slog.Logger
}

func (b *builder) model(name string) (model.LLM, error) {
	llm, ok := b.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q not found", name)
	}
	return llm, nil
}

func buildPrompt(name string, pc *config.PromptConfig) (*llmagent.Prompt, error) {
	if pc == nil {
		return nil, nil
	}
	return llmagent.NewPrompt(name, pc.System, pc.User)
}

func (b *builder) generator() (*llmagent.Generator, error) {
	gc := b.cfg.Generator
	llm, err := b.model(gc.Model)
	if err != nil {
		return nil, err
	}
	generate, err := buildPrompt("generate", gc.GeneratePrompt)
	if err != nil {
		return nil, err
	}
	refinePrompt, err := buildPrompt("refine", gc.RefinePrompt)
	if err != nil {
		return nil, err
	}
	return llmagent.NewGenerator(llmagent.GeneratorConfig{
		Model:          llm,
		Language:       gc.Language,
		Focus:          gc.Focus,
		GeneratePrompt: generate,
		RefinePrompt:   refinePrompt,
		KeepRaw:        gc.KeepRaw,
		Sampling:       llmagent.Sampling{Temperature: gc.Temperature, MaxTokens: gc.MaxTokens},
		Logger:         b.logger,
	})
}

// evaluator builds one configured evaluator and returns the criteria it scores.
func (b *builder) evaluator(ec *config.EvaluatorConfig) (refine.Evaluator, []string, error) {
	llm, err := b.model(ec.Model)
	if err != nil {
		return nil, nil, err
	}
	prompt, err := buildPrompt(ec.Name, ec.Prompt)
	if err != nil {
		return nil, nil, err
	}
	sampling := llmagent.Sampling{Temperature: ec.Temperature, MaxTokens: ec.MaxTokens}

	switch ec.Type {
	case config.EvaluatorCriteria:
		e, err := llmagent.NewCriteriaEvaluator(llmagent.CriteriaConfig{
			Name:     ec.Name,
			Model:    llm,
			Criteria: ec.Criteria,
			Prompt:   prompt,
			Sampling: sampling,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, e.Criteria(), nil

	case config.EvaluatorStructured:
		e, err := llmagent.NewStructuredEvaluator(llmagent.StructuredConfig{
			Name:     ec.Name,
			Model:    llm,
			Criteria: ec.Criteria,
			Prompt:   prompt,
			Sampling: sampling,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, ec.Criteria, nil

	case config.EvaluatorApproval:
		var reviewer refine.Evaluator
		if ec.Reviewer != nil {
			if reviewer, _, err = b.evaluator(ec.Reviewer); err != nil {
				return nil, nil, fmt.Errorf("reviewer: %w", err)
			}
		}
		e, err := llmagent.NewApprovalEvaluator(llmagent.ApprovalConfig{
			Name:     ec.Name,
			Model:    llm,
			Reviewer: reviewer,
			Prompt:   prompt,
			Sampling: sampling,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, []string{llmagent.ApprovalCriterion}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported evaluator type: %s", ec.Type)
	}
}

// evaluation builds the evaluator handed to the controller: a single
// evaluator, or a panel when several are configured, behind the optional
// critical gate.
func (b *builder) evaluation() (refine.Evaluator, error) {
	members := make([]fanout.Member, 0, len(b.cfg.Evaluators))
	for _, ec := range b.cfg.Evaluators {
		e, criteria, err := b.evaluator(ec)
		if err != nil {
			return nil, fmt.Errorf("evaluator %s: %w", ec.Name, err)
		}
		members = append(members, fanout.Member{Name: ec.Name, Evaluator: e, Criteria: criteria})
	}
	if len(members) == 0 {
		return nil, errors.New("at least one evaluator is required")
	}

	var eval refine.Evaluator = members[0].Evaluator
	if len(members) > 1 {
		panel, err := b.panel(members)
		if err != nil {
			return nil, err
		}
		eval = panel
	}

	if !b.cfg.Gate.Enabled {
		return eval, nil
	}
	approver, err := b.gateApprover()
	if err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	gate, err := llmagent.NewCriticalGate(llmagent.GateConfig{
		Evaluator:    eval,
		Approver:     approver,
		Keywords:     b.cfg.Gate.Keywords,
		MinAggregate: b.cfg.Gate.MinAggregate,
		Logger:       b.logger,
	})
	if err != nil {
		return nil, err
	}
	return gate, nil
}

func (b *builder) panel(members []fanout.Member) (*fanout.Panel, error) {
	pc := b.cfg.Panel
	cfg := fanout.Config{
		Members:        members,
		RequireAll:     pc.RequireAll,
		MaxConcurrency: pc.MaxConcurrency,
		MemberTimeout:  pc.MemberTimeout,
		NeutralScore:   b.cfg.Policy.NeutralScore,
		Logger:         b.logger,
	}
	if pc.Synthesizer != nil {
		llm, err := b.model(pc.Synthesizer.Model)
		if err != nil {
			return nil, fmt.Errorf("synthesizer: %w", err)
		}
		prompt, err := buildPrompt("synthesis", pc.Synthesizer.Prompt)
		if err != nil {
			return nil, err
		}
		cfg.Synthesizer = &llmagent.Synthesizer{Model: llm, Prompt: prompt}
	}
	return fanout.New(cfg)
}

// Automatic approvers for unattended gates.
var (
	autoApprove = llmagent.ApproverFunc(func(context.Context, llmagent.ApprovalRequest) (llmagent.Decision, error) {
		return llmagent.Decision{Approved: true, Comments: "Approved automatically"}, nil
	})
	autoReject = llmagent.ApproverFunc(func(_ context.Context, req llmagent.ApprovalRequest) (llmagent.Decision, error) {
		return llmagent.Decision{Comments: fmt.Sprintf("Rejected automatically: touches %v", req.Matched)}, nil
	})
)

func (b *builder) gateApprover() (llmagent.Approver, error) {
	switch b.cfg.Gate.Approver {
	case config.ApproverTerminal:
		if b.approver == nil {
			return nil, errors.New("terminal approver is not available in this mode")
		}
		return b.approver, nil
	case config.ApproverLLM:
		llm, err := b.model(b.cfg.Gate.Model)
		if err != nil {
			return nil, err
		}
		return &llmagent.LLMApprover{Model: llm}, nil
	case config.ApproverAutoApprove:
		return autoApprove, nil
	case config.ApproverAutoReject:
		return autoReject, nil
	default:
		return nil, fmt.Errorf("unsupported approver: %s", b.cfg.Gate.Approver)
	}
}

// fileExporters builds the configured on-disk exporters.
func fileExporters(cfg config.ExportConfig, logger *slog.Logger) (export.Exporters, error) {
	if cfg.Disabled {
		return nil, nil
	}
	var out export.Exporters
	for _, f := range cfg.Formats {
		switch f {
		case config.ExportAudit:
			out = append(out, &export.AuditWriter{
				Dir:       cfg.Dir,
				Pattern:   cfg.Pattern,
				Extension: cfg.Extension,
				Language:  cfg.Language,
				Logger:    logger,
			})
		case config.ExportJSON:
			out = append(out, export.NewJSONExporter(cfg.Dir))
		case config.ExportYAML:
			out = append(out, export.NewYAMLExporter(cfg.Dir))
		default:
			return nil, fmt.Errorf("unsupported export format: %s", f)
		}
	}
	return out, nil
}

// openStore opens the configured database, or returns nil when none is configured.
func openStore(ctx context.Context, cfg *config.DatabaseConfig) (store.Store, error) {
	if cfg == nil {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return st, nil
}
