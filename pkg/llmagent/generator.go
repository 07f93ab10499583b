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


package llmagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// DefaultCriteria are scored when an evaluator is configured without criteria.
var DefaultCriteria = []string{"Security", "Performance", "Readability"}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Model model.LLM

	// Language is named in prompts. Default: "Python"
	Language string

	// Focus lists the qualities a refinement should improve.
	// Default: DefaultCriteria
	Focus []string

	// GeneratePrompt renders the first attempt. Default: DefaultGeneratePrompt
	GeneratePrompt *Prompt

	// RefinePrompt renders later attempts. Default: DefaultRefinePrompt
	RefinePrompt *Prompt

	// KeepRaw stores the whole reply instead of its first code block.
	KeepRaw bool

	Sampling Sampling
	Logger   *slog.Logger
}

// Generator writes code for a task and revises it from evaluation feedback.
type Generator struct {
	cfg GeneratorConfig
}

// generateData is the template data of GeneratePrompt and RefinePrompt.
type generateData struct {
	Task     refine.Task
	Language string
	Focus    []string
	Previous string
	Feedback string
}

// NewGenerator validates cfg and returns a Generator.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.Model == nil {
		return nil, errors.New("generator model is required")
	}
	if cfg.Language == "" {
		cfg.Language = "Python"
	}
	if len(cfg.Focus) == 0 {
		cfg.Focus = DefaultCriteria
	}
	if cfg.GeneratePrompt == nil {
		cfg.GeneratePrompt = DefaultGeneratePrompt
	}
	if cfg.RefinePrompt == nil {
		cfg.RefinePrompt = DefaultRefinePrompt
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{cfg: cfg}, nil
}

// Generate produces a first attempt. When feedback is given the reviewer's
// concerns are appended to the task.
func (g *Generator) Generate(ctx context.Context, task refine.Task, feedback *refine.Evaluation) (refine.Artifact, error) {
	data := g.data(task)
	if feedback != nil {
		data.Feedback = feedback.Feedback()
	}
	return g.call(ctx, g.cfg.GeneratePrompt, data)
}

// Refine revises previous using feedback.
func (g *Generator) Refine(ctx context.Context, task refine.Task, previous refine.Artifact, feedback refine.Evaluation) (refine.Artifact, error) {
	data := g.data(task)
	data.Previous = previous.Content
	data.Feedback = feedback.Feedback()
	return g.call(ctx, g.cfg.RefinePrompt, data)
}

func (g *Generator) data(task refine.Task) generateData {
	return generateData{Task: task, Language: g.cfg.Language, Focus: g.cfg.Focus}
}

func (g *Generator) call(ctx context.Context, prompt *Prompt, data generateData) (refine.Artifact, error) {
	resp, err := complete(ctx, g.cfg.Model, prompt, data, g.cfg.Sampling.config())
	if err != nil {
		return refine.Artifact{}, fmt.Errorf("%s: %w", g.cfg.Model.Name(), err)
	}

	content := resp.Content
	if !g.cfg.KeepRaw {
		content = export.ExtractCode(content)
	}
	if resp.FinishReason == "length" {
		g.cfg.Logger.Warn("Generation truncated by token limit", "model", g.cfg.Model.Name())
	}

	return refine.Artifact{Content: content, Usage: toUsage(resp.Usage)}, nil
}

var (
	_ refine.Generator = (*Generator)(nil)
	_ refine.Refiner   = (*Generator)(nil)
)
