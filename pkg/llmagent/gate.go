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
	"log/slog"
	"strings"

	"github.com/kadirpekel/refinery/pkg/refine"
)

// DefaultCriticalKeywords mark artifacts that need human approval.
var DefaultCriticalKeywords = []string{
	"delete", "drop", "remove", "truncate",
	"password", "secret", "credential", "production",
}

// ApprovalRequest is shown to an Approver.
type ApprovalRequest struct {
	Artifact   refine.Artifact
	Evaluation refine.Evaluation

	// Matched lists the critical keywords found in the artifact.
	Matched []string
}

// Decision is an Approver's answer.
type Decision struct {
	Approved bool
	Comments string
}

// Approver decides on critical changes, usually a human at a terminal.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// GateConfig configures a CriticalGate.
type GateConfig struct {
	Evaluator refine.Evaluator
	Approver  Approver

	// Keywords trigger approval, matched case-insensitively.
	// Default: DefaultCriticalKeywords
	Keywords []string

	// MinAggregate skips approval while the inner aggregate is below it.
	MinAggregate int

	Logger *slog.Logger
}

// CriticalGate wraps an evaluator with a human approval step for artifacts
// that touch critical operations. Approval sets Stop. Rejection adds an
// approval criterion at MinScore carrying the reviewer's comments, which
// the next refinement receives as feedback.
type CriticalGate struct {
	cfg GateConfig
}

// NewCriticalGate validates cfg and returns a CriticalGate.
func NewCriticalGate(cfg GateConfig) (*CriticalGate, error) {
	if cfg.Evaluator == nil {
		return nil, errors.New("gate evaluator is required")
	}
	if cfg.Approver == nil {
		return nil, errors.New("gate approver is required")
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultCriticalKeywords
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CriticalGate{cfg: cfg}, nil
}

// Matches returns the critical keywords present in content.
func (g *CriticalGate) Matches(content string) []string {
	lower := strings.ToLower(content)
	var matched []string
	for _, k := range g.cfg.Keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			matched = append(matched, k)
		}
	}
	return matched
}

// Evaluate runs the inner evaluator and, for critical artifacts, the approver.
func (g *CriticalGate) Evaluate(ctx context.Context, artifact refine.Artifact) (refine.Evaluation, error) {
	eval, err := g.cfg.Evaluator.Evaluate(ctx, artifact)
	if err != nil {
		return eval, err
	}

	matched := g.Matches(artifact.Content)
	if len(matched) == 0 || eval.Aggregate() < g.cfg.MinAggregate {
		return eval, nil
	}

	g.cfg.Logger.Info("Critical change requires approval", "iteration", artifact.Iteration, "keywords", matched)
	decision, err := g.cfg.Approver.Approve(ctx, ApprovalRequest{Artifact: artifact, Evaluation: eval, Matched: matched})
	if err != nil {
		return refine.Evaluation{}, &refine.EvaluationError{Evaluator: "approval gate", Err: err}
	}

	if decision.Approved {
		g.cfg.Logger.Info("Critical change approved", "iteration", artifact.Iteration)
		eval.Stop = true
		if decision.Comments != "" {
			eval.Summary = strings.TrimSpace(eval.Summary + "\nApprover: " + decision.Comments)
		}
		return eval, nil
	}

	g.cfg.Logger.Info("Critical change rejected", "iteration", artifact.Iteration, "comments", decision.Comments)
	comments := decision.Comments
	if comments == "" {
		comments = "rejected by approver"
	}
	eval.Scores = append(append([]refine.Score(nil), eval.Scores...), refine.Score{
		Criterion: ApprovalCriterion,
		Value:     refine.MinScore,
		Feedback:  comments,
	})
	eval.Stop = false
	return eval, nil
}

var _ refine.Evaluator = (*CriticalGate)(nil)
