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
	"strings"

	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// ApprovalCriterion is the criterion written by approval steps.
const ApprovalCriterion = "approval"

// approvalOutput is the wire form of an approval decision.
type approvalOutput struct {
	Approved bool   `json:"approved" jsonschema:"required,description=True when the code is ready for production"`
	Feedback string `json:"feedback" jsonschema:"required,description=Reasons for rejection or notes for approval"`
}

var approvalSchema = mustSchema[approvalOutput]()

// ApprovalConfig configures an ApprovalEvaluator.
type ApprovalConfig struct {
	// Name identifies the evaluator in errors. Default: "approval"
	Name string

	Model model.LLM

	// Reviewer runs first; its feedback is shown to the approver.
	Reviewer refine.Evaluator

	// Prompt defaults to DefaultApprovalPrompt.
	Prompt *Prompt

	Sampling Sampling
}

// ApprovalEvaluator makes a binary ship/no-ship decision. Approval sets Stop
// and scores MaxScore; rejection scores MinScore with the approver's feedback.
type ApprovalEvaluator struct {
	cfg ApprovalConfig
}

type approvalData struct {
	Code   string
	Review string
}

// NewApprovalEvaluator validates cfg and returns an ApprovalEvaluator.
func NewApprovalEvaluator(cfg ApprovalConfig) (*ApprovalEvaluator, error) {
	if cfg.Model == nil {
		return nil, errors.New("approval model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "approval"
	}
	if cfg.Prompt == nil {
		cfg.Prompt = DefaultApprovalPrompt
	}
	return &ApprovalEvaluator{cfg: cfg}, nil
}

// Evaluate decides on the artifact. Reviewer scores are kept next to the
// approval criterion.
func (e *ApprovalEvaluator) Evaluate(ctx context.Context, artifact refine.Artifact) (refine.Evaluation, error) {
	var review refine.Evaluation
	if e.cfg.Reviewer != nil {
		var err error
		if review, err = e.cfg.Reviewer.Evaluate(ctx, artifact); err != nil {
			return refine.Evaluation{}, err
		}
	}

	cfg := e.cfg.Sampling.config()
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = approvalSchema
	cfg.ResponseSchemaName = "approval"

	resp, err := complete(ctx, e.cfg.Model, e.cfg.Prompt, approvalData{
		Code:   artifact.Content,
		Review: review.Feedback(),
	}, cfg)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return refine.Evaluation{}, &refine.ParseError{Criteria: []string{ApprovalCriterion}, Err: err}
		}
		return refine.Evaluation{}, &refine.EvaluationError{Evaluator: e.cfg.Name, Err: err}
	}

	var out approvalOutput
	if err := decodeJSON(resp.Content, &out); err != nil {
		return refine.Evaluation{}, &refine.ParseError{Raw: resp.Content, Criteria: []string{ApprovalCriterion}, Err: err}
	}

	eval := review
	eval.Scores = append(append([]refine.Score(nil), review.Scores...), approvalScore(out.Approved, out.Feedback))
	eval.Stop = out.Approved
	if fb := strings.TrimSpace(out.Feedback); fb != "" {
		eval.Summary = fb
	}
	return eval, nil
}

func approvalScore(approved bool, feedback string) refine.Score {
	s := refine.Score{Criterion: ApprovalCriterion, Value: refine.MinScore, Feedback: strings.TrimSpace(feedback)}
	if approved {
		s.Value = refine.MaxScore
	}
	return s
}

// LLMApprover simulates a human approver with a model.
type LLMApprover struct {
	Model    model.LLM
	Prompt   *Prompt
	Sampling Sampling
}

type humanApprovalData struct {
	Code    string
	Review  string
	Matched []string
}

// Approve implements Approver.
func (a *LLMApprover) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	prompt := a.Prompt
	if prompt == nil {
		prompt = DefaultHumanApprovalPrompt
	}

	cfg := a.Sampling.config()
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = approvalSchema
	cfg.ResponseSchemaName = "approval"

	resp, err := complete(ctx, a.Model, prompt, humanApprovalData{
		Code:    req.Artifact.Content,
		Review:  req.Evaluation.Feedback(),
		Matched: req.Matched,
	}, cfg)
	if err != nil {
		return Decision{}, err
	}

	var out approvalOutput
	if err := decodeJSON(resp.Content, &out); err != nil {
		return Decision{}, err
	}
	return Decision{Approved: out.Approved, Comments: strings.TrimSpace(out.Feedback)}, nil
}

var _ refine.Evaluator = (*ApprovalEvaluator)(nil)
