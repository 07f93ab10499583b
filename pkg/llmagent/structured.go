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
	"strings"

	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// scoreOutput is the wire form of one criterion score.
type scoreOutput struct {
	Criterion string `json:"criterion" jsonschema:"required,description=Criterion name exactly as listed"`
	Score     int    `json:"score" jsonschema:"required,minimum=1,maximum=10"`
	Feedback  string `json:"feedback" jsonschema:"required,description=Concrete change that would raise the score"`
}

// evaluationOutput is the wire form requested from a StructuredEvaluator.
type evaluationOutput struct {
	Scores  []scoreOutput `json:"scores" jsonschema:"required"`
	Summary string        `json:"summary" jsonschema:"required,description=Overall assessment"`
	Stop    bool          `json:"stop" jsonschema:"required,description=True when further refinement is not worthwhile"`
}

var evaluationSchema = mustSchema[evaluationOutput]()

// StructuredConfig configures a StructuredEvaluator.
type StructuredConfig struct {
	// Name identifies the evaluator in errors. Default: "structured"
	Name string

	Model model.LLM

	// Criteria are requested in the prompt and required in the reply.
	// Default: DefaultCriteria
	Criteria []string

	// Prompt defaults to DefaultStructuredPrompt.
	Prompt *Prompt

	Sampling Sampling
}

// StructuredEvaluator requests a JSON evaluation matching a reflected schema.
type StructuredEvaluator struct {
	cfg StructuredConfig
}

type structuredData struct {
	scoreRange
	Code     string
	Criteria []string
}

// NewStructuredEvaluator validates cfg and returns a StructuredEvaluator.
func NewStructuredEvaluator(cfg StructuredConfig) (*StructuredEvaluator, error) {
	if cfg.Model == nil {
		return nil, errors.New("evaluator model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "structured"
	}
	if len(cfg.Criteria) == 0 {
		cfg.Criteria = DefaultCriteria
	}
	if cfg.Prompt == nil {
		cfg.Prompt = DefaultStructuredPrompt
	}
	return &StructuredEvaluator{cfg: cfg}, nil
}

// Evaluate scores the artifact.
func (e *StructuredEvaluator) Evaluate(ctx context.Context, artifact refine.Artifact) (refine.Evaluation, error) {
	cfg := e.cfg.Sampling.config()
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = evaluationSchema
	cfg.ResponseSchemaName = "evaluation"

	resp, err := complete(ctx, e.cfg.Model, e.cfg.Prompt, structuredData{
		scoreRange: defaultRange,
		Code:       artifact.Content,
		Criteria:   e.cfg.Criteria,
	}, cfg)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return refine.Evaluation{}, &refine.ParseError{Criteria: e.cfg.Criteria, Err: err}
		}
		return refine.Evaluation{}, &refine.EvaluationError{Evaluator: e.cfg.Name, Err: err}
	}

	return ParseStructured(resp.Content, e.cfg.Criteria)
}

// ParseStructured decodes a JSON evaluation. When criteria is non-empty every
// criterion must be scored; unknown criteria are kept.
func ParseStructured(text string, criteria []string) (refine.Evaluation, error) {
	fail := func(err error) (refine.Evaluation, error) {
		return refine.Evaluation{}, &refine.ParseError{Raw: text, Criteria: criteria, Err: err}
	}

	var out evaluationOutput
	if err := decodeJSON(text, &out); err != nil {
		return fail(err)
	}
	if len(out.Scores) == 0 {
		return fail(errors.New("no scores in output"))
	}

	eval := refine.Evaluation{Summary: strings.TrimSpace(out.Summary), Stop: out.Stop}
	for _, s := range out.Scores {
		eval.Scores = append(eval.Scores, refine.Score{
			Criterion: strings.TrimSpace(s.Criterion),
			Value:     refine.ClampScore(s.Score),
			Feedback:  strings.TrimSpace(s.Feedback),
		})
	}

	var missing []string
	for _, c := range criteria {
		if _, ok := eval.Lookup(c); !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fail(fmt.Errorf("no score for %s", strings.Join(missing, ", ")))
	}
	return eval, nil
}

var _ refine.Evaluator = (*StructuredEvaluator)(nil)
