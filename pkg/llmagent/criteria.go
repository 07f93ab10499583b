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
	"regexp"
	"strconv"
	"strings"

	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// CriteriaConfig configures a CriteriaEvaluator.
type CriteriaConfig struct {
	// Name identifies the evaluator in errors. Default: "criteria"
	Name string

	Model model.LLM

	// Criteria are scored independently. Default: DefaultCriteria
	Criteria []string

	// Prompt defaults to DefaultCriteriaPrompt.
	Prompt *Prompt

	Sampling Sampling
}

// CriteriaEvaluator asks for one "Name: N" pair per criterion and parses
// the reply.
type CriteriaEvaluator struct {
	cfg      CriteriaConfig
	patterns []*regexp.Regexp
}

type criteriaData struct {
	scoreRange
	Code     string
	Criteria []string
	Format   string
}

// NewCriteriaEvaluator validates cfg and returns a CriteriaEvaluator.
func NewCriteriaEvaluator(cfg CriteriaConfig) (*CriteriaEvaluator, error) {
	if cfg.Model == nil {
		return nil, errors.New("evaluator model is required")
	}
	if cfg.Name == "" {
		cfg.Name = "criteria"
	}
	if len(cfg.Criteria) == 0 {
		cfg.Criteria = DefaultCriteria
	}
	if cfg.Prompt == nil {
		cfg.Prompt = DefaultCriteriaPrompt
	}

	e := &CriteriaEvaluator{cfg: cfg}
	seen := make(map[string]bool, len(cfg.Criteria))
	for _, c := range cfg.Criteria {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			return nil, errors.New("criterion names must not be empty")
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate criterion %q", c)
		}
		seen[key] = true
		e.patterns = append(e.patterns, criterionPattern(c))
	}
	return e, nil
}

// Criteria returns the scored criterion names.
func (e *CriteriaEvaluator) Criteria() []string {
	return append([]string(nil), e.cfg.Criteria...)
}

// Evaluate scores the artifact.
func (e *CriteriaEvaluator) Evaluate(ctx context.Context, artifact refine.Artifact) (refine.Evaluation, error) {
	placeholders := make([]string, len(e.cfg.Criteria))
	for i, c := range e.cfg.Criteria {
		placeholders[i] = c + ": " + string(rune('X'+i%3))
	}

	resp, err := complete(ctx, e.cfg.Model, e.cfg.Prompt, criteriaData{
		scoreRange: defaultRange,
		Code:       artifact.Content,
		Criteria:   e.cfg.Criteria,
		Format:     strings.Join(placeholders, ", "),
	}, e.cfg.Sampling.config())
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return refine.Evaluation{}, &refine.ParseError{Criteria: e.Criteria(), Err: err}
		}
		return refine.Evaluation{}, &refine.EvaluationError{Evaluator: e.cfg.Name, Err: err}
	}

	scores, err := e.parse(resp.Content)
	if err != nil {
		return refine.Evaluation{}, err
	}
	return refine.Evaluation{Scores: scores}, nil
}

// ParseCriteria extracts "Name: N" scores for every criterion from text.
// Values are clamped to the score range. A missing criterion yields a
// *refine.ParseError.
func ParseCriteria(text string, criteria []string) ([]refine.Score, error) {
	e := &CriteriaEvaluator{cfg: CriteriaConfig{Criteria: criteria}}
	for _, c := range criteria {
		e.patterns = append(e.patterns, criterionPattern(c))
	}
	return e.parse(text)
}

func (e *CriteriaEvaluator) parse(text string) ([]refine.Score, error) {
	scores := make([]refine.Score, 0, len(e.patterns))
	var missing []string
	for i, re := range e.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			missing = append(missing, e.cfg.Criteria[i])
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			missing = append(missing, e.cfg.Criteria[i])
			continue
		}
		scores = append(scores, refine.Score{Criterion: e.cfg.Criteria[i], Value: refine.ClampScore(v)})
	}
	if len(missing) > 0 {
		return nil, &refine.ParseError{
			Raw:      text,
			Criteria: e.Criteria(),
			Err:      fmt.Errorf("no score for %s", strings.Join(missing, ", ")),
		}
	}
	return scores, nil
}

// criterionPattern matches "Security: 7", "**Security** = 7/10" and similar.
func criterionPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\b\W{0,4}?\s*[:=\-]\s*\**\s*(-?\d+)`)
}

var _ refine.Evaluator = (*CriteriaEvaluator)(nil)
