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

package refine

import (
	"fmt"
	"strings"
	"time"
)

// Score range shared by every evaluator.
const (
	MinScore = 1
	MaxScore = 10

	// DefaultNeutralScore is substituted when an evaluator's output cannot be parsed.
	DefaultNeutralScore = 5
)

// OverallCriterion names the single criterion used when an evaluator
// does not declare its criteria.
const OverallCriterion = "overall"

// Task describes what the generator should produce.
type Task struct {
	ID          string            `json:"id,omitempty" yaml:"id,omitempty"`
	Description string            `json:"description" yaml:"description"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Usage reports token consumption of a collaborator call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Artifact is one candidate produced by a Generator.
// It is a value; refinement produces a new Artifact instead of editing one.
type Artifact struct {
	Content   string `json:"content" yaml:"content"`
	Iteration int    `json:"iteration" yaml:"iteration"`
	Usage     *Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Score is the result for one named criterion.
type Score struct {
	Criterion string `json:"criterion" yaml:"criterion"`
	Value     int    `json:"score" yaml:"score"`
	Feedback  string `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// MemberFailure records an evaluator that did not contribute to a merged Evaluation.
type MemberFailure struct {
	Member string `json:"member" yaml:"member"`
	Error  string `json:"error" yaml:"error"`
}

// Evaluation is the full set of scores for one Artifact.
type Evaluation struct {
	Scores []Score `json:"scores" yaml:"scores"`

	// Stop is set when the evaluator recommends finishing regardless of score.
	Stop bool `json:"stop,omitempty" yaml:"stop,omitempty"`

	// Summary is free-form feedback that applies to the whole artifact.
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Fallback marks an Evaluation synthesized from the neutral score
	// because the evaluator's output could not be parsed.
	Fallback bool `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Failed lists panel members whose results are missing.
	Failed []MemberFailure `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Aggregate returns the lowest score across all criteria.
// An Evaluation without scores aggregates to MinScore.
func (e Evaluation) Aggregate() int {
	if len(e.Scores) == 0 {
		return MinScore
	}
	lowest := e.Scores[0].Value
	for _, s := range e.Scores[1:] {
		if s.Value < lowest {
			lowest = s.Value
		}
	}
	return lowest
}

// Lookup returns the score for a criterion. Names match case-insensitively.
func (e Evaluation) Lookup(criterion string) (Score, bool) {
	for _, s := range e.Scores {
		if strings.EqualFold(s.Criterion, criterion) {
			return s, true
		}
	}
	return Score{}, false
}

// Partial reports whether some panel members failed to contribute.
func (e Evaluation) Partial() bool {
	return len(e.Failed) > 0
}

// Feedback renders the per-criterion feedback as plain text lines.
func (e Evaluation) Feedback() string {
	var b strings.Builder
	for _, s := range e.Scores {
		fmt.Fprintf(&b, "%s: %d/%d", s.Criterion, s.Value, MaxScore)
		if s.Feedback != "" {
			b.WriteString(" - ")
			b.WriteString(s.Feedback)
		}
		b.WriteString("\n")
	}
	if e.Summary != "" {
		b.WriteString(e.Summary)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// NeutralEvaluation scores every criterion with the neutral value.
// With no criteria it returns a single OverallCriterion score.
func NeutralEvaluation(neutral int, criteria []string) Evaluation {
	if len(criteria) == 0 {
		criteria = []string{OverallCriterion}
	}
	scores := make([]Score, 0, len(criteria))
	for _, c := range criteria {
		scores = append(scores, Score{
			Criterion: c,
			Value:     neutral,
			Feedback:  "evaluator output could not be parsed; neutral score applied",
		})
	}
	return Evaluation{Scores: scores, Fallback: true}
}

// ClampScore bounds a raw score to [MinScore, MaxScore].
func ClampScore(v int) int {
	switch {
	case v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	default:
		return v
	}
}

// IterationRecord is one entry of a run's history.
type IterationRecord struct {
	Index      int         `json:"index" yaml:"index"`
	Ordinal    int         `json:"ordinal" yaml:"ordinal"`
	Artifact   Artifact    `json:"artifact" yaml:"artifact"`
	Evaluation *Evaluation `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
	StartedAt  time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Aggregate returns the record's aggregate score, or false while evaluation is pending.
func (r IterationRecord) Aggregate() (int, bool) {
	if r.Evaluation == nil {
		return 0, false
	}
	return r.Evaluation.Aggregate(), true
}

// Step identifies which collaborator a failure came from.
type Step string

const (
	StepGenerate Step = "generate"
	StepEvaluate Step = "evaluate"
)

// StepFailure records one failed collaborator call.
type StepFailure struct {
	Iteration int       `json:"iteration" yaml:"iteration"`
	Step      Step      `json:"step" yaml:"step"`
	Attempt   int       `json:"attempt" yaml:"attempt"`
	Error     string    `json:"error" yaml:"error"`
	At        time.Time `json:"at" yaml:"at"`
}

// RunResult is the read-only outcome of a run.
type RunResult struct {
	RunID          string            `json:"run_id" yaml:"run_id"`
	Task           Task              `json:"task" yaml:"task"`
	History        []IterationRecord `json:"history" yaml:"history"`
	Final          *Artifact         `json:"final,omitempty" yaml:"final,omitempty"`
	FinalIndex     int               `json:"final_index" yaml:"final_index"`
	Reason         Reason            `json:"reason" yaml:"reason"`
	IterationCount int               `json:"iteration_count" yaml:"iteration_count"`
	Retries        int               `json:"retries" yaml:"retries"`
	Failures       []StepFailure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	StartedAt      time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time         `json:"finished_at" yaml:"finished_at"`

	// Err holds the terminal cause for Failed, NeedsManualIntervention and Canceled.
	Err error `json:"-" yaml:"-"`
}

// FinalScore returns the aggregate score of the selected artifact.
func (r *RunResult) FinalScore() (int, bool) {
	if r == nil || r.Final == nil || r.FinalIndex < 0 || r.FinalIndex >= len(r.History) {
		return 0, false
	}
	return r.History[r.FinalIndex].Aggregate()
}

// Succeeded reports whether the run ended on a success path.
func (r *RunResult) Succeeded() bool {
	return r != nil && r.Reason.Success()
}

// Duration is the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
