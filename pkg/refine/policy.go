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

import "fmt"

// Selection picks which artifact of the history becomes the result.
type Selection string

const (
	// SelectLatest returns the most recent artifact.
	SelectLatest Selection = "latest"

	// SelectBestSeen returns the artifact with the highest aggregate.
	// Ties keep the earlier artifact.
	SelectBestSeen Selection = "best_seen"
)

// Policy defaults.
const (
	DefaultQualityThreshold = 9
	DefaultMaxIterations    = 5
	DefaultMaxRetries       = 3
	DefaultBreakerThreshold = 2
)

// Policy decides when a run terminates.
type Policy struct {
	// QualityThreshold is met when the aggregate score is >= this value.
	QualityThreshold int `yaml:"quality_threshold" json:"quality_threshold"`

	// MaxIterations caps the number of refinement steps after iteration 0.
	// Zero means the first artifact is final.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// AllowImmediateSuccess lets a qualifying first artifact end the run.
	// When false at least one refinement happens.
	AllowImmediateSuccess bool `yaml:"allow_immediate_success" json:"allow_immediate_success"`

	// FastTrackThreshold is the aggregate a first artifact needs to end the
	// run when AllowImmediateSuccess is set. Defaults to QualityThreshold.
	FastTrackThreshold int `yaml:"fast_track_threshold" json:"fast_track_threshold"`

	Selection Selection `yaml:"selection" json:"selection"`

	// MaxRetries bounds the failed collaborator calls a run tolerates.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// BreakerThreshold is the number of consecutive failures that stop the run
	// for manual intervention.
	BreakerThreshold int `yaml:"breaker_threshold" json:"breaker_threshold"`

	// NeutralScore replaces scores the evaluator failed to produce.
	NeutralScore int `yaml:"neutral_score" json:"neutral_score"`
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	p := Policy{MaxIterations: DefaultMaxIterations}
	p.SetDefaults()
	return p
}

// SetDefaults fills unset fields. MaxIterations and AllowImmediateSuccess
// are left alone since their zero values are meaningful.
func (p *Policy) SetDefaults() {
	if p.QualityThreshold == 0 {
		p.QualityThreshold = DefaultQualityThreshold
	}
	if p.FastTrackThreshold == 0 {
		p.FastTrackThreshold = p.QualityThreshold
	}
	if p.Selection == "" {
		p.Selection = SelectLatest
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BreakerThreshold == 0 {
		p.BreakerThreshold = DefaultBreakerThreshold
	}
	if p.NeutralScore == 0 {
		p.NeutralScore = DefaultNeutralScore
	}
}

// Validate returns a *PolicyViolation describing every inconsistent field.
func (p Policy) Validate() error {
	var problems []string
	if p.MaxIterations < 0 {
		problems = append(problems, fmt.Sprintf("max_iterations must be >= 0, got %d", p.MaxIterations))
	}
	if p.QualityThreshold < MinScore || p.QualityThreshold > MaxScore {
		problems = append(problems, fmt.Sprintf("quality_threshold must be within [%d, %d], got %d", MinScore, MaxScore, p.QualityThreshold))
	}
	if p.FastTrackThreshold < MinScore || p.FastTrackThreshold > MaxScore {
		problems = append(problems, fmt.Sprintf("fast_track_threshold must be within [%d, %d], got %d", MinScore, MaxScore, p.FastTrackThreshold))
	}
	switch p.Selection {
	case SelectLatest, SelectBestSeen:
	default:
		problems = append(problems, fmt.Sprintf("selection must be %q or %q, got %q", SelectLatest, SelectBestSeen, p.Selection))
	}
	if p.MaxRetries < 1 {
		problems = append(problems, fmt.Sprintf("max_retries must be >= 1, got %d", p.MaxRetries))
	}
	if p.BreakerThreshold < 1 {
		problems = append(problems, fmt.Sprintf("breaker_threshold must be >= 1, got %d", p.BreakerThreshold))
	}
	if p.NeutralScore < MinScore || p.NeutralScore > MaxScore {
		problems = append(problems, fmt.Sprintf("neutral_score must be within [%d, %d], got %d", MinScore, MaxScore, p.NeutralScore))
	}
	if len(problems) > 0 {
		return &PolicyViolation{Problems: problems}
	}
	return nil
}

// decision is the outcome of applying the policy to one evaluated iteration.
type decision struct {
	finalize bool
	reason   Reason
}

// decide applies the policy to the evaluation of iteration i.
func (p Policy) decide(i int, eval Evaluation) decision {
	if eval.Stop {
		return decision{finalize: true, reason: ReasonEvaluatorSignaledStop}
	}
	aggregate := eval.Aggregate()
	if i == 0 && p.AllowImmediateSuccess && aggregate >= p.FastTrackThreshold {
		return decision{finalize: true, reason: ReasonFastTrackQualityMet}
	}
	if i > 0 && aggregate >= p.QualityThreshold {
		return decision{finalize: true, reason: ReasonQualityThresholdMet}
	}
	if i >= p.MaxIterations {
		return decision{finalize: true, reason: ReasonMaxIterationsReached}
	}
	return decision{}
}

// selectFinal returns the index of the artifact to hand back, considering
// only evaluated records. It returns -1 when nothing was evaluated.
func (p Policy) selectFinal(history []IterationRecord) int {
	if p.Selection != SelectBestSeen {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Evaluation != nil {
				return i
			}
		}
		return -1
	}
	best, bestScore := -1, 0
	for i, rec := range history {
		score, ok := rec.Aggregate()
		if !ok {
			continue
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
