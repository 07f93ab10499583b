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

import "github.com/kadirpekel/refinery/pkg/refine"

// PolicyConfig configures the termination policy.
//
// Example:
//
//	policy:
//	  quality_threshold: 9
//	  max_iterations: 5
//	  allow_immediate_success: true
//	  fast_track_threshold: 8
//	  selection: best_seen
type PolicyConfig struct {
	// QualityThreshold is met when the lowest criterion score reaches it.
	// Default: 9
	QualityThreshold int `yaml:"quality_threshold,omitempty" json:"quality_threshold,omitempty"`

	// MaxIterations caps refinement steps. An explicit 0 keeps the first artifact.
	// Default: 5
	MaxIterations *int `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`

	// AllowImmediateSuccess ends the run when the first artifact already qualifies.
	AllowImmediateSuccess bool `yaml:"allow_immediate_success,omitempty" json:"allow_immediate_success,omitempty"`

	// FastTrackThreshold is the score a first artifact needs to fast track.
	// Default: quality_threshold
	FastTrackThreshold int `yaml:"fast_track_threshold,omitempty" json:"fast_track_threshold,omitempty"`

	// Selection is "latest" or "best_seen".
	// Default: latest
	Selection string `yaml:"selection,omitempty" json:"selection,omitempty"`

	// MaxRetries bounds failed generator and evaluator calls per run.
	// Default: 3
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// BreakerThreshold is the number of consecutive failures that stop the run.
	// Default: 2
	BreakerThreshold int `yaml:"breaker_threshold,omitempty" json:"breaker_threshold,omitempty"`

	// NeutralScore replaces unparsable evaluator output.
	// Default: 5
	NeutralScore int `yaml:"neutral_score,omitempty" json:"neutral_score,omitempty"`
}

// SetDefaults applies default values.
func (c *PolicyConfig) SetDefaults() {
	if c.MaxIterations == nil {
		n := refine.DefaultMaxIterations
		c.MaxIterations = &n
	}
	p := c.Policy()
	c.QualityThreshold = p.QualityThreshold
	c.FastTrackThreshold = p.FastTrackThreshold
	c.Selection = string(p.Selection)
	c.MaxRetries = p.MaxRetries
	c.BreakerThreshold = p.BreakerThreshold
	c.NeutralScore = p.NeutralScore
}

// Validate checks the policy.
func (c *PolicyConfig) Validate() error {
	return c.Policy().Validate()
}

// Policy converts the section to a refine.Policy with defaults applied.
func (c PolicyConfig) Policy() refine.Policy {
	p := refine.Policy{
		QualityThreshold:      c.QualityThreshold,
		AllowImmediateSuccess: c.AllowImmediateSuccess,
		FastTrackThreshold:    c.FastTrackThreshold,
		Selection:             refine.Selection(c.Selection),
		MaxRetries:            c.MaxRetries,
		BreakerThreshold:      c.BreakerThreshold,
		NeutralScore:          c.NeutralScore,
		MaxIterations:         refine.DefaultMaxIterations,
	}
	if c.MaxIterations != nil {
		p.MaxIterations = *c.MaxIterations
	}
	p.SetDefaults()
	return p
}
