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

	"github.com/kadirpekel/refinery/pkg/fanout"
	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// Synthesizer merges panel member reports into prioritised recommendations.
type Synthesizer struct {
	Model    model.LLM
	Prompt   *Prompt
	Sampling Sampling
}

type memberReport struct {
	Name   string
	Report string
}

type synthesisData struct {
	Code    string
	Reports []memberReport
}

// Synthesize implements fanout.Synthesizer. Failed members are listed with
// their error so the synthesis can mention gaps.
func (s *Synthesizer) Synthesize(ctx context.Context, artifact refine.Artifact, results []fanout.MemberResult) (string, error) {
	if s.Model == nil {
		return "", errors.New("synthesizer model is required")
	}
	prompt := s.Prompt
	if prompt == nil {
		prompt = DefaultSynthesisPrompt
	}

	data := synthesisData{Code: artifact.Content}
	for _, r := range results {
		report := r.Evaluation.Feedback()
		if r.Err != nil {
			report = fmt.Sprintf("(analysis unavailable: %v)", r.Err)
		}
		data.Reports = append(data.Reports, memberReport{Name: titleCase(r.Member), Report: report})
	}

	resp, err := complete(ctx, s.Model, prompt, data, s.Sampling.config())
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var _ fanout.Synthesizer = (*Synthesizer)(nil)
