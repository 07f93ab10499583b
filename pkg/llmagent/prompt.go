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


// Package llmagent implements refinement collaborators on top of model.LLM:
// a code generator, several evaluators, a panel synthesizer and a human
// approval gate.
package llmagent

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompt is a pair of system and user templates rendered with text/template.
type Prompt struct {
	system *template.Template
	user   *template.Template
}

var promptFuncs = template.FuncMap{
	"join":  strings.Join,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// NewPrompt parses the system and user templates.
func NewPrompt(name, system, user string) (*Prompt, error) {
	sys, err := template.New(name + ".system").Funcs(promptFuncs).Option("missingkey=error").Parse(system)
	if err != nil {
		return nil, fmt.Errorf("invalid %s system prompt: %w", name, err)
	}
	usr, err := template.New(name + ".user").Funcs(promptFuncs).Option("missingkey=error").Parse(user)
	if err != nil {
		return nil, fmt.Errorf("invalid %s user prompt: %w", name, err)
	}
	return &Prompt{system: sys, user: usr}, nil
}

// MustPrompt is like NewPrompt but panics on a template error.
func MustPrompt(name, system, user string) *Prompt {
	p, err := NewPrompt(name, system, user)
	if err != nil {
		panic(err)
	}
	return p
}

// Render executes both templates with data.
func (p *Prompt) Render(data any) (system, user string, err error) {
	var sb, ub strings.Builder
	if err := p.system.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	if err := p.user.Execute(&ub, data); err != nil {
		return "", "", fmt.Errorf("failed to render user prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(ub.String()), nil
}

// Default prompts. Each is rendered with the data type of its collaborator.
var (
	DefaultGeneratePrompt = MustPrompt("generate",
		`You are a Senior Software Engineer. Write ONLY {{.Language}} code - no bash commands, no installation instructions, just the {{.Language}} implementation.`,
		`{{.Task.Description}}
{{- if .Feedback}}

IMPORTANT: Previous attempt was rejected with this feedback:
{{.Feedback}}

Please address ALL these concerns.
{{- end}}`)

	DefaultRefinePrompt = MustPrompt("refine",
		`Improve this code based on quality concerns. Focus on {{join .Focus ", "}}. Return the complete improved {{.Language}} code only.`,
		`Task:
{{.Task.Description}}

Code:
{{.Previous}}

Evaluation:
{{.Feedback}}`)

	DefaultCriteriaPrompt = MustPrompt("criteria",
		`Rate this code on {{len .Criteria}} separate criteria from {{.Min}}-{{.Max}}. Respond ONLY in this format: '{{.Format}}' where each value is a number {{.Min}}-{{.Max}}.`,
		`Code:
{{.Code}}`)

	DefaultStructuredPrompt = MustPrompt("structured",
		`You are a Senior QA Engineer. Review code for production readiness. Score each criterion ({{join .Criteria ", "}}) from {{.Min}} to {{.Max}} with concrete feedback. Set stop only when no further improvement is worthwhile.`,
		`Review this code:
{{.Code}}`)

	DefaultApprovalPrompt = MustPrompt("approval",
		`You are the Lead Technical Engineer on the project. Decide if this code is ready for production deployment.`,
		`Code:
{{.Code}}
{{- if .Review}}

Review:
{{.Review}}
{{- end}}`)

	DefaultSynthesisPrompt = MustPrompt("synthesis",
		`You are a Technical Lead. Synthesise analysis reports into actionable recommendations with priorities.`,
		`{{range .Reports}}{{.Name}} Analysis:
{{.Report}}

{{end}}Provide prioritised recommendations:`)

	DefaultHumanApprovalPrompt = MustPrompt("human_approval",
		`You are simulating a Human Approver for critical production changes. Make an approval decision based on the code review.`,
		`CRITICAL CHANGE REQUIRING HUMAN APPROVAL

Matched keywords: {{join .Matched ", "}}

Code:
{{.Code}}

Review:
{{.Review}}

Approve for production?`)
)
