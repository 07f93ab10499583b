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

// Package fanout runs several evaluators over one artifact concurrently and
// joins their results into a single evaluation.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/refinery/pkg/refine"
)

// Member is one evaluator of a panel.
type Member struct {
	// Name identifies the member in failures and summaries.
	Name string

	Evaluator refine.Evaluator

	// Criteria are used for the neutral fallback when the member's
	// parse error does not name them.
	Criteria []string
}

// MemberResult is the outcome of one member.
type MemberResult struct {
	Member     string
	Evaluation refine.Evaluation
	Err        error
	Duration   time.Duration
}

// Synthesizer reads every member result and writes a combined summary.
type Synthesizer interface {
	Synthesize(ctx context.Context, artifact refine.Artifact, results []MemberResult) (string, error)
}

// Config defines a Panel.
type Config struct {
	// Name is reported as the evaluator name in failures.
	Name string

	Members []Member

	// RequireAll fails the panel when any member fails. By default the panel
	// proceeds with partial results and fails only when every member failed.
	RequireAll bool

	// MaxConcurrency limits concurrent members. Zero runs all at once.
	MaxConcurrency int

	// MemberTimeout bounds each member call. Zero disables the timeout.
	MemberTimeout time.Duration

	// NeutralScore is applied to members whose output could not be parsed.
	NeutralScore int

	// Synthesizer is optional.
	Synthesizer Synthesizer

	Logger *slog.Logger
}

// Panel is a refine.Evaluator that fans out to its members.
type Panel struct {
	cfg Config
}

// New validates cfg and returns a Panel.
func New(cfg Config) (*Panel, error) {
	if len(cfg.Members) == 0 {
		return nil, errors.New("panel needs at least one member")
	}
	seen := make(map[string]bool, len(cfg.Members))
	for i, m := range cfg.Members {
		if m.Evaluator == nil {
			return nil, fmt.Errorf("member %d (%q) has no evaluator", i, m.Name)
		}
		if m.Name == "" {
			return nil, fmt.Errorf("member %d has no name", i)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate member %q", m.Name)
		}
		seen[m.Name] = true
	}
	if cfg.Name == "" {
		cfg.Name = "panel"
	}
	if cfg.NeutralScore == 0 {
		cfg.NeutralScore = refine.DefaultNeutralScore
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Panel{cfg: cfg}, nil
}

// Members returns the member names in configuration order.
func (p *Panel) Members() []string {
	names := make([]string, len(p.cfg.Members))
	for i, m := range p.cfg.Members {
		names[i] = m.Name
	}
	return names
}

// Evaluate runs every member over the artifact and merges the results.
func (p *Panel) Evaluate(ctx context.Context, artifact refine.Artifact) (refine.Evaluation, error) {
	results, err := p.Collect(ctx, artifact)
	if err != nil {
		return refine.Evaluation{}, err
	}
	return p.merge(ctx, artifact, results)
}

// Collect runs the members and returns their raw results in member order.
// It only fails when the context ends or when RequireAll is set and a
// member failed.
func (p *Panel) Collect(ctx context.Context, artifact refine.Artifact) ([]MemberResult, error) {
	results := make([]MemberResult, len(p.cfg.Members))

	var g *errgroup.Group
	gctx := ctx
	if p.cfg.RequireAll {
		// first failure cancels the remaining members
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g = new(errgroup.Group)
	}
	if p.cfg.MaxConcurrency > 0 {
		g.SetLimit(p.cfg.MaxConcurrency)
	}

	for i, m := range p.cfg.Members {
		g.Go(func() error {
			results[i] = p.call(gctx, m, artifact)
			if p.cfg.RequireAll && results[i].Err != nil {
				return fmt.Errorf("member %q: %w", m.Name, results[i].Err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, &refine.EvaluationError{Evaluator: p.cfg.Name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Panel) call(ctx context.Context, m Member, artifact refine.Artifact) MemberResult {
	if p.cfg.MemberTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.MemberTimeout)
		defer cancel()
	}

	start := time.Now()
	eval, err := m.Evaluator.Evaluate(ctx, artifact)
	res := MemberResult{Member: m.Name, Evaluation: eval, Duration: time.Since(start)}

	var pe *refine.ParseError
	switch {
	case err == nil && len(eval.Scores) == 0:
		res.Evaluation = p.neutral(m, nil)
	case errors.As(err, &pe):
		p.cfg.Logger.Warn("Panel member output unparsable, using neutral score",
			"panel", p.cfg.Name, "member", m.Name, "error", err)
		res.Evaluation = p.neutral(m, pe.Criteria)
	case err != nil:
		p.cfg.Logger.Warn("Panel member failed", "panel", p.cfg.Name, "member", m.Name, "error", err)
		res.Err = err
	}
	return res
}

func (p *Panel) neutral(m Member, criteria []string) refine.Evaluation {
	if len(criteria) == 0 {
		criteria = m.Criteria
	}
	if len(criteria) == 0 {
		criteria = []string{m.Name}
	}
	return refine.NeutralEvaluation(p.cfg.NeutralScore, criteria)
}

// merge joins member results. Stop is set only when every contributing
// member signaled stop.
func (p *Panel) merge(ctx context.Context, artifact refine.Artifact, results []MemberResult) (refine.Evaluation, error) {
	var (
		merged    refine.Evaluation
		errs      []error
		summaries []string
		ok        int
		stops     int
	)

	for _, r := range results {
		if r.Err != nil {
			merged.Failed = append(merged.Failed, refine.MemberFailure{Member: r.Member, Error: r.Err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", r.Member, r.Err))
			continue
		}
		ok++
		if r.Evaluation.Stop {
			stops++
		}
		if r.Evaluation.Fallback {
			merged.Fallback = true
		}
		for _, s := range r.Evaluation.Scores {
			if s.Criterion == "" {
				s.Criterion = r.Member
			}
			merged.Scores = append(merged.Scores, s)
		}
		if r.Evaluation.Summary != "" {
			summaries = append(summaries, fmt.Sprintf("[%s] %s", r.Member, r.Evaluation.Summary))
		}
	}

	if ok == 0 {
		return refine.Evaluation{}, &refine.EvaluationError{Evaluator: p.cfg.Name, Err: errors.Join(errs...)}
	}
	merged.Stop = stops == ok
	merged.Summary = strings.Join(summaries, "\n")

	if p.cfg.Synthesizer != nil {
		summary, err := p.cfg.Synthesizer.Synthesize(ctx, artifact, results)
		if err != nil {
			p.cfg.Logger.Warn("Panel synthesis failed, keeping member summaries", "panel", p.cfg.Name, "error", err)
		} else {
			merged.Summary = summary
		}
	}

	if merged.Partial() {
		p.cfg.Logger.Info("Panel evaluation is partial", "panel", p.cfg.Name,
			"contributed", ok, "failed", len(merged.Failed))
	}
	return merged, nil
}
