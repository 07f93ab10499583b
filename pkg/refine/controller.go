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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Generator produces an artifact for a task. feedback is nil on iteration 0
// and otherwise holds the evaluation of the previous artifact, which the
// generator must incorporate.
type Generator interface {
	Generate(ctx context.Context, task Task, feedback *Evaluation) (Artifact, error)
}

// Evaluator scores an artifact. It returns a *ParseError when the scorer
// responded but its output could not be mapped to scores.
type Evaluator interface {
	Evaluate(ctx context.Context, artifact Artifact) (Evaluation, error)
}

// Refiner is an optional upgrade for generators that revise the previous
// artifact instead of regenerating from the task alone. When the Generator
// also implements Refiner, iterations after the first call Refine.
type Refiner interface {
	Refine(ctx context.Context, task Task, previous Artifact, feedback Evaluation) (Artifact, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, task Task, feedback *Evaluation) (Artifact, error)

func (f GeneratorFunc) Generate(ctx context.Context, task Task, feedback *Evaluation) (Artifact, error) {
	return f(ctx, task, feedback)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, artifact Artifact) (Evaluation, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, artifact Artifact) (Evaluation, error) {
	return f(ctx, artifact)
}

// Controller drives generate, evaluate, decide loops. It holds no per-run
// state and is safe for concurrent Run calls.
type Controller struct {
	generator Generator
	evaluator Evaluator
	policy    Policy
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o == nil {
			return
		}
		if list, ok := c.observer.(Observers); ok {
			c.observer = append(list, o)
			return
		}
		c.observer = Observers{o}
	}
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides how run IDs are assigned to tasks without an ID.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New validates the policy and returns a Controller. An invalid policy
// returns a *PolicyViolation.
func New(gen Generator, eval Evaluator, policy Policy, opts ...Option) (*Controller, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if eval == nil {
		return nil, errors.New("evaluator is required")
	}

	policy.SetDefaults()
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		generator: gen,
		evaluator: eval,
		policy:    policy,
		observer:  NopObserver{},
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy returns the validated policy in effect.
func (c *Controller) Policy() Policy {
	return c.policy
}

// Run refines one task until the policy terminates it.
//
// Expected failures (collaborator errors, exhausted retries, an open circuit
// breaker) are reported through RunResult.Reason and never returned as an
// error. The only error is ctx.Err() when the run was canceled; the partial
// result is returned alongside it.
func (c *Controller) Run(ctx context.Context, task Task) (*RunResult, error) {
	if task.Description == "" {
		return nil, errors.New("task description is required")
	}

	runID := task.ID
	if runID == "" {
		runID = c.newID()
	}

	r := &run{
		c:  c,
		id: runID,
		result: &RunResult{
			RunID:      runID,
			Task:       task,
			FinalIndex: -1,
			StartedAt:  c.now(),
		},
	}

	ctx = c.observer.RunStarted(ctx, runID, task)
	c.logger.Debug("Refinement run started", "run_id", runID,
		"threshold", c.policy.QualityThreshold, "max_iterations", c.policy.MaxIterations)

	r.loop(ctx)
	return r.finish(ctx)
}

// run carries the mutable state of one Run call.
type run struct {
	c           *Controller
	id          string
	result      *RunResult
	ordinal     int
	failures    int
	consecutive int
}

func (r *run) loop(ctx context.Context) {
	var feedback *Evaluation
	for i := 0; ; i++ {
		artifact, ok := r.generate(ctx, i, feedback)
		if !ok {
			return
		}
		if i > 0 {
			r.result.IterationCount++
		}
		r.result.History = append(r.result.History, IterationRecord{
			Index:     i,
			Ordinal:   r.next(),
			Artifact:  artifact,
			StartedAt: r.c.now(),
		})

		eval, ok := r.evaluate(ctx, i, artifact)
		if !ok {
			return
		}
		rec := &r.result.History[i]
		rec.Evaluation = &eval
		rec.FinishedAt = r.c.now()
		r.c.observer.IterationEvaluated(ctx, r.id, *rec)
		r.c.logger.Debug("Iteration evaluated", "run_id", r.id, "iteration", i,
			"aggregate", eval.Aggregate(), "fallback", eval.Fallback, "stop", eval.Stop)

		if d := r.c.policy.decide(i, eval); d.finalize {
			r.result.Reason = d.reason
			return
		}
		fb := eval
		feedback = &fb
	}
}

// generate calls the generator until it succeeds or the run must stop.
func (r *run) generate(ctx context.Context, i int, feedback *Evaluation) (Artifact, bool) {
	for {
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			return Artifact{}, false
		}

		stepCtx, end := r.c.observer.StepStarted(ctx, r.id, StepGenerate, i)
		artifact, err := r.produce(stepCtx, i, feedback)
		end(err)

		if err == nil {
			r.consecutive = 0
			artifact.Iteration = i
			return artifact, true
		}
		if ctx.Err() != nil {
			r.cancel(ctx.Err())
			return Artifact{}, false
		}

		var ge *GenerationError
		if !errors.As(err, &ge) {
			err = NewGenerationError(i, err)
		}
		if !r.fail(ctx, i, StepGenerate, err) {
			return Artifact{}, false
		}
	}
}

func (r *run) produce(ctx context.Context, i int, feedback *Evaluation) (Artifact, error) {
	if rf, ok := r.c.generator.(Refiner); ok && feedback != nil && i > 0 {
		return rf.Refine(ctx, r.result.Task, r.result.History[i-1].Artifact, *feedback)
	}
	return r.c.generator.Generate(ctx, r.result.Task, feedback)
}

// evaluate calls the evaluator until it succeeds or the run must stop.
// Parse failures are absorbed with a neutral evaluation.
func (r *run) evaluate(ctx context.Context, i int, artifact Artifact) (Evaluation, bool) {
	for {
		if err := ctx.Err(); err != nil {
			r.cancel(err)
			return Evaluation{}, false
		}

		stepCtx, end := r.c.observer.StepStarted(ctx, r.id, StepEvaluate, i)
		eval, err := r.c.evaluator.Evaluate(stepCtx, artifact)
		end(err)

		if err == nil && len(eval.Scores) == 0 {
			err = &ParseError{Err: errors.New("evaluation has no scores")}
		}

		var pe *ParseError
		switch {
		case err == nil:
			r.consecutive = 0
			return eval, true
		case errors.As(err, &pe):
			r.consecutive = 0
			r.c.logger.Warn("Evaluator output unparsable, using neutral score",
				"run_id", r.id, "iteration", i, "neutral", r.c.policy.NeutralScore, "error", err)
			return NeutralEvaluation(r.c.policy.NeutralScore, pe.Criteria), true
		case ctx.Err() != nil:
			r.cancel(ctx.Err())
			return Evaluation{}, false
		}

		var ee *EvaluationError
		if !errors.As(err, &ee) {
			err = &EvaluationError{Err: err}
		}
		if !r.fail(ctx, i, StepEvaluate, err) {
			return Evaluation{}, false
		}
	}
}

// fail records a failed call and reports whether the step may be retried.
// The breaker is checked before the retry budget.
func (r *run) fail(ctx context.Context, i int, step Step, err error) bool {
	r.failures++
	r.consecutive++

	failure := StepFailure{
		Iteration: i,
		Step:      step,
		Attempt:   r.failures,
		Error:     err.Error(),
		At:        r.c.now(),
	}
	r.result.Failures = append(r.result.Failures, failure)
	r.c.observer.StepFailed(ctx, r.id, failure)

	switch {
	case r.consecutive >= r.c.policy.BreakerThreshold:
		r.result.Reason = ReasonNeedsManualIntervention
		r.result.Err = fmt.Errorf("%w after %d consecutive failures: %w", ErrCircuitOpen, r.consecutive, err)
		r.c.logger.Error("Circuit breaker open, manual intervention needed",
			"run_id", r.id, "step", step, "iteration", i, "consecutive_failures", r.consecutive, "error", err)
		return false
	case r.failures >= r.c.policy.MaxRetries:
		r.result.Reason = ReasonFailed
		r.result.Err = fmt.Errorf("%w after %d failures: %w", ErrRetriesExceeded, r.failures, err)
		r.c.logger.Error("Refinement run failed", "run_id", r.id, "step", step,
			"iteration", i, "failures", r.failures, "error", err)
		return false
	}

	r.result.Retries++
	r.c.logger.Warn("Collaborator call failed, retrying", "run_id", r.id, "step", step,
		"iteration", i, "attempt", r.failures, "error", err)
	return true
}

func (r *run) cancel(err error) {
	r.result.Reason = ReasonCanceled
	r.result.Err = err
}

func (r *run) next() int {
	r.ordinal++
	return r.ordinal
}

func (r *run) finish(ctx context.Context) (*RunResult, error) {
	res := r.result
	res.FinishedAt = r.c.now()

	if idx := r.c.policy.selectFinal(res.History); idx >= 0 {
		final := res.History[idx].Artifact
		res.Final = &final
		res.FinalIndex = idx
	}

	score, _ := res.FinalScore()
	r.c.logger.Info("Refinement run finished", "run_id", r.id, "reason", res.Reason,
		"iterations", res.IterationCount, "final_score", score, "retries", res.Retries)

	// The run's own context may be canceled; observers still need to flush.
	r.c.observer.RunFinished(context.WithoutCancel(ctx), res)

	if res.Reason == ReasonCanceled {
		return res, res.Err
	}
	return res, nil
}
