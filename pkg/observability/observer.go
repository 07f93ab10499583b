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


package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/refinery/pkg/refine"
)

// RunObserver turns run callbacks into spans and metrics. Both the tracer
// and the metrics may be nil.
type RunObserver struct {
	tracer  *Tracer
	metrics *Metrics
}

// NewRunObserver creates a RunObserver.
func NewRunObserver(tracer *Tracer, metrics *Metrics) *RunObserver {
	return &RunObserver{tracer: tracer, metrics: metrics}
}

var _ refine.Observer = (*RunObserver)(nil)

func (o *RunObserver) RunStarted(ctx context.Context, runID string, task refine.Task) context.Context {
	o.metrics.RunStarted(ctx)
	ctx, _ = o.tracer.StartRun(ctx, runID, task.ID, task.Description)
	return ctx
}

func (o *RunObserver) StepStarted(ctx context.Context, runID string, step refine.Step, iteration int) (context.Context, func(error)) {
	name := SpanGenerate
	if step == refine.StepEvaluate {
		name = SpanEvaluate
	}
	start := time.Now()
	ctx, span := o.tracer.StartStep(ctx, name, iteration)
	return ctx, func(err error) {
		o.metrics.RecordStep(ctx, string(step), time.Since(start), err)
		o.tracer.RecordError(span, err)
		span.End()
	}
}

func (o *RunObserver) IterationEvaluated(ctx context.Context, runID string, rec refine.IterationRecord) {
	if rec.Artifact.Usage != nil {
		o.metrics.RecordTokens(ctx, rec.Artifact.Usage.PromptTokens, rec.Artifact.Usage.CompletionTokens)
	}
	if rec.Evaluation == nil {
		return
	}
	aggregate := rec.Evaluation.Aggregate()
	o.metrics.RecordIteration(ctx, aggregate, rec.Evaluation.Fallback)

	span := trace.SpanFromContext(ctx)
	span.AddEvent("iteration.evaluated", trace.WithAttributes(
		attribute.Int(AttrIteration, rec.Index),
		attribute.Int(AttrAggregate, aggregate),
		attribute.Bool(AttrFallback, rec.Evaluation.Fallback),
		attribute.Bool(AttrStop, rec.Evaluation.Stop),
	))
	o.tracer.AddSummary(span, rec.Evaluation.Summary)
}

func (o *RunObserver) StepFailed(ctx context.Context, runID string, failure refine.StepFailure) {
	o.metrics.RecordStepFailure(ctx, string(failure.Step))
	trace.SpanFromContext(ctx).AddEvent("step.failed", trace.WithAttributes(
		attribute.Int(AttrIteration, failure.Iteration),
		attribute.String(AttrStep, string(failure.Step)),
		attribute.String(AttrErrorMessage, failure.Error),
	))
}

func (o *RunObserver) RunFinished(ctx context.Context, result *refine.RunResult) {
	o.metrics.RecordRun(ctx, string(result.Reason), result.Duration())

	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.String(AttrReason, string(result.Reason)),
		attribute.Int(AttrIterationCount, result.IterationCount),
		attribute.Int(AttrRetries, result.Retries),
	}
	if score, ok := result.FinalScore(); ok {
		attrs = append(attrs, attribute.Int(AttrFinalScore, score))
	}
	span.SetAttributes(attrs...)
	if result.Err != nil {
		o.tracer.RecordError(span, result.Err)
	} else if !result.Succeeded() {
		span.SetStatus(codes.Error, result.Reason.Description())
	}
	span.End()
}
