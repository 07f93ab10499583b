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

import "context"

// Observer receives run lifecycle callbacks. Implementations must be safe
// for concurrent use since one Controller may serve many runs.
type Observer interface {
	// RunStarted may return a derived context (e.g. carrying a span).
	RunStarted(ctx context.Context, runID string, task Task) context.Context

	// StepStarted is called before each collaborator call. The returned
	// function is called with the call's error once it returns.
	StepStarted(ctx context.Context, runID string, step Step, iteration int) (context.Context, func(error))

	IterationEvaluated(ctx context.Context, runID string, rec IterationRecord)
	StepFailed(ctx context.Context, runID string, failure StepFailure)
	RunFinished(ctx context.Context, result *RunResult)
}

// NopObserver ignores every callback. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(ctx context.Context, _ string, _ Task) context.Context { return ctx }

func (NopObserver) StepStarted(ctx context.Context, _ string, _ Step, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NopObserver) IterationEvaluated(context.Context, string, IterationRecord) {}

func (NopObserver) StepFailed(context.Context, string, StepFailure) {}

func (NopObserver) RunFinished(context.Context, *RunResult) {}

// Observers fans callbacks out in order.
type Observers []Observer

func (o Observers) RunStarted(ctx context.Context, runID string, task Task) context.Context {
	for _, obs := range o {
		ctx = obs.RunStarted(ctx, runID, task)
	}
	return ctx
}

func (o Observers) StepStarted(ctx context.Context, runID string, step Step, iteration int) (context.Context, func(error)) {
	ends := make([]func(error), 0, len(o))
	for _, obs := range o {
		var end func(error)
		ctx, end = obs.StepStarted(ctx, runID, step, iteration)
		ends = append(ends, end)
	}
	return ctx, func(err error) {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i](err)
		}
	}
}

func (o Observers) IterationEvaluated(ctx context.Context, runID string, rec IterationRecord) {
	for _, obs := range o {
		obs.IterationEvaluated(ctx, runID, rec)
	}
}

func (o Observers) StepFailed(ctx context.Context, runID string, failure StepFailure) {
	for _, obs := range o {
		obs.StepFailed(ctx, runID, failure)
	}
}

func (o Observers) RunFinished(ctx context.Context, result *RunResult) {
	for _, obs := range o {
		obs.RunFinished(ctx, result)
	}
}
