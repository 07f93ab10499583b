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


package export

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/refinery/pkg/refine"
)

// Exporter consumes a completed run.
type Exporter interface {
	Export(ctx context.Context, res *refine.RunResult) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, res *refine.RunResult) error

func (f ExporterFunc) Export(ctx context.Context, res *refine.RunResult) error {
	return f(ctx, res)
}

// Exporters hands a run to every exporter and joins their errors.
type Exporters []Exporter

func (m Exporters) Export(ctx context.Context, res *refine.RunResult) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Report is the document form of a RunResult.
type Report struct {
	RunID             string               `json:"run_id" yaml:"run_id"`
	Task              refine.Task          `json:"task" yaml:"task"`
	Reason            refine.Reason        `json:"reason" yaml:"reason"`
	ReasonDescription string               `json:"reason_description" yaml:"reason_description"`
	Succeeded         bool                 `json:"succeeded" yaml:"succeeded"`
	FinalIndex        int                  `json:"final_index" yaml:"final_index"`
	FinalScore        *int                 `json:"final_score,omitempty" yaml:"final_score,omitempty"`
	Final             string               `json:"final,omitempty" yaml:"final,omitempty"`
	IterationCount    int                  `json:"iteration_count" yaml:"iteration_count"`
	Retries           int                  `json:"retries" yaml:"retries"`
	Iterations        []ReportIteration    `json:"iterations" yaml:"iterations"`
	Failures          []refine.StepFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Error             string               `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt         time.Time            `json:"started_at" yaml:"started_at"`
	FinishedAt        time.Time            `json:"finished_at" yaml:"finished_at"`
	DurationMillis    int64                `json:"duration_ms" yaml:"duration_ms"`
}

// ReportIteration is one history record of a Report.
type ReportIteration struct {
	Index     int            `json:"index" yaml:"index"`
	Aggregate *int           `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	Fallback  bool           `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Stop      bool           `json:"stop,omitempty" yaml:"stop,omitempty"`
	Scores    []refine.Score `json:"scores,omitempty" yaml:"scores,omitempty"`
	Summary   string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Content   string         `json:"content" yaml:"content"`
	Usage     *refine.Usage  `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// NewReport builds the document form of res.
func NewReport(res *refine.RunResult) *Report {
	r := &Report{
		RunID:             res.RunID,
		Task:              res.Task,
		Reason:            res.Reason,
		ReasonDescription: res.Reason.Description(),
		Succeeded:         res.Succeeded(),
		FinalIndex:        res.FinalIndex,
		IterationCount:    res.IterationCount,
		Retries:           res.Retries,
		Failures:          res.Failures,
		StartedAt:         res.StartedAt,
		FinishedAt:        res.FinishedAt,
		DurationMillis:    res.Duration().Milliseconds(),
		Iterations:        make([]ReportIteration, 0, len(res.History)),
	}
	if res.Final != nil {
		r.Final = res.Final.Content
	}
	if score, ok := res.FinalScore(); ok {
		r.FinalScore = &score
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}

	for _, rec := range res.History {
		it := ReportIteration{
			Index:   rec.Index,
			Content: rec.Artifact.Content,
			Usage:   rec.Artifact.Usage,
		}
		if rec.Evaluation != nil {
			agg := rec.Evaluation.Aggregate()
			it.Aggregate = &agg
			it.Fallback = rec.Evaluation.Fallback
			it.Stop = rec.Evaluation.Stop
			it.Scores = rec.Evaluation.Scores
			it.Summary = rec.Evaluation.Summary
		}
		r.Iterations = append(r.Iterations, it)
	}
	return r
}
