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


// Package store persists finished refinement runs.
//
// Runs are stored as export.Report documents keyed by run ID, with the
// fields used for listing kept in their own columns.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// ErrNotFound is returned when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// Store persists finished runs.
type Store interface {
	// Save inserts the run or replaces the one with the same ID.
	Save(ctx context.Context, res *refine.RunResult) error
	Get(ctx context.Context, runID string) (*export.Report, error)
	// List returns runs newest first.
	List(ctx context.Context, opts ListOptions) ([]Summary, error)
	Close() error
}

// ListOptions filters and pages List.
type ListOptions struct {
	// Reason keeps only runs that ended for this reason.
	Reason refine.Reason
	// Limit caps the page size. Zero means DefaultListLimit.
	Limit  int
	Offset int
}

// DefaultListLimit is the page size used when ListOptions.Limit is zero.
const DefaultListLimit = 50

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Summary is the listing form of a stored run.
type Summary struct {
	RunID          string        `json:"run_id"`
	TaskID         string        `json:"task_id,omitempty"`
	Reason         refine.Reason `json:"reason"`
	Succeeded      bool          `json:"succeeded"`
	FinalScore     *int          `json:"final_score,omitempty"`
	IterationCount int           `json:"iteration_count"`
	Retries        int           `json:"retries"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

func summarize(r *export.Report) Summary {
	return Summary{
		RunID:          r.RunID,
		TaskID:         r.Task.ID,
		Reason:         r.Reason,
		Succeeded:      r.Succeeded,
		FinalScore:     r.FinalScore,
		IterationCount: r.IterationCount,
		Retries:        r.Retries,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

// Exporter adapts a Store to export.Exporter.
func Exporter(s Store) export.Exporter {
	return export.ExporterFunc(s.Save)
}
