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


// Package batch refines many independent tasks concurrently.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// Refiner runs one task. *refine.Controller implements it.
type Refiner interface {
	Run(ctx context.Context, task refine.Task) (*refine.RunResult, error)
}

// Config configures a Runner.
type Config struct {
	Refiner Refiner

	// Exporter receives every result, including partial ones.
	Exporter export.Exporter

	// Concurrency bounds runs executing at once. Default: 4
	Concurrency int

	// StopOnError cancels the remaining runs after the first run error.
	StopOnError bool

	Logger *slog.Logger
}

// Item is the outcome of one task.
type Item struct {
	Task   refine.Task
	Result *refine.RunResult
	// Err is the run error, typically a cancellation.
	Err error
	// ExportErr is the exporter error for this result.
	ExportErr error
}

// Runner refines a list of tasks.
type Runner struct {
	refiner     Refiner
	exporter    export.Exporter
	concurrency int
	stopOnError bool
	logger      *slog.Logger
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Refiner == nil {
		return nil, errors.New("refiner is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		refiner:     cfg.Refiner,
		exporter:    cfg.Exporter,
		concurrency: cfg.Concurrency,
		stopOnError: cfg.StopOnError,
		logger:      cfg.Logger,
	}, nil
}

// Run refines every task and returns one Item per task, in task order.
// Tasks without an ID get a fresh UUID. The returned error joins the run
// errors; failed runs that still produced a result (quality not reached,
// retries exhausted) are not errors.
func (r *Runner) Run(ctx context.Context, tasks []refine.Task) ([]Item, error) {
	items := make([]Item, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		items[i].Task = t
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.concurrency)
	if r.stopOnError {
		p = p.WithCancelOnError()
	}

	for i := range items {
		item := &items[i]
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				item.Err = err
				return err
			}

			item.Result, item.Err = r.refiner.Run(ctx, item.Task)
			if item.Result != nil && r.exporter != nil {
				// A canceled run still exports its partial history.
				item.ExportErr = r.exporter.Export(context.WithoutCancel(ctx), item.Result)
				if item.ExportErr != nil {
					r.logger.Warn("Failed to export run", "run_id", item.Result.RunID, "error", item.ExportErr)
				}
			}
			if item.Err != nil {
				return fmt.Errorf("task %s: %w", item.Task.ID, item.Err)
			}
			return nil
		})
	}

	err := p.Wait()

	succeeded := 0
	for _, it := range items {
		if it.Result != nil && it.Result.Succeeded() {
			succeeded++
		}
	}
	r.logger.Info("Batch finished", "tasks", len(items), "succeeded", succeeded)

	return items, err
}

// taskDoc accepts either a bare description or a full task.
type taskDoc struct {
	refine.Task
}

func (d *taskDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		d.Description = node.Value
		return nil
	}
	return node.Decode(&d.Task)
}

// LoadTasks reads a task list. YAML and JSON documents hold a list whose
// entries are descriptions or {id, description, metadata} objects; any
// other input is read as one description per non-blank line.
func LoadTasks(r io.Reader) ([]refine.Task, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}

	var docs []taskDoc
	if err := yaml.Unmarshal(data, &docs); err != nil || docs == nil {
		return parseLines(string(data))
	}

	tasks := make([]refine.Task, 0, len(docs))
	for i, d := range docs {
		if strings.TrimSpace(d.Description) == "" {
			return nil, fmt.Errorf("task %d: description is required", i)
		}
		tasks = append(tasks, d.Task)
	}
	return tasks, nil
}

func parseLines(s string) ([]refine.Task, error) {
	var tasks []refine.Task
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tasks = append(tasks, refine.Task{Description: line})
	}
	if len(tasks) == 0 {
		return nil, errors.New("no tasks found")
	}
	return tasks, nil
}
