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


package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kadirpekel/refinery/pkg/batch"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/runtime"
)

// RunCmd refines tasks from the command line or a tasks file.
type RunCmd struct {
	Task      string `arg:"" optional:"" help:"Task description."`
	TasksFile string `name:"tasks-file" short:"f" help:"File listing tasks (YAML/JSON list, or one task per line)." type:"existingfile"`
	ID        string `help:"Run ID for a single task (default: generated)."`

	Concurrency int  `help:"Tasks refined at once (default: batch.concurrency)."`
	StopOnError bool `name:"stop-on-error" help:"Cancel remaining tasks after the first run error."`

	Output   string `short:"o" help:"Output format: text, json, yaml." default:"text" enum:"text,json,yaml"`
	NoExport bool   `name:"no-export" help:"Do not export results."`
}

func (c *RunCmd) tasks() ([]refine.Task, error) {
	switch {
	case c.Task != "" && c.TasksFile != "":
		return nil, errors.New("give either a task or --tasks-file, not both")
	case c.TasksFile != "":
		f, err := os.Open(c.TasksFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return batch.LoadTasks(f)
	case strings.TrimSpace(c.Task) != "":
		return []refine.Task{{ID: c.ID, Description: strings.TrimSpace(c.Task)}}, nil
	default:
		return nil, errors.New("a task description or --tasks-file is required")
	}
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tasks, err := c.tasks()
	if err != nil {
		return err
	}

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	rt, err := runtime.New(ctx, runtime.Options{Config: cfg, Approver: newTerminalApprover()})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	bc := batch.Config{
		Refiner:     rt.Controller(),
		Concurrency: cfg.Batch.Concurrency,
		StopOnError: cfg.Batch.StopOnError || c.StopOnError,
	}
	if c.Concurrency > 0 {
		bc.Concurrency = c.Concurrency
	}
	if !c.NoExport {
		bc.Exporter = rt.Exporter()
	}
	runner, err := batch.New(bc)
	if err != nil {
		return err
	}

	items, runErr := runner.Run(ctx, tasks)
	if err := c.print(os.Stdout, items, len(tasks) == 1); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	for _, it := range items {
		if it.Result == nil || !it.Result.Succeeded() {
			return exitError(1)
		}
	}
	return nil
}

func (c *RunCmd) print(w io.Writer, items []batch.Item, single bool) error {
	for _, it := range items {
		if it.Result == nil {
			fmt.Fprintf(w, "%s: %v\n", it.Task.ID, it.Err)
			continue
		}
		switch c.Output {
		case "json", "yaml":
			if err := export.WriteReport(w, export.Format(c.Output), it.Result); err != nil {
				return err
			}
		default:
			printSummary(w, it.Result, single)
		}
	}
	return nil
}

func printSummary(w io.Writer, res *refine.RunResult, withCode bool) {
	mark := "✓"
	if !res.Succeeded() {
		mark = "✗"
	}
	score := "-"
	if s, ok := res.FinalScore(); ok {
		score = fmt.Sprintf("%d/%d", s, refine.MaxScore)
	}
	fmt.Fprintf(w, "%s %s  %s  score=%s  iterations=%d  retries=%d  %s\n",
		mark, res.RunID, res.Reason.Description(), score, res.IterationCount, res.Retries, res.Duration().Round(time.Millisecond))
	if res.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
	if withCode && res.Final != nil {
		fmt.Fprintf(w, "\n%s\n", res.Final.Content)
	}
}
