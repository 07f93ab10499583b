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
	"os"
	"text/tabwriter"
	"time"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/store"
)

// RunsCmd inspects runs kept in the configured store.
type RunsCmd struct {
	List RunsListCmd `cmd:"" default:"withargs" help:"List stored runs, newest first."`
	Show RunsShowCmd `cmd:"" help:"Show one stored run."`
}

type RunsListCmd struct {
	Reason string `help:"Only runs that ended for this reason."`
	Limit  int    `short:"n" help:"Maximum runs to list." default:"20"`
	Offset int    `help:"Runs to skip."`
}

type RunsShowCmd struct {
	ID     string `arg:"" help:"Run ID."`
	Output string `short:"o" help:"Output format: json, yaml." default:"yaml" enum:"json,yaml"`
}

// openRunStore opens the store section of the config.
func openRunStore(ctx context.Context, cli *CLI) (*store.SQLStore, error) {
	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if loader != nil {
		_ = loader.Close()
	}
	if cfg.Store == nil {
		return nil, errors.New("no store configured (add a store section to the config)")
	}
	return store.Open(ctx, cfg.Store)
}

func (c *RunsListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	opts := store.ListOptions{Limit: c.Limit, Offset: c.Offset}
	if c.Reason != "" {
		reason, err := refine.ParseReason(c.Reason)
		if err != nil {
			return err
		}
		opts.Reason = reason
	}

	st, err := openRunStore(ctx, cli)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.List(ctx, opts)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tREASON\tSCORE\tITERATIONS\tRETRIES\tSTARTED")
	for _, r := range runs {
		score := "-"
		if r.FinalScore != nil {
			score = fmt.Sprintf("%d", *r.FinalScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.RunID, r.Reason, score, r.IterationCount, r.Retries, r.StartedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func (c *RunsShowCmd) Run(cli *CLI) error {
	ctx := context.Background()
	st, err := openRunStore(ctx, cli)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := st.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	return export.EncodeReport(os.Stdout, export.Format(c.Output), report)
}
