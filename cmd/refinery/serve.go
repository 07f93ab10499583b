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
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/runtime"
	"github.com/kadirpekel/refinery/pkg/server"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Address string `short:"a" help:"Address to listen on (default: server.address)."`
	Watch   bool   `help:"Reload the policy and collaborators when the config file changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The reload hook needs rt and srv, which need the loaded config first.
	var onChange func(*config.Config)
	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(func(next *config.Config) {
		if onChange != nil {
			onChange(next)
		}
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Address != "" {
		cfg.Server.Address = c.Address
	}

	// The server has no terminal to ask, so the terminal approver is withheld.
	rt, err := runtime.New(ctx, runtime.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	opts := []server.Option{
		server.WithStore(rt.Store()),
		server.WithExporter(rt.FileExporter()),
		server.WithObservability(rt.Observability()),
	}
	srv, err := server.New(rt.Controller(), cfg.Server, opts...)
	if err != nil {
		return err
	}

	onChange = func(next *config.Config) {
		controller, err := rt.Reload(ctx, next)
		if err != nil {
			slog.Error("Config reload rejected, keeping current configuration", "error", err)
			return
		}
		srv.UpdateRefiner(controller)
	}
	if c.Watch {
		if loader == nil {
			slog.Warn("--watch needs --config; not watching")
		} else {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
	}

	printServing(cfg)
	return srv.Start(ctx)
}

func printServing(cfg *config.Config) {
	fmt.Printf("\nrefinery server ready on %s\n", cfg.Server.Address)
	fmt.Printf("   Runs:        POST /v1/runs, POST /v1/runs:sync, GET /v1/runs\n")
	fmt.Printf("   Health:      GET /health\n")
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:     GET %s\n", cfg.Observability.Metrics.Endpoint)
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}
	if cfg.Store != nil {
		fmt.Printf("   Storage:     %s (%s)\n", cfg.Store.Driver, cfg.Store.Database)
	} else {
		fmt.Printf("   Storage:     in-memory (not persisted)\n")
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
