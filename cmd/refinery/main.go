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


// Command refinery runs iterative generate, evaluate, refine loops.
//
// Usage:
//
//	refinery run "Write a function that merges two sorted lists"
//	refinery run --tasks-file tasks.yaml --config refinery.yaml
//	refinery serve --config refinery.yaml --watch
//	refinery runs list --config refinery.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/refinery/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Refine one task, or every task of a tasks file."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Runs     RunsCmd     `cmd:"" help:"Inspect stored runs."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, text, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("refinery version %s\n", version)
	return nil
}

// loadConfig loads --config, or builds a default configuration from the
// environment when no file is given. The logger is reconfigured from the
// config's logger section unless flags or env already chose.
func (cli *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, nil, fmt.Errorf("no --config given and the default configuration is invalid: %w", err)
		}
		slog.Debug("Using default configuration", "provider", cfg.Models[config.DefaultModelName].Provider)
		return cfg, nil, nil
	}

	cfg, loader, err := config.LoadConfigFile(ctx, cli.Config, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cli.applyConfigLogger(&cfg.Logger); err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	slog.Info("Loaded configuration", "path", cli.Config)
	return cfg, loader, nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("refinery"),
		kong.Description("Iterative refinement of generated code: generate, evaluate, refine."),
		kong.UsageOnError(),
	)

	if err := cli.initLogger(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLogFile()

	err := ctx.Run(&cli)
	var exit exitError
	if errors.As(err, &exit) {
		closeLogFile()
		os.Exit(int(exit))
	}
	ctx.FatalIfErrorf(err)
}

// exitError ends the process with a status code without printing.
type exitError int

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}
