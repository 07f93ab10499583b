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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/refinery/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	// Config falls back to the global --config flag.
	Config string `arg:"" optional:"" name:"config" help:"Configuration file path." placeholder:"PATH" type:"path"`

	Format string `short:"f" help:"Output format: compact, json." default:"compact" enum:"compact,json"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

type validationResult struct {
	Valid  bool     `json:"valid"`
	Path   string   `json:"path"`
	Errors []string `json:"errors,omitempty"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := c.Config
	if path == "" {
		path = cli.Config
	}
	if path == "" {
		return errors.New("a configuration file is required")
	}

	cfg, loader, err := config.LoadConfigFile(context.Background(), path)
	if err != nil {
		return c.printError(path, err)
	}
	defer loader.Close()

	if c.PrintConfig {
		return printExpandedConfig(cfg)
	}

	if c.Format == "json" {
		return json.NewEncoder(os.Stdout).Encode(validationResult{Valid: true, Path: path})
	}
	fmt.Printf("✓ %s is valid\n", path)
	return nil
}

func (c *ValidateCmd) printError(path string, err error) error {
	messages := splitJoined(err)
	if c.Format == "json" {
		_ = json.NewEncoder(os.Stdout).Encode(validationResult{Path: path, Errors: messages})
		return exitError(1)
	}
	fmt.Fprintf(os.Stderr, "✗ %s is invalid\n", path)
	for _, m := range messages {
		fmt.Fprintf(os.Stderr, "  - %s\n", m)
	}
	return exitError(1)
}

// splitJoined flattens errors.Join trees into their leaf messages.
func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, splitJoined(e)...)
		}
		return out
	}
	return []string{err.Error()}
}

// printExpandedConfig prints cfg as YAML with secrets masked.
func printExpandedConfig(cfg *config.Config) error {
	masked := *cfg
	masked.Models = make(map[string]*config.ModelConfig, len(cfg.Models))
	for name, m := range cfg.Models {
		mc := *m
		if mc.APIKey != "" {
			mc.APIKey = "****"
		}
		masked.Models[name] = &mc
	}
	if cfg.Store != nil && cfg.Store.Password != "" {
		db := *cfg.Store
		db.Password = "****"
		masked.Store = &db
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return err
	}
	return enc.Close()
}
