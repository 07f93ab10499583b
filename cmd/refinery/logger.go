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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "simple"
)

// logCleanup closes the log file opened by the last installLogger.
var logCleanup func()

func closeLogFile() {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
}

// logSettings resolves each setting as CLI flag > env var > fallback.
func (cli *CLI) logSettings(fallback config.LoggerConfig) (level, file, format string) {
	pick := func(flag, env, def string) string {
		if flag != "" {
			return flag
		}
		if v := os.Getenv(env); v != "" {
			return v
		}
		return def
	}
	return pick(cli.LogLevel, LogLevelEnvVar, fallback.Level),
		pick(cli.LogFile, LogFileEnvVar, fallback.File),
		pick(cli.LogFormat, LogFormatEnvVar, fallback.Format)
}

// initLogger installs the logger from flags and env before config loading.
func (cli *CLI) initLogger() error {
	return cli.installLogger(cli.logSettings(config.LoggerConfig{Level: DefaultLogLevel, Format: DefaultLogFormat}))
}

// applyConfigLogger reinstalls the logger with the config's logger section
// as the fallback for settings flags and env left open.
func (cli *CLI) applyConfigLogger(cfg *config.LoggerConfig) error {
	level, file, format := cli.logSettings(*cfg)
	return cli.installLogger(level, file, format)
}

func (cli *CLI) installLogger(levelStr, file, format string) error {
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer = os.Stderr
	var cleanup func()
	if file != "" {
		f, cleanupFn, err := logger.OpenLogFile(file)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		cleanup = cleanupFn
	}

	logger.Init(level, output, format)

	closeLogFile()
	logCleanup = cleanup
	return nil
}
