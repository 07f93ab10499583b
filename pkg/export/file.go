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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/refinery/pkg/refine"
)

// Format names a report encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatAudit Format = "audit"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatYAML, FormatAudit:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (valid: json, yaml, audit)", s)
	}
}

// WriteReport encodes res to w as JSON or YAML.
func WriteReport(w io.Writer, format Format, res *refine.RunResult) error {
	return EncodeReport(w, format, NewReport(res))
}

// EncodeReport encodes report to w as JSON or YAML.
func EncodeReport(w io.Writer, format Format, report *Report) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q cannot be written as a report", format)
	}
}

// FileExporter writes one report file per run, named <run_id>.<format>.
type FileExporter struct {
	dir    string
	format Format
}

// NewJSONExporter writes JSON reports into dir.
func NewJSONExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir, format: FormatJSON}
}

// NewYAMLExporter writes YAML reports into dir.
func NewYAMLExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir, format: FormatYAML}
}

// Path returns the file a run is written to.
func (e *FileExporter) Path(runID string) string {
	return filepath.Join(e.dir, FileName(runID)+"."+string(e.format))
}

func (e *FileExporter) Export(_ context.Context, res *refine.RunResult) (err error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	f, err := os.Create(e.Path(res.RunID))
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err := WriteReport(f, e.format, res); err != nil {
		return fmt.Errorf("failed to write %s report: %w", e.format, err)
	}
	return nil
}
