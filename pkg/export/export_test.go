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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/refinery/pkg/refine"
)

func sampleResult() *refine.RunResult {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	eval := func(v int, fb string) *refine.Evaluation {
		return &refine.Evaluation{Scores: []refine.Score{
			{Criterion: "Security", Value: v, Feedback: fb},
			{Criterion: "Readability", Value: 9},
		}}
	}
	final := refine.Artifact{Content: "```python\ndef add(a, b):\n    return a + b\n```", Iteration: 1}
	return &refine.RunResult{
		RunID: "run-1234567890",
		Task:  refine.Task{Description: "Add two numbers"},
		History: []refine.IterationRecord{
			{Index: 0, Artifact: refine.Artifact{Content: "def add(a,b): return a+b"}, Evaluation: eval(6, "validate input")},
			{Index: 1, Artifact: final, Evaluation: eval(9, "")},
		},
		Final:          &final,
		FinalIndex:     1,
		Reason:         refine.ReasonQualityThresholdMet,
		IterationCount: 1,
		StartedAt:      start,
		FinishedAt:     start.Add(1500 * time.Millisecond),
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"python fence", "Here:\n```python\nprint(1)\n```\nDone", "print(1)"},
		{"bare fence", "```\nx = 1\n```", "x = 1"},
		{"first block wins", "```go\na\n```\n```go\nb\n```", "a"},
		{"no fence", "  plain text\n", "plain text"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.in))
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "write_a_function_that_adds_two_numbers", Sanitize("Write a function that adds two numbers!", 0))
	assert.Equal(t, "hello_world", Sanitize("  Hello -- World?? ", 0))
	assert.Equal(t, "abc", Sanitize("abc def", 4))
	assert.Equal(t, "run", Sanitize("!!!", 0))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "3f2a-11ef", FileName("3f2a-11ef"))
	assert.Equal(t, "etc_passwd", FileName("../etc/passwd"))
	assert.Equal(t, "run", FileName("/"))
}

func TestNewReport(t *testing.T) {
	r := NewReport(sampleResult())

	assert.Equal(t, "run-1234567890", r.RunID)
	assert.True(t, r.Succeeded)
	require.NotNil(t, r.FinalScore)
	assert.Equal(t, 9, *r.FinalScore)
	assert.Equal(t, int64(1500), r.DurationMillis)
	require.Len(t, r.Iterations, 2)
	assert.Equal(t, 6, *r.Iterations[0].Aggregate)
	assert.Equal(t, "Quality threshold met", r.ReasonDescription)
}

func TestNewReport_FailedRun(t *testing.T) {
	r := NewReport(&refine.RunResult{
		RunID:      "r",
		Reason:     refine.ReasonNeedsManualIntervention,
		FinalIndex: -1,
		Err:        errors.New("upstream down"),
	})
	assert.False(t, r.Succeeded)
	assert.Nil(t, r.FinalScore)
	assert.Empty(t, r.Final)
	assert.Equal(t, "upstream down", r.Error)
	assert.Empty(t, r.Iterations)
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, FormatJSON, sampleResult()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "quality_threshold_met", decoded["reason"])

	buf.Reset()
	require.NoError(t, WriteReport(&buf, FormatYAML, sampleResult()))
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	assert.Equal(t, 1, y["iteration_count"])

	assert.Error(t, WriteReport(&buf, FormatAudit, sampleResult()))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestFileExporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	exp := Exporters{NewJSONExporter(dir), NewYAMLExporter(dir)}

	require.NoError(t, exp.Export(context.Background(), sampleResult()))

	for _, name := range []string{"run-1234567890.json", "run-1234567890.yaml"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestExporters_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var called int
	exp := Exporters{
		ExporterFunc(func(context.Context, *refine.RunResult) error { called++; return boom }),
		ExporterFunc(func(context.Context, *refine.RunResult) error { called++; return nil }),
	}
	err := exp.Export(context.Background(), sampleResult())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, called)
}

func TestAuditWriter(t *testing.T) {
	w := &AuditWriter{
		Dir: t.TempDir(),
		Now: func() time.Time { return time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC) },
	}

	folder, err := w.Write(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, "evaluator_optimiser_20250301_123000_run_1234", filepath.Base(folder))

	final, err := os.ReadFile(filepath.Join(folder, "final_code.py"))
	require.NoError(t, err)
	assert.Equal(t, "def add(a, b):\n    return a + b\n", string(final))

	for _, name := range []string{"initial_code.py", "iteration_1.py", "AUDIT_TRAIL.md"} {
		_, err := os.Stat(filepath.Join(folder, name))
		assert.NoError(t, err, name)
	}

	trail, err := os.ReadFile(filepath.Join(folder, "AUDIT_TRAIL.md"))
	require.NoError(t, err)
	s := string(trail)
	assert.Contains(t, s, "**Task:** Add two numbers")
	assert.Contains(t, s, "**Final Score:** 9/10")
	assert.Contains(t, s, "**Completion Reason:** Quality threshold met")
	assert.Contains(t, s, "### Initial Code (Score: 6/10)")
	assert.Contains(t, s, "- Security: 6/10 - validate input")
	assert.Contains(t, s, "### Iteration 1 (Score: 9/10)")
	assert.Contains(t, s, "`final_code.py` - Iteratively optimised implementation")
}

func TestAuditWriter_NoArtifact(t *testing.T) {
	w := &AuditWriter{Dir: t.TempDir()}
	folder, err := w.Write(&refine.RunResult{
		Task:       refine.Task{Description: "x"},
		Reason:     refine.ReasonFailed,
		FinalIndex: -1,
		Failures:   []refine.StepFailure{{Iteration: 0, Step: refine.StepGenerate, Attempt: 1, Error: "timeout"}},
	})
	require.NoError(t, err)

	trail, err := os.ReadFile(filepath.Join(folder, "AUDIT_TRAIL.md"))
	require.NoError(t, err)
	assert.Contains(t, string(trail), "No artifact was produced.")
	assert.Contains(t, string(trail), "**Final Score:** N/A")
	assert.Contains(t, string(trail), "- iteration 0 generate attempt 1: timeout")
}
