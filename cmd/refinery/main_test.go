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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/batch"
	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/refine"
)

func TestLogSettings_Priority(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	t.Setenv(LogFormatEnvVar, "")
	t.Setenv(LogFileEnvVar, "")

	cli := &CLI{LogFormat: "json"}
	level, file, format := cli.logSettings(config.LoggerConfig{Level: "debug", Format: "text", File: "x.log"})
	assert.Equal(t, "warn", level)
	assert.Equal(t, "x.log", file)
	assert.Equal(t, "json", format)

	cli.LogLevel = "error"
	level, _, _ = cli.logSettings(config.LoggerConfig{})
	assert.Equal(t, "error", level)
}

func TestRunCmd_Tasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nfirst task\nsecond task\n"), 0o600))

	tasks, err := (&RunCmd{TasksFile: path}).tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "second task", tasks[1].Description)

	tasks, err = (&RunCmd{Task: "  sort a list ", ID: "r1"}).tasks()
	require.NoError(t, err)
	assert.Equal(t, []refine.Task{{ID: "r1", Description: "sort a list"}}, tasks)

	_, err = (&RunCmd{}).tasks()
	assert.Error(t, err)
	_, err = (&RunCmd{Task: "x", TasksFile: path}).tasks()
	assert.Error(t, err)
}

func TestRunCmd_Print(t *testing.T) {
	final := refine.Artifact{Content: "def f(): pass"}
	now := time.Now()
	res := &refine.RunResult{
		RunID: "r1",
		History: []refine.IterationRecord{{
			Artifact:   final,
			Evaluation: &refine.Evaluation{Scores: []refine.Score{{Criterion: "Security", Value: 9}}},
		}},
		Final:          &final,
		FinalIndex:     0,
		Reason:         refine.ReasonQualityThresholdMet,
		IterationCount: 1,
		StartedAt:      now,
		FinishedAt:     now,
	}
	items := []batch.Item{{Task: refine.Task{ID: "r1"}, Result: res}, {Task: refine.Task{ID: "r2"}, Err: errors.New("canceled")}}

	var buf bytes.Buffer
	require.NoError(t, (&RunCmd{Output: "text"}).print(&buf, items, true))
	out := buf.String()
	assert.Contains(t, out, "✓ r1  Quality threshold met  score=9/10")
	assert.Contains(t, out, "def f(): pass")
	assert.Contains(t, out, "r2: canceled")

	buf.Reset()
	require.NoError(t, (&RunCmd{Output: "json"}).print(&buf, items[:1], false))
	assert.Contains(t, buf.String(), `"reason": "quality_threshold_met"`)
}

func TestSplitJoined(t *testing.T) {
	err := fmt.Errorf("config validation failed: %w", errors.Join(errors.New("a"), errors.Join(errors.New("b"), errors.New("c"))))
	assert.Equal(t, []string{"a", "b", "c"}, splitJoined(err))
	assert.Equal(t, []string{"plain"}, splitJoined(errors.New("plain")))
}

func TestApproverHelpers(t *testing.T) {
	assert.True(t, approved("Y"))
	assert.True(t, approved("yes"))
	assert.False(t, approved(""))
	assert.False(t, approved("no"))

	long := strings.Repeat("line\n", 50)
	p := preview(long, 10)
	assert.Equal(t, 11, strings.Count(p, "\n")+1)
	assert.Contains(t, p, "more lines")
	assert.Equal(t, "short", preview("short", 10))
}
