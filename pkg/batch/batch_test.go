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


package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/refine"
)

type fakeRefiner struct {
	delay   time.Duration
	fail    string
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeRefiner) Run(ctx context.Context, task refine.Task) (*refine.RunResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return &refine.RunResult{RunID: task.ID, Task: task, Reason: refine.ReasonCanceled}, ctx.Err()
	}

	if task.Description == f.fail {
		return &refine.RunResult{RunID: task.ID, Task: task, Reason: refine.ReasonCanceled}, context.Canceled
	}
	return &refine.RunResult{RunID: task.ID, Task: task, Reason: refine.ReasonQualityThresholdMet}, nil
}

func tasks(descs ...string) []refine.Task {
	out := make([]refine.Task, len(descs))
	for i, d := range descs {
		out[i] = refine.Task{Description: d}
	}
	return out
}

func TestRunner_PreservesOrderAndBoundsConcurrency(t *testing.T) {
	ref := &fakeRefiner{delay: 20 * time.Millisecond}

	var mu sync.Mutex
	var exported []string
	exp := export.ExporterFunc(func(_ context.Context, res *refine.RunResult) error {
		mu.Lock()
		defer mu.Unlock()
		exported = append(exported, res.RunID)
		return nil
	})

	r, err := New(Config{Refiner: ref, Exporter: exp, Concurrency: 2})
	require.NoError(t, err)

	in := tasks("a", "b", "c", "d", "e")
	in[2].ID = "fixed"
	items, err := r.Run(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, items, 5)
	for i, it := range items {
		assert.Equal(t, in[i].Description, it.Task.Description)
		require.NotNil(t, it.Result)
		assert.Equal(t, it.Task.ID, it.Result.RunID)
		assert.NotEmpty(t, it.Task.ID)
	}
	assert.Equal(t, "fixed", items[2].Task.ID)
	assert.LessOrEqual(t, ref.maxSeen.Load(), int32(2))
	assert.Len(t, exported, 5)
}

func TestRunner_ExportErrorsDoNotFailBatch(t *testing.T) {
	exp := export.ExporterFunc(func(context.Context, *refine.RunResult) error { return errors.New("disk full") })
	r, err := New(Config{Refiner: &fakeRefiner{}, Exporter: exp})
	require.NoError(t, err)

	items, err := r.Run(context.Background(), tasks("a"))
	require.NoError(t, err)
	assert.EqualError(t, items[0].ExportErr, "disk full")
}

func TestRunner_StopOnError(t *testing.T) {
	ref := &fakeRefiner{delay: 10 * time.Millisecond, fail: "bad"}
	r, err := New(Config{Refiner: ref, Concurrency: 1, StopOnError: true})
	require.NoError(t, err)

	items, err := r.Run(context.Background(), tasks("bad", "b", "c"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, items[0].Err, context.Canceled)
	for _, it := range items[1:] {
		assert.Error(t, it.Err)
	}
}

func TestRunner_CollectsErrorsWithoutStopping(t *testing.T) {
	ref := &fakeRefiner{fail: "bad"}
	r, err := New(Config{Refiner: ref})
	require.NoError(t, err)

	items, err := r.Run(context.Background(), tasks("bad", "good"))
	require.Error(t, err)
	assert.Error(t, items[0].Err)
	assert.NoError(t, items[1].Err)
	assert.True(t, items[1].Result.Succeeded())
}

func TestNew_RequiresRefiner(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestLoadTasks(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []refine.Task
	}{
		{
			name:  "yaml strings",
			input: "- write add\n- write sub\n",
			want:  []refine.Task{{Description: "write add"}, {Description: "write sub"}},
		},
		{
			name:  "yaml objects",
			input: "- id: t1\n  description: write add\n  metadata: {lang: go}\n- write sub\n",
			want: []refine.Task{
				{ID: "t1", Description: "write add", Metadata: map[string]string{"lang": "go"}},
				{Description: "write sub"},
			},
		},
		{
			name:  "json",
			input: `[{"id": "t1", "description": "write add"}]`,
			want:  []refine.Task{{ID: "t1", Description: "write add"}},
		},
		{
			name:  "plain lines",
			input: "# comment\nTask: write add\n\nwrite sub\n",
			want:  []refine.Task{{Description: "Task: write add"}, {Description: "write sub"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadTasks(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LoadTasks(strings.NewReader("\n\n"))
	assert.Error(t, err)

	_, err = LoadTasks(strings.NewReader("- id: x\n"))
	assert.Error(t, err)
}
