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


package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/observability"
	"github.com/kadirpekel/refinery/pkg/refine"
	"github.com/kadirpekel/refinery/pkg/store"
)

type refinerFunc func(ctx context.Context, task refine.Task) (*refine.RunResult, error)

func (f refinerFunc) Run(ctx context.Context, task refine.Task) (*refine.RunResult, error) {
	return f(ctx, task)
}

func result(task refine.Task, reason refine.Reason, score int) *refine.RunResult {
	now := time.Now()
	art := refine.Artifact{Content: "print('ok')", Iteration: 0}
	return &refine.RunResult{
		RunID: task.ID,
		Task:  task,
		History: []refine.IterationRecord{{
			Index:      0,
			Artifact:   art,
			Evaluation: &refine.Evaluation{Scores: []refine.Score{{Criterion: refine.OverallCriterion, Value: score}}},
		}},
		Final:          &art,
		FinalIndex:     0,
		Reason:         reason,
		IterationCount: 1,
		StartedAt:      now,
		FinishedAt:     now.Add(time.Millisecond),
	}
}

func instant(reason refine.Reason) refinerFunc {
	return func(_ context.Context, task refine.Task) (*refine.RunResult, error) {
		return result(task, reason, 9), nil
	}
}

// blocking returns a refiner that holds every run until release is closed
// or the run context ends.
func blocking(release <-chan struct{}, started chan<- string) refinerFunc {
	return func(ctx context.Context, task refine.Task) (*refine.RunResult, error) {
		if started != nil {
			started <- task.ID
		}
		select {
		case <-release:
			return result(task, refine.ReasonQualityThresholdMet, 9), nil
		case <-ctx.Done():
			res := result(task, refine.ReasonCanceled, 3)
			res.Err = ctx.Err()
			return res, ctx.Err()
		}
	}
}

func newTestServer(t *testing.T, r Refiner, cfg config.ServerConfig, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(r, cfg, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func post(t *testing.T, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestNew_RequiresRefiner(t *testing.T) {
	_, err := New(nil, config.ServerConfig{})
	assert.Error(t, err)

	_, err = New(instant(refine.ReasonQualityThresholdMet), config.ServerConfig{MaxConcurrentRuns: -1})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{})

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","active_runs":0}`, string(body))
}

func TestSubmitSync(t *testing.T) {
	var exported atomic.Int32
	exp := export.ExporterFunc(func(context.Context, *refine.RunResult) error {
		exported.Add(1)
		return nil
	})
	mem := store.NewMemoryStore(10)
	_, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{},
		WithStore(mem), WithExporter(exp))

	resp, body := post(t, ts.URL+"/v1/runs:sync", RunRequest{ID: "r1", Description: "add two numbers"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var view RunView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, "r1", view.RunID)
	assert.Equal(t, StatusFinished, view.Status)
	require.NotNil(t, view.Report)
	assert.Equal(t, refine.ReasonQualityThresholdMet, view.Report.Reason)
	require.NotNil(t, view.Report.FinalScore)
	assert.Equal(t, 9, *view.Report.FinalScore)

	assert.Equal(t, 1, mem.Len())
	assert.Equal(t, int32(1), exported.Load())
}

func TestSubmitAsync(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	_, ts := newTestServer(t, blocking(release, started), config.ServerConfig{})

	resp, body := post(t, ts.URL+"/v1/runs", RunRequest{Description: "sort a list"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var accepted RunAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.NotEmpty(t, accepted.RunID)
	assert.Equal(t, "/v1/runs/"+accepted.RunID, resp.Header.Get("Location"))

	assert.Equal(t, accepted.RunID, <-started)

	resp, body = get(t, ts.URL+accepted.Location)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view RunView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, StatusRunning, view.Status)
	assert.Nil(t, view.Report)

	close(release)

	require.Eventually(t, func() bool {
		resp, body := get(t, ts.URL+accepted.Location)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var v RunView
		return json.Unmarshal(body, &v) == nil && v.Status == StatusFinished && v.Report != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmit_BusyRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)
	_, ts := newTestServer(t, blocking(release, started), config.ServerConfig{MaxConcurrentRuns: 1})
	defer close(release)

	resp, _ := post(t, ts.URL+"/v1/runs", RunRequest{Description: "first"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	resp, body := post(t, ts.URL+"/v1/runs", RunRequest{Description: "second"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, string(body))

	resp, _ = post(t, ts.URL+"/v1/runs:sync", RunRequest{Description: "third"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// A waiting submission queues instead.
	resp, body = post(t, ts.URL+"/v1/runs?wait=true", RunRequest{Description: "fourth"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted RunAccepted
	require.NoError(t, json.Unmarshal(body, &accepted))

	resp, body = get(t, ts.URL+accepted.Location)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view RunView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, StatusQueued, view.Status)
}

func TestSubmit_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"description":`},
		{"missing description", `{"id":"x"}`},
		{"blank description", `{"description":"   "}`},
		{"unknown field", `{"description":"x","prompt":"y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts.URL+"/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), `"error"`)
		})
	}
}

func TestSubmit_DuplicateID(t *testing.T) {
	_, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{})

	resp, _ := post(t, ts.URL+"/v1/runs:sync", RunRequest{ID: "dup", Description: "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/v1/runs", RunRequest{ID: "dup", Description: "x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetRun_NotFound(t *testing.T) {
	_, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{})

	resp, _ := get(t, ts.URL+"/v1/runs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRuns(t *testing.T) {
	reason := refine.ReasonQualityThresholdMet
	r := refinerFunc(func(_ context.Context, task refine.Task) (*refine.RunResult, error) {
		if task.Metadata["fail"] == "true" {
			return result(task, refine.ReasonFailed, 2), nil
		}
		return result(task, reason, 9), nil
	})
	_, ts := newTestServer(t, r, config.ServerConfig{})

	for _, req := range []RunRequest{
		{ID: "a", Description: "a"},
		{ID: "b", Description: "b", Metadata: map[string]string{"fail": "true"}},
		{ID: "c", Description: "c"},
	} {
		resp, _ := post(t, ts.URL+"/v1/runs:sync", req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := get(t, ts.URL+"/v1/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list RunList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Runs, 3)
	assert.Equal(t, store.DefaultListLimit, list.Limit)

	resp, body = get(t, ts.URL+"/v1/runs?reason=failed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "b", list.Runs[0].RunID)

	resp, body = get(t, ts.URL+"/v1/runs?limit=1&offset=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Runs, 1)
	assert.Equal(t, 1, list.Offset)

	for _, q := range []string{"reason=bogus", "limit=x", "offset=-1"} {
		resp, _ = get(t, ts.URL+"/v1/runs?"+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestUpdateRefiner(t *testing.T) {
	srv, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{})

	srv.UpdateRefiner(instant(refine.ReasonEvaluatorSignaledStop))
	srv.UpdateRefiner(nil)

	resp, body := post(t, ts.URL+"/v1/runs:sync", RunRequest{Description: "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view RunView
	require.NoError(t, json.Unmarshal(body, &view))
	assert.Equal(t, refine.ReasonEvaluatorSignaledStop, view.Report.Reason)
}

func TestMetricsRoute(t *testing.T) {
	obs := observability.NewManager(observability.Config{Metrics: observability.MetricsConfig{Enabled: true}})
	require.NoError(t, obs.Initialize(context.Background()))
	defer obs.Shutdown(context.Background())

	_, ts := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{}, WithObservability(obs))

	resp, _ := get(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, ts.URL+observability.DefaultMetricsPath)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `route="/health"`)

	_, plain := newTestServer(t, instant(refine.ReasonQualityThresholdMet), config.ServerConfig{})
	resp, _ = get(t, plain.URL+observability.DefaultMetricsPath)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShutdown_CancelsActiveRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 1)
	mem := store.NewMemoryStore(10)
	srv, err := New(blocking(release, started), config.ServerConfig{}, WithStore(mem))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)
	url := "http://" + srv.Addr().String()

	resp, _ := post(t, url+"/v1/runs", RunRequest{ID: "long", Description: "x"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-started

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shutdownCancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))
	cancel()
	<-done

	report, err := mem.Get(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, refine.ReasonCanceled, report.Reason)
	assert.Equal(t, 0, srv.activeCount())
}
