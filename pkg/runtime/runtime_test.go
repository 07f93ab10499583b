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


package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/config"
	"github.com/kadirpekel/refinery/pkg/export"
	"github.com/kadirpekel/refinery/pkg/llmagent"
	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// scriptedLLM answers every request with the same reply.
type scriptedLLM struct {
	name   string
	reply  string
	calls  atomic.Int32
	closed atomic.Bool
}

func (m *scriptedLLM) Name() string             { return m.name }
func (m *scriptedLLM) Provider() model.Provider { return model.ProviderUnknown }
func (m *scriptedLLM) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *scriptedLLM) GenerateContent(context.Context, *model.Request) (*model.Response, error) {
	m.calls.Add(1)
	return &model.Response{Content: m.reply, Usage: &model.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}, nil
}

const goodReply = "```python\ndef add(a, b):\n    return a + b\n```\nSecurity: 9\nPerformance: 9\nReadability: 9"

const criticalReply = "```python\npassword = read_secret()\n```\nSecurity: 9\nPerformance: 9\nReadability: 9"

// fakeModels returns a factory handing out one scriptedLLM per model config.
func fakeModels(reply string) (LLMFactory, *[]*scriptedLLM) {
	var built []*scriptedLLM
	return func(_ context.Context, cfg *config.ModelConfig) (model.LLM, error) {
		m := &scriptedLLM{name: cfg.Model, reply: reply}
		built = append(built, m)
		return m, nil
	}, &built
}

func parse(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	return cfg
}

const baseConfig = `
models:
  default:
    provider: openai
    api_key: test
policy:
  quality_threshold: 9
  allow_immediate_success: true
export:
  disabled: true
`

func TestNew_SingleEvaluator(t *testing.T) {
	factory, built := fakeModels(goodReply)
	rt, err := New(context.Background(), Options{Config: parse(t, baseConfig), LLMFactory: factory})
	require.NoError(t, err)

	res, err := rt.Controller().Run(context.Background(), refine.Task{Description: "add two numbers"})
	require.NoError(t, err)
	assert.Equal(t, refine.ReasonFastTrackQualityMet, res.Reason)
	assert.Contains(t, res.Final.Content, "def add")

	require.Len(t, *built, 1)
	assert.Equal(t, int32(2), (*built)[0].calls.Load())

	assert.Nil(t, rt.Store())
	require.NoError(t, rt.Close())
	assert.True(t, (*built)[0].closed.Load())
}

func TestNew_Panel(t *testing.T) {
	factory, built := fakeModels(goodReply)
	cfg := parse(t, baseConfig+`
evaluators:
  - name: security
    criteria: [Security]
  - name: style
    criteria: [Readability]
panel:
  synthesizer: {}
`)
	rt, err := New(context.Background(), Options{Config: cfg, LLMFactory: factory})
	require.NoError(t, err)
	defer rt.Close()

	res, err := rt.Controller().Run(context.Background(), refine.Task{Description: "add"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	require.NotNil(t, res.History[0].Evaluation)
	assert.Len(t, res.History[0].Evaluation.Scores, 2)

	// generate + two members + synthesis
	assert.Equal(t, int32(4), (*built)[0].calls.Load())
}

func TestNew_Gate(t *testing.T) {
	t.Run("terminal without approver", func(t *testing.T) {
		factory, _ := fakeModels(goodReply)
		_, err := New(context.Background(), Options{
			Config:     parse(t, baseConfig+"gate:\n  enabled: true\n"),
			LLMFactory: factory,
		})
		assert.ErrorContains(t, err, "terminal approver")
	})

	t.Run("injected approver", func(t *testing.T) {
		factory, _ := fakeModels(criticalReply)
		var asked atomic.Int32
		approver := llmagent.ApproverFunc(func(_ context.Context, req llmagent.ApprovalRequest) (llmagent.Decision, error) {
			asked.Add(1)
			assert.Contains(t, req.Matched, "password")
			return llmagent.Decision{Approved: true}, nil
		})
		rt, err := New(context.Background(), Options{
			Config:     parse(t, baseConfig+"gate:\n  enabled: true\n"),
			LLMFactory: factory,
			Approver:   approver,
		})
		require.NoError(t, err)
		defer rt.Close()

		res, err := rt.Controller().Run(context.Background(), refine.Task{Description: "store credentials"})
		require.NoError(t, err)
		assert.True(t, res.Succeeded())
		assert.Equal(t, int32(1), asked.Load())
	})

	t.Run("auto reject", func(t *testing.T) {
		factory, _ := fakeModels(criticalReply)
		rt, err := New(context.Background(), Options{
			Config:     parse(t, baseConfig+"gate:\n  enabled: true\n  approver: auto_reject\n"),
			LLMFactory: factory,
		})
		require.NoError(t, err)
		defer rt.Close()

		res, err := rt.Controller().Run(context.Background(), refine.Task{Description: "store credentials"})
		require.NoError(t, err)
		assert.Equal(t, refine.ReasonMaxIterationsReached, res.Reason)
		s, ok := res.History[0].Evaluation.Lookup(llmagent.ApprovalCriterion)
		require.True(t, ok)
		assert.Equal(t, refine.MinScore, s.Value)
	})
}

func TestNew_StoreAndExport(t *testing.T) {
	dir := t.TempDir()
	factory, _ := fakeModels(goodReply)
	cfg := parse(t, `
models:
  default:
    provider: anthropic
    api_key: test
policy:
  allow_immediate_success: true
store:
  driver: sqlite
  database: ":memory:"
export:
  dir: `+dir+`
  formats: [json, audit]
`)
	rt, err := New(context.Background(), Options{Config: cfg, LLMFactory: factory})
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.Store())

	ctx := context.Background()
	res, err := rt.Controller().Run(ctx, refine.Task{ID: "run-1", Description: "add"})
	require.NoError(t, err)
	require.NoError(t, rt.Exporter().Export(ctx, res))

	report, err := rt.Store().Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, res.Reason, report.Reason)

	_, err = os.Stat(export.NewJSONExporter(dir).Path("run-1"))
	assert.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRuntime_Reload(t *testing.T) {
	factory, built := fakeModels(goodReply)
	rt, err := New(context.Background(), Options{Config: parse(t, baseConfig), LLMFactory: factory})
	require.NoError(t, err)
	first := rt.Controller()

	controller, err := rt.Reload(context.Background(), parse(t, baseConfig+"gate:\n  enabled: true\n"))
	require.Error(t, err)
	assert.Nil(t, controller)
	assert.Same(t, first, rt.Controller())

	next := parse(t, `
models:
  default:
    provider: openai
    api_key: test
policy:
  quality_threshold: 7
export:
  disabled: true
`)
	controller, err = rt.Reload(context.Background(), next)
	require.NoError(t, err)
	assert.Same(t, controller, rt.Controller())
	assert.Equal(t, 7, rt.Controller().Policy().QualityThreshold)
	assert.Equal(t, 7, rt.Config().Policy.QualityThreshold)

	require.NoError(t, rt.Close())
	// initial, failed reload, successful reload
	require.Len(t, *built, 3)
	for _, m := range *built {
		assert.True(t, m.closed.Load())
	}
}

func TestNew_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refinery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(baseConfig), 0o600))

	factory, _ := fakeModels(goodReply)
	rt, err := New(context.Background(), Options{ConfigFile: path, LLMFactory: factory})
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, "refinery", rt.Config().Name)

	_, err = New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestDefaultLLMFactory(t *testing.T) {
	ctx := context.Background()

	for _, p := range []config.LLMProvider{config.LLMProviderOpenAI, config.LLMProviderAnthropic} {
		cfg := &config.ModelConfig{Provider: p, APIKey: "k", Model: "m"}
		llm, err := DefaultLLMFactory(ctx, cfg)
		require.NoError(t, err, p)
		assert.Equal(t, "m", llm.Name())
		assert.Equal(t, model.Provider(p), llm.Provider())
	}

	_, err := DefaultLLMFactory(ctx, &config.ModelConfig{Provider: "bogus", APIKey: "k"})
	assert.Error(t, err)

	_, err = DefaultLLMFactory(ctx, &config.ModelConfig{Provider: config.LLMProviderOpenAI})
	assert.Error(t, err)
}
