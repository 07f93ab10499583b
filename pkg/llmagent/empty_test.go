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


package llmagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/model/anthropic"
	"github.com/kadirpekel/refinery/pkg/model/gemini"
	"github.com/kadirpekel/refinery/pkg/model/openai"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// textless starts a server that answers every request with body and
// returns the model of the given provider pointed at it.
func textless(t *testing.T, provider, body string) model.LLM {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	var (
		llm model.LLM
		err error
	)
	switch provider {
	case "openai":
		llm, err = openai.New(openai.Config{APIKey: "k", BaseURL: srv.URL})
	case "anthropic":
		llm, err = anthropic.New(anthropic.Config{APIKey: "k", BaseURL: srv.URL})
	case "gemini":
		llm, err = gemini.New(context.Background(), gemini.Config{APIKey: "k", BaseURL: srv.URL})
	}
	require.NoError(t, err)
	return llm
}

func TestEmptyReply_SameOutcomeForEveryProvider(t *testing.T) {
	providers := []struct {
		name string
		body string
	}{
		{"openai", `{"status":"completed","output":[]}`},
		{"anthropic", `{"content":[],"stop_reason":"end_turn"}`},
		{"gemini", `{"candidates":[{"finishReason":"SAFETY"}]}`},
	}

	evaluators := map[string]func(model.LLM) (refine.Evaluator, error){
		"criteria": func(m model.LLM) (refine.Evaluator, error) {
			return NewCriteriaEvaluator(CriteriaConfig{Model: m})
		},
		"structured": func(m model.LLM) (refine.Evaluator, error) {
			return NewStructuredEvaluator(StructuredConfig{Model: m})
		},
		"approval": func(m model.LLM) (refine.Evaluator, error) {
			return NewApprovalEvaluator(ApprovalConfig{Model: m})
		},
	}

	for _, p := range providers {
		t.Run(p.name, func(t *testing.T) {
			llm := textless(t, p.name, p.body)

			for name, build := range evaluators {
				eval, err := build(llm)
				require.NoError(t, err)

				_, err = eval.Evaluate(context.Background(), refine.Artifact{Content: "def add(a, b): return a + b"})
				require.Error(t, err, name)
				assert.True(t, refine.IsParseError(err), "%s: %v", name, err)
				assert.ErrorIs(t, err, ErrEmptyResponse, name)
			}

			g, err := NewGenerator(GeneratorConfig{Model: llm})
			require.NoError(t, err)
			_, err = g.Generate(context.Background(), refine.Task{Description: "add two numbers"}, nil)
			assert.ErrorIs(t, err, ErrEmptyResponse)
			assert.False(t, refine.IsParseError(err))
		})
	}
}
