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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/fanout"
	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// fakeLLM replays replies in order and records requests.
type fakeLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []*model.Request
}

func (f *fakeLLM) Name() string { return "fake" }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) GenerateContent(_ context.Context, req *model.Request) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	reply := ""
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	return &model.Response{Content: reply, FinishReason: "stop", Usage: &model.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}, nil
}

func (f *fakeLLM) lastUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1].Messages[0].Content
}

func TestPrompt_Render(t *testing.T) {
	p, err := NewPrompt("t", "Focus on {{join .Focus \" and \"}}", "  {{.Task.Description}}  ")
	require.NoError(t, err)

	sys, user, err := p.Render(generateData{Task: refine.Task{Description: "sum"}, Focus: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "Focus on a and b", sys)
	assert.Equal(t, "sum", user)

	_, err = NewPrompt("bad", "{{.Unclosed", "")
	assert.Error(t, err)

	_, _, err = p.Render(struct{}{})
	assert.Error(t, err)
}

func TestGenerator_FirstAttempt(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Sure!\n```python\ndef add(a, b):\n    return a + b\n```"}}
	g, err := NewGenerator(GeneratorConfig{Model: llm})
	require.NoError(t, err)

	a, err := g.Generate(context.Background(), refine.Task{Description: "add two numbers"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "def add(a, b):\n    return a + b", a.Content)
	require.NotNil(t, a.Usage)
	assert.Equal(t, 5, a.Usage.TotalTokens)
	assert.Equal(t, "add two numbers", llm.lastUser())
	assert.Contains(t, llm.requests[0].SystemInstruction, "Write ONLY Python code")
}

func TestGenerator_FeedbackIsIncorporated(t *testing.T) {
	llm := &fakeLLM{replies: []string{"v1", "v2"}}
	g, err := NewGenerator(GeneratorConfig{Model: llm, Language: "Go", KeepRaw: true})
	require.NoError(t, err)

	feedback := refine.Evaluation{Scores: []refine.Score{{Criterion: "Security", Value: 4, Feedback: "validate input"}}}

	_, err = g.Generate(context.Background(), refine.Task{Description: "task"}, &feedback)
	require.NoError(t, err)
	assert.Contains(t, llm.lastUser(), "Previous attempt was rejected")
	assert.Contains(t, llm.lastUser(), "Security: 4/10 - validate input")

	a, err := g.Refine(context.Background(), refine.Task{Description: "task"}, refine.Artifact{Content: "old code"}, feedback)
	require.NoError(t, err)
	assert.Equal(t, "v2", a.Content)
	assert.Contains(t, llm.lastUser(), "Code:\nold code")
	assert.Contains(t, llm.lastUser(), "Security: 4/10 - validate input")
	assert.Contains(t, llm.requests[1].SystemInstruction, "Focus on Security, Performance, Readability")
}

func TestGenerator_Errors(t *testing.T) {
	_, err := NewGenerator(GeneratorConfig{})
	assert.Error(t, err)

	g, err := NewGenerator(GeneratorConfig{Model: &fakeLLM{err: errors.New("503")}})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), refine.Task{Description: "x"}, nil)
	assert.ErrorContains(t, err, "503")

	g, err = NewGenerator(GeneratorConfig{Model: &fakeLLM{replies: []string{"   "}}})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), refine.Task{Description: "x"}, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestParseCriteria(t *testing.T) {
	criteria := []string{"Security", "Performance", "Readability"}
	tests := []struct {
		name string
		in   string
		want []int
	}{
		{"canonical", "Security: 7, Performance: 8, Readability: 9", []int{7, 8, 9}},
		{"markdown", "**Security**: 6/10\n**Performance** = 10\n- readability: 4", []int{6, 10, 4}},
		{"clamped", "Security: 0, Performance: 15, Readability: -2", []int{1, 10, 1}},
		{"reordered", "Readability: 3 Security: 5 Performance: 2", []int{5, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores, err := ParseCriteria(tt.in, criteria)
			require.NoError(t, err)
			require.Len(t, scores, 3)
			for i, want := range tt.want {
				assert.Equal(t, criteria[i], scores[i].Criterion)
				assert.Equal(t, want, scores[i].Value)
			}
		})
	}
}

func TestParseCriteria_Missing(t *testing.T) {
	_, err := ParseCriteria("Security: 7, Performance: fast", []string{"Security", "Performance", "Readability"})
	require.Error(t, err)

	var pe *refine.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"Security", "Performance", "Readability"}, pe.Criteria)
	assert.Contains(t, pe.Error(), "Performance, Readability")
	assert.ErrorIs(t, err, refine.ErrEvaluationParse)
}

func TestCriteriaEvaluator(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Security: 9, Performance: 8, Readability: 10"}}
	e, err := NewCriteriaEvaluator(CriteriaConfig{Model: llm})
	require.NoError(t, err)

	eval, err := e.Evaluate(context.Background(), refine.Artifact{Content: "code"})
	require.NoError(t, err)
	assert.Equal(t, 8, eval.Aggregate())
	assert.Contains(t, llm.requests[0].SystemInstruction, "'Security: X, Performance: Y, Readability: Z'")
	assert.Equal(t, "Code:\ncode", llm.lastUser())
}

func TestCriteriaEvaluator_FailureKinds(t *testing.T) {
	e, err := NewCriteriaEvaluator(CriteriaConfig{Model: &fakeLLM{err: errors.New("timeout")}})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), refine.Artifact{})
	assert.ErrorIs(t, err, refine.ErrEvaluation)

	e, err = NewCriteriaEvaluator(CriteriaConfig{Model: &fakeLLM{replies: []string{"looks great"}}})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), refine.Artifact{})
	assert.True(t, refine.IsParseError(err))

	_, err = NewCriteriaEvaluator(CriteriaConfig{Model: &fakeLLM{}, Criteria: []string{"a", "A"}})
	assert.Error(t, err)
}

func TestStructuredEvaluator(t *testing.T) {
	llm := &fakeLLM{replies: []string{"```json\n" + `{"scores":[{"criterion":"security","score":6,"feedback":"escape SQL"},{"criterion":"Performance","score":9,"feedback":""},{"criterion":"Readability","score":12,"feedback":""}],"summary":"close","stop":false}` + "\n```"}}
	e, err := NewStructuredEvaluator(StructuredConfig{Model: llm})
	require.NoError(t, err)

	eval, err := e.Evaluate(context.Background(), refine.Artifact{Content: "code"})
	require.NoError(t, err)

	assert.Equal(t, 6, eval.Aggregate())
	assert.Equal(t, "close", eval.Summary)
	s, ok := eval.Lookup("readability")
	require.True(t, ok)
	assert.Equal(t, 10, s.Value)

	cfg := llm.requests[0].Config
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Equal(t, "evaluation", cfg.ResponseSchemaName)
	assert.Equal(t, "object", cfg.ResponseSchema["type"])
	assert.Contains(t, cfg.ResponseSchema["required"], "scores")
}

func TestParseStructured_Errors(t *testing.T) {
	tests := map[string]string{
		"not json":         "I cannot rate this",
		"no scores":        `{"scores":[],"summary":"x"}`,
		"missing criteria": `{"scores":[{"criterion":"Security","score":5}]}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStructured(in, []string{"Security", "Performance"})
			assert.True(t, refine.IsParseError(err), err)
		})
	}
}

func TestApprovalEvaluator(t *testing.T) {
	reviewer := refine.EvaluatorFunc(func(context.Context, refine.Artifact) (refine.Evaluation, error) {
		return refine.Evaluation{Scores: []refine.Score{{Criterion: "quality", Value: 7, Feedback: "add docs"}}}, nil
	})

	t.Run("approved", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`{"approved": true, "feedback": "ship it"}`}}
		e, err := NewApprovalEvaluator(ApprovalConfig{Model: llm, Reviewer: reviewer})
		require.NoError(t, err)

		eval, err := e.Evaluate(context.Background(), refine.Artifact{Content: "code"})
		require.NoError(t, err)
		assert.True(t, eval.Stop)
		s, ok := eval.Lookup(ApprovalCriterion)
		require.True(t, ok)
		assert.Equal(t, refine.MaxScore, s.Value)
		assert.Len(t, eval.Scores, 2)
		assert.Contains(t, llm.lastUser(), "Review:\nquality: 7/10 - add docs")
	})

	t.Run("rejected", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{`Decision: {"approved": false, "feedback": "missing error handling"}`}}
		e, err := NewApprovalEvaluator(ApprovalConfig{Model: llm})
		require.NoError(t, err)

		eval, err := e.Evaluate(context.Background(), refine.Artifact{Content: "code"})
		require.NoError(t, err)
		assert.False(t, eval.Stop)
		assert.Equal(t, refine.MinScore, eval.Aggregate())
		assert.Equal(t, "missing error handling", eval.Summary)
		assert.NotContains(t, llm.lastUser(), "Review:")
	})

	t.Run("garbled", func(t *testing.T) {
		e, err := NewApprovalEvaluator(ApprovalConfig{Model: &fakeLLM{replies: []string{"yes"}}})
		require.NoError(t, err)
		_, err = e.Evaluate(context.Background(), refine.Artifact{})
		assert.True(t, refine.IsParseError(err))
	})
}

func TestSynthesizer(t *testing.T) {
	llm := &fakeLLM{replies: []string{"1. Fix SQL injection\n"}}
	s := &Synthesizer{Model: llm}

	out, err := s.Synthesize(context.Background(), refine.Artifact{Content: "code"}, []fanout.MemberResult{
		{Member: "security", Evaluation: refine.Evaluation{Scores: []refine.Score{{Criterion: "security", Value: 3}}}},
		{Member: "style", Err: errors.New("timeout")},
	})
	require.NoError(t, err)
	assert.Equal(t, "1. Fix SQL injection", out)
	assert.Contains(t, llm.lastUser(), "Security Analysis:\nsecurity: 3/10")
	assert.Contains(t, llm.lastUser(), "Style Analysis:\n(analysis unavailable: timeout)")
	assert.Contains(t, llm.lastUser(), "Provide prioritised recommendations:")
}

func TestCriticalGate(t *testing.T) {
	inner := refine.EvaluatorFunc(func(context.Context, refine.Artifact) (refine.Evaluation, error) {
		return refine.Evaluation{Scores: []refine.Score{{Criterion: "quality", Value: 9}}}, nil
	})

	var asked []ApprovalRequest
	approver := func(d Decision) Approver {
		return ApproverFunc(func(_ context.Context, req ApprovalRequest) (Decision, error) {
			asked = append(asked, req)
			return d, nil
		})
	}

	t.Run("non critical passes through", func(t *testing.T) {
		asked = nil
		g, err := NewCriticalGate(GateConfig{Evaluator: inner, Approver: approver(Decision{})})
		require.NoError(t, err)
		eval, err := g.Evaluate(context.Background(), refine.Artifact{Content: "def add(a, b): return a + b"})
		require.NoError(t, err)
		assert.False(t, eval.Stop)
		assert.Empty(t, asked)
	})

	t.Run("approved sets stop", func(t *testing.T) {
		asked = nil
		g, err := NewCriticalGate(GateConfig{Evaluator: inner, Approver: approver(Decision{Approved: true, Comments: "ok"})})
		require.NoError(t, err)
		eval, err := g.Evaluate(context.Background(), refine.Artifact{Content: "DROP TABLE users; -- store PASSWORD"})
		require.NoError(t, err)
		assert.True(t, eval.Stop)
		require.Len(t, asked, 1)
		assert.Equal(t, []string{"drop", "password"}, asked[0].Matched)
		assert.Contains(t, eval.Summary, "Approver: ok")
	})

	t.Run("rejection becomes feedback", func(t *testing.T) {
		g, err := NewCriticalGate(GateConfig{Evaluator: inner, Approver: approver(Decision{Comments: "never log secrets"})})
		require.NoError(t, err)
		eval, err := g.Evaluate(context.Background(), refine.Artifact{Content: "print(secret)"})
		require.NoError(t, err)
		assert.False(t, eval.Stop)
		assert.Equal(t, refine.MinScore, eval.Aggregate())
		assert.Contains(t, eval.Feedback(), "approval: 1/10 - never log secrets")
	})

	t.Run("below min aggregate skips approval", func(t *testing.T) {
		asked = nil
		g, err := NewCriticalGate(GateConfig{Evaluator: inner, Approver: approver(Decision{}), MinAggregate: 10})
		require.NoError(t, err)
		_, err = g.Evaluate(context.Background(), refine.Artifact{Content: "delete all"})
		require.NoError(t, err)
		assert.Empty(t, asked)
	})

	t.Run("approver error is an evaluation failure", func(t *testing.T) {
		g, err := NewCriticalGate(GateConfig{Evaluator: inner, Approver: ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
			return Decision{}, errors.New("no tty")
		})})
		require.NoError(t, err)
		_, err = g.Evaluate(context.Background(), refine.Artifact{Content: "truncate"})
		assert.ErrorIs(t, err, refine.ErrEvaluation)
	})
}

func TestLLMApprover(t *testing.T) {
	llm := &fakeLLM{replies: []string{`{"approved": false, "feedback": "needs audit logging"}`}}
	a := &LLMApprover{Model: llm}

	d, err := a.Approve(context.Background(), ApprovalRequest{
		Artifact: refine.Artifact{Content: "rm production data"},
		Matched:  []string{"production"},
	})
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "needs audit logging", d.Comments)
	assert.Contains(t, llm.lastUser(), "Matched keywords: production")
}

func TestLoop_WithLLMCollaborators(t *testing.T) {
	gen := &fakeLLM{replies: []string{"```python\nv0\n```", "```python\nv1\n```"}}
	judge := &fakeLLM{replies: []string{
		"Security: 5, Performance: 9, Readability: 9",
		"Security: 9, Performance: 9, Readability: 10",
	}}

	g, err := NewGenerator(GeneratorConfig{Model: gen})
	require.NoError(t, err)
	e, err := NewCriteriaEvaluator(CriteriaConfig{Model: judge})
	require.NoError(t, err)

	c, err := refine.New(g, e, refine.DefaultPolicy())
	require.NoError(t, err)

	res, err := c.Run(context.Background(), refine.Task{Description: "Write a function that adds two numbers"})
	require.NoError(t, err)
	assert.Equal(t, refine.ReasonQualityThresholdMet, res.Reason)
	assert.Equal(t, "v1", res.Final.Content)
	assert.Contains(t, gen.lastUser(), "Code:\nv0")
	assert.Contains(t, gen.lastUser(), "Security: 5/10")
}
