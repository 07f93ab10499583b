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

package fanout

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/refinery/pkg/refine"
)

func scorer(criterion string, value int) refine.EvaluatorFunc {
	return func(context.Context, refine.Artifact) (refine.Evaluation, error) {
		return refine.Evaluation{
			Scores:  []refine.Score{{Criterion: criterion, Value: value}},
			Summary: criterion + " ok",
		}, nil
	}
}

func failing(err error) refine.EvaluatorFunc {
	return func(context.Context, refine.Artifact) (refine.Evaluation, error) {
		return refine.Evaluation{}, err
	}
}

type synthFunc func(ctx context.Context, a refine.Artifact, rs []MemberResult) (string, error)

func (f synthFunc) Synthesize(ctx context.Context, a refine.Artifact, rs []MemberResult) (string, error) {
	return f(ctx, a, rs)
}

func TestPanel_MergesAllMembers(t *testing.T) {
	p, err := New(Config{Members: []Member{
		{Name: "security", Evaluator: scorer("security", 7)},
		{Name: "performance", Evaluator: scorer("performance", 3)},
		{Name: "style", Evaluator: scorer("readability", 9)},
	}})
	require.NoError(t, err)

	eval, err := p.Evaluate(context.Background(), refine.Artifact{Content: "code"})
	require.NoError(t, err)

	assert.Len(t, eval.Scores, 3)
	assert.Equal(t, 3, eval.Aggregate())
	assert.False(t, eval.Partial())
	assert.Contains(t, eval.Summary, "[security] security ok")
}

func TestPanel_RunsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := func(value int) refine.EvaluatorFunc {
		return func(ctx context.Context, _ refine.Artifact) (refine.Evaluation, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return refine.Evaluation{Scores: []refine.Score{{Criterion: "c", Value: value}}}, nil
		}
	}

	p, err := New(Config{Members: []Member{
		{Name: "a", Evaluator: slow(1)},
		{Name: "b", Evaluator: slow(2)},
		{Name: "c", Evaluator: slow(3)},
	}})
	require.NoError(t, err)

	_, err = p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestPanel_PartialResults(t *testing.T) {
	p, err := New(Config{Members: []Member{
		{Name: "security", Evaluator: scorer("security", 8)},
		{Name: "performance", Evaluator: failing(errors.New("timeout"))},
	}})
	require.NoError(t, err)

	eval, err := p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)

	assert.True(t, eval.Partial())
	require.Len(t, eval.Failed, 1)
	assert.Equal(t, "performance", eval.Failed[0].Member)
	assert.Equal(t, 8, eval.Aggregate())
}

func TestPanel_AllMembersFailed(t *testing.T) {
	p, err := New(Config{Name: "experts", Members: []Member{
		{Name: "a", Evaluator: failing(errors.New("x"))},
		{Name: "b", Evaluator: failing(errors.New("y"))},
	}})
	require.NoError(t, err)

	_, err = p.Evaluate(context.Background(), refine.Artifact{})
	require.Error(t, err)
	assert.ErrorIs(t, err, refine.ErrEvaluation)
	assert.Contains(t, err.Error(), "experts")
}

func TestPanel_RequireAll(t *testing.T) {
	p, err := New(Config{RequireAll: true, Members: []Member{
		{Name: "a", Evaluator: scorer("a", 9)},
		{Name: "b", Evaluator: failing(errors.New("down"))},
	}})
	require.NoError(t, err)

	_, err = p.Evaluate(context.Background(), refine.Artifact{})
	require.Error(t, err)
	assert.ErrorIs(t, err, refine.ErrEvaluation)
}

func TestPanel_ParseFailureBecomesNeutral(t *testing.T) {
	p, err := New(Config{NeutralScore: 5, Members: []Member{
		{Name: "a", Evaluator: scorer("a", 9)},
		{Name: "b", Evaluator: failing(&refine.ParseError{Raw: "??"}), Criteria: []string{"performance"}},
	}})
	require.NoError(t, err)

	eval, err := p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)

	assert.True(t, eval.Fallback)
	assert.False(t, eval.Partial())
	s, ok := eval.Lookup("performance")
	require.True(t, ok)
	assert.Equal(t, 5, s.Value)
	assert.Equal(t, 5, eval.Aggregate())
}

func TestPanel_StopRequiresUnanimity(t *testing.T) {
	stop := func(v bool) refine.EvaluatorFunc {
		return func(context.Context, refine.Artifact) (refine.Evaluation, error) {
			return refine.Evaluation{Scores: []refine.Score{{Criterion: "c", Value: 9}}, Stop: v}, nil
		}
	}

	p, err := New(Config{Members: []Member{{Name: "a", Evaluator: stop(true)}, {Name: "b", Evaluator: stop(false)}}})
	require.NoError(t, err)
	eval, err := p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)
	assert.False(t, eval.Stop)

	p, err = New(Config{Members: []Member{{Name: "a", Evaluator: stop(true)}, {Name: "b", Evaluator: stop(true)}}})
	require.NoError(t, err)
	eval, err = p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)
	assert.True(t, eval.Stop)
}

func TestPanel_Synthesizer(t *testing.T) {
	synth := synthFunc(func(_ context.Context, a refine.Artifact, rs []MemberResult) (string, error) {
		names := make([]string, 0, len(rs))
		for _, r := range rs {
			names = append(names, r.Member)
		}
		return "prioritised: " + strings.Join(names, ","), nil
	})

	p, err := New(Config{Synthesizer: synth, Members: []Member{
		{Name: "security", Evaluator: scorer("security", 4)},
		{Name: "style", Evaluator: scorer("style", 6)},
	}})
	require.NoError(t, err)

	eval, err := p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)
	assert.Equal(t, "prioritised: security,style", eval.Summary)
}

func TestPanel_SynthesizerFailureKeepsSummaries(t *testing.T) {
	synth := synthFunc(func(context.Context, refine.Artifact, []MemberResult) (string, error) {
		return "", errors.New("llm down")
	})
	p, err := New(Config{Synthesizer: synth, Members: []Member{{Name: "a", Evaluator: scorer("a", 4)}}})
	require.NoError(t, err)

	eval, err := p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)
	assert.Equal(t, "[a] a ok", eval.Summary)
}

func TestPanel_MemberTimeout(t *testing.T) {
	blocking := refine.EvaluatorFunc(func(ctx context.Context, _ refine.Artifact) (refine.Evaluation, error) {
		<-ctx.Done()
		return refine.Evaluation{}, ctx.Err()
	})
	p, err := New(Config{MemberTimeout: 10 * time.Millisecond, Members: []Member{
		{Name: "slow", Evaluator: blocking},
		{Name: "fast", Evaluator: scorer("fast", 7)},
	}})
	require.NoError(t, err)

	eval, err := p.Evaluate(context.Background(), refine.Artifact{})
	require.NoError(t, err)
	require.Len(t, eval.Failed, 1)
	assert.Equal(t, "slow", eval.Failed[0].Member)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Members: []Member{{Name: "a"}}})
	assert.Error(t, err)

	_, err = New(Config{Members: []Member{{Evaluator: scorer("a", 1)}}})
	assert.Error(t, err)

	_, err = New(Config{Members: []Member{{Name: "a", Evaluator: scorer("a", 1)}, {Name: "a", Evaluator: scorer("a", 1)}}})
	assert.Error(t, err)
}

func TestPanel_WithController(t *testing.T) {
	p, err := New(Config{Members: []Member{
		{Name: "security", Evaluator: scorer("security", 9)},
		{Name: "performance", Evaluator: scorer("performance", 9)},
	}})
	require.NoError(t, err)

	gen := refine.GeneratorFunc(func(_ context.Context, task refine.Task, _ *refine.Evaluation) (refine.Artifact, error) {
		return refine.Artifact{Content: task.Description}, nil
	})
	ctrl, err := refine.New(gen, p, refine.Policy{QualityThreshold: 8, AllowImmediateSuccess: true, MaxIterations: 2})
	require.NoError(t, err)

	res, err := ctrl.Run(context.Background(), refine.Task{Description: "add two numbers"})
	require.NoError(t, err)
	assert.Equal(t, refine.ReasonFastTrackQualityMet, res.Reason)
}
