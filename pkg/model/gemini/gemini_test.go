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

package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/refinery/pkg/model"
)

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
			"verdict": map[string]any{"type": "string", "enum": []any{"pass", "fail"}},
		},
		"required": []string{"scores"},
	})

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"scores"}, s.Required)
	require.Contains(t, s.Properties, "scores")
	assert.Equal(t, genai.TypeArray, s.Properties["scores"].Type)
	assert.Equal(t, genai.TypeInteger, s.Properties["scores"].Items.Type)
	assert.Equal(t, []string{"pass", "fail"}, s.Properties["verdict"].Enum)

	assert.Nil(t, toGenaiSchema(nil))
}

func TestBuildConfig(t *testing.T) {
	m := &geminiModel{name: defaultModel, config: Config{MaxTokens: 512, Temperature: 0.3}}

	cfg := m.buildConfig(&model.Request{
		SystemInstruction: "be strict",
		Config:            &model.GenerateConfig{ResponseSchema: map[string]any{"type": "object"}},
	})

	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Equal(t, int32(512), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.3, *cfg.Temperature, 0.001)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be strict", cfg.SystemInstruction.Parts[0].Text)
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonMaxTokens,
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Security: 7"},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 3, CandidatesTokenCount: 4, TotalTokenCount: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, "Security: 7", resp.Content)
	assert.Equal(t, "length", resp.FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	_, err = parseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	resp, err = parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
}

func TestBuildContents_Roles(t *testing.T) {
	contents := buildContents(&model.Request{Messages: []model.Message{
		model.UserMessage("write code"),
		{Role: model.RoleAssistant, Content: "def f(): pass"},
	}})
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
}
