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
	"strings"

	"github.com/kadirpekel/refinery/pkg/model"
	"github.com/kadirpekel/refinery/pkg/refine"
)

// ErrEmptyResponse is returned when a model replies with no text.
var ErrEmptyResponse = errors.New("model returned empty content")

// Sampling holds optional per-collaborator generation settings.
type Sampling struct {
	Temperature *float64
	MaxTokens   *int
}

func (s Sampling) config() *model.GenerateConfig {
	return &model.GenerateConfig{Temperature: s.Temperature, MaxTokens: s.MaxTokens}
}

// complete renders prompt with data and sends a single-turn request.
func complete(ctx context.Context, llm model.LLM, prompt *Prompt, data any, cfg *model.GenerateConfig) (*model.Response, error) {
	system, user, err := prompt.Render(data)
	if err != nil {
		return nil, err
	}

	resp, err := llm.GenerateContent(ctx, &model.Request{
		SystemInstruction: system,
		Messages:          []model.Message{model.UserMessage(user)},
		Config:            cfg,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func toUsage(u *model.Usage) *refine.Usage {
	if u == nil {
		return nil
	}
	return &refine.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// scoreRange is embedded in evaluator prompt data.
type scoreRange struct {
	Min int
	Max int
}

var defaultRange = scoreRange{Min: refine.MinScore, Max: refine.MaxScore}
