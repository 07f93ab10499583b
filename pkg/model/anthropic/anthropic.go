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

// Package anthropic provides an Anthropic Claude LLM implementation over the
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/refinery/pkg/httpclient"
	"github.com/kadirpekel/refinery/pkg/model"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	TLS         *httpclient.TLSConfig
}

// Client is an Anthropic LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	opts := []httpclient.Option{
		httpclient.WithTimeout(timeout),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	}
	if !cfg.TLS.Empty() {
		transport, err := httpclient.ConfigureTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpclient.WithTransport(transport))
	}

	return &Client{
		httpClient:  httpclient.New(opts...),
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderAnthropic
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// GenerateContent performs one non-streaming Messages API call.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request) (*model.Response, error) {
	apiReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return parseResponse(&apiResp)
}

// buildRequest creates an API request. The Messages API has no native
// response schema, so a requested schema is appended to the system prompt.
func (c *Client) buildRequest(req *model.Request) (*apiRequest, error) {
	apiReq := &apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    req.SystemInstruction,
	}
	if c.temperature != nil {
		apiReq.Temperature = c.temperature
	}

	if cfg := req.Config; cfg != nil {
		if cfg.MaxTokens != nil {
			apiReq.MaxTokens = *cfg.MaxTokens
		}
		if cfg.Temperature != nil {
			apiReq.Temperature = cfg.Temperature
		}
		apiReq.TopP = cfg.TopP
		apiReq.StopSequences = cfg.StopSequences

		if cfg.ResponseSchema != nil {
			schema, err := json.Marshal(cfg.ResponseSchema)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal response schema: %w", err)
			}
			instruction := "Respond only with a JSON object that conforms to this JSON schema:\n" + string(schema)
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += instruction
		}
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, apiMessage{
			Role:    string(msg.Role),
			Content: []apiContent{{Type: "text", Text: msg.Content}},
		})
	}

	return apiReq, nil
}

func parseResponse(resp *apiResponse) (*model.Response, error) {
	var text strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	finish := "stop"
	if resp.StopReason == "max_tokens" {
		finish = "length"
	}

	return &model.Response{
		Content:      text.String(),
		FinishReason: finish,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// API types

type apiRequest struct {
	Model         string       `json:"model"`
	Messages      []apiMessage `json:"messages"`
	MaxTokens     int          `json:"max_tokens"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	System        string       `json:"system,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
