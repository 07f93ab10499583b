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

// Package model defines the LLM interface used by the refinement agents.
//
// Calls are single-shot: one Request yields one complete Response.
package model

import (
	"context"
	"maps"
)

// LLM is the interface for language models.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Provider returns the provider type (e.g., "openai", "anthropic", "gemini").
	Provider() Provider

	// GenerateContent produces one complete response for the request.
	GenerateContent(ctx context.Context, req *Request) (*Response, error)

	// Close releases any resources held by the LLM.
	Close() error
}

// Provider identifies the LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderUnknown   Provider = "unknown"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Content string
}

// UserMessage is shorthand for a single user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Request contains the input for an LLM call.
type Request struct {
	// Messages is the conversation history.
	Messages []Message

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// TopP controls nucleus sampling.
	TopP *float64

	// StopSequences terminates generation.
	StopSequences []string

	// ResponseMIMEType for structured output (e.g., "application/json").
	ResponseMIMEType string

	// ResponseSchema for structured output.
	ResponseSchema map[string]any

	// ResponseSchemaName identifies the schema for providers that require it.
	// Default: "response"
	ResponseSchemaName string

	// ResponseSchemaStrict enables strict schema validation.
	// Default: true (nil means true)
	ResponseSchemaStrict *bool
}

// Clone returns a deep copy of the config.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	out := *c
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		out.MaxTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		out.TopP = &v
	}
	if c.ResponseSchemaStrict != nil {
		v := *c.ResponseSchemaStrict
		out.ResponseSchemaStrict = &v
	}
	out.StopSequences = append([]string(nil), c.StopSequences...)
	out.ResponseSchema = maps.Clone(c.ResponseSchema)
	return &out
}

// SchemaName returns the configured schema name or "response".
func (c *GenerateConfig) SchemaName() string {
	if c == nil || c.ResponseSchemaName == "" {
		return "response"
	}
	return c.ResponseSchemaName
}

// SchemaStrict reports whether strict schema mode is on (default true).
func (c *GenerateConfig) SchemaStrict() bool {
	if c == nil || c.ResponseSchemaStrict == nil {
		return true
	}
	return *c.ResponseSchemaStrict
}

// Response is a complete model reply. Content is empty when the model
// finished without producing text; clients do not treat that as an error.
type Response struct {
	Content      string
	FinishReason string
	Usage        *Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
