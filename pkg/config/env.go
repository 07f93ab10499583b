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


package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// apiKeyEnv lists the environment variables searched per provider, in order.
var apiKeyEnv = map[LLMProvider][]string{
	LLMProviderAnthropic: {"ANTHROPIC_API_KEY"},
	LLMProviderOpenAI:    {"OPENAI_API_KEY"},
	LLMProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// LoadEnvFiles loads .env.local then .env from the working directory.
// Variables already set are not overridden; missing files are skipped.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// GetProviderAPIKey returns the API key for a provider from the environment.
func GetProviderAPIKey(providerType string) string {
	for _, name := range apiKeyEnv[LLMProvider(providerType)] {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// DetectProvider picks a provider from the API keys in the environment,
// preferring OpenAI, then Anthropic, then Gemini.
func DetectProvider() LLMProvider {
	for _, p := range []LLMProvider{LLMProviderOpenAI, LLMProviderAnthropic, LLMProviderGemini} {
		if GetProviderAPIKey(string(p)) != "" {
			return p
		}
	}
	return LLMProviderOpenAI
}
