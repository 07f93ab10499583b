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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseAnthropicHeaders extracts rate limit info from Anthropic API headers.
// Reset headers are RFC3339 timestamps.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: parseRetryAfter(headers.Get("retry-after"))}

	for _, h := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if t, err := time.Parse(time.RFC3339, headers.Get(h)); err == nil {
			info.ResetTime = t.Unix()
			break
		}
	}

	info.RequestsRemaining = parseCount(headers.Get("anthropic-ratelimit-requests-remaining"))
	info.InputTokensRemaining = parseCount(headers.Get("anthropic-ratelimit-input-tokens-remaining"))
	info.OutputTokensRemaining = parseCount(headers.Get("anthropic-ratelimit-output-tokens-remaining"))
	return info
}

// ParseOpenAIHeaders extracts rate limit info from OpenAI API headers.
// Reset headers are unix seconds; the tokens reset takes precedence.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: parseRetryAfter(headers.Get("Retry-After"))}

	for _, h := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		if v, err := strconv.ParseInt(headers.Get(h), 10, 64); err == nil {
			info.ResetTime = v
			break
		}
	}

	info.RequestsRemaining = parseCount(headers.Get("x-ratelimit-remaining-requests"))
	info.TokensRemaining = parseCount(headers.Get("x-ratelimit-remaining-tokens"))
	return info
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func parseCount(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
