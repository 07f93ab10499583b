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


// Package observability wires OpenTelemetry tracing and Prometheus metrics
// into refinement runs and the HTTP API.
package observability

const (
	DefaultServiceName  = "refinery"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)

// Span names.
const (
	SpanRun         = "refinery.run"
	SpanGenerate    = "refinery.generate"
	SpanEvaluate    = "refinery.evaluate"
	SpanHTTPRequest = "http.request"
)

// Attribute keys.
const (
	AttrRunID          = "refinery.run_id"
	AttrTaskID         = "refinery.task_id"
	AttrTaskPrompt     = "refinery.task.description"
	AttrIteration      = "refinery.iteration"
	AttrStep           = "refinery.step"
	AttrAggregate      = "refinery.evaluation.aggregate"
	AttrFallback       = "refinery.evaluation.fallback"
	AttrStop           = "refinery.evaluation.stop"
	AttrSummary        = "refinery.evaluation.summary"
	AttrReason         = "refinery.reason"
	AttrIterationCount = "refinery.iteration_count"
	AttrRetries        = "refinery.retries"
	AttrFinalScore     = "refinery.final_score"

	AttrHTTPMethod       = "http.request.method"
	AttrHTTPRoute        = "http.route"
	AttrHTTPStatusCode   = "http.response.status_code"
	AttrHTTPResponseSize = "http.response.body.size"

	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)
