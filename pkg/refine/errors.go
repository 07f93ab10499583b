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

package refine

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is matching.
var (
	ErrGeneration      = errors.New("generation failed")
	ErrEvaluation      = errors.New("evaluation failed")
	ErrEvaluationParse = errors.New("evaluation output could not be parsed")
	ErrPolicy          = errors.New("invalid termination policy")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrRetriesExceeded = errors.New("retries exhausted")
)

// GenerationError is returned by a Generator that could not produce an Artifact.
type GenerationError struct {
	Iteration int
	Err       error
}

// NewGenerationError wraps err as a generation failure.
func NewGenerationError(iteration int, err error) *GenerationError {
	return &GenerationError{Iteration: iteration, Err: err}
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation failed at iteration %d", e.Iteration)
	}
	return fmt.Sprintf("generation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// EvaluationError is returned when the evaluator call itself failed.
type EvaluationError struct {
	Evaluator string
	Err       error
}

func (e *EvaluationError) Error() string {
	name := e.Evaluator
	if name == "" {
		name = "evaluator"
	}
	if e.Err == nil {
		return name + " failed"
	}
	return fmt.Sprintf("%s failed: %v", name, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool { return target == ErrEvaluation }

// ParseError is returned when evaluator output cannot be mapped to scores.
// Criteria lists the names the evaluator expected so a neutral Evaluation
// can cover them.
type ParseError struct {
	Raw      string
	Criteria []string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return ErrEvaluationParse.Error()
	}
	return fmt.Sprintf("%s: %v", ErrEvaluationParse.Error(), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrEvaluationParse }

// PolicyViolation lists every inconsistency found in a Policy.
type PolicyViolation struct {
	Problems []string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("%s: %s", ErrPolicy.Error(), strings.Join(e.Problems, "; "))
}

func (e *PolicyViolation) Is(target error) bool { return target == ErrPolicy }

// IsParseError reports whether err carries an evaluator parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
