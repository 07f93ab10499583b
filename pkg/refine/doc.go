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

// Package refine implements the iterative refinement controller.
//
// A run generates an artifact, evaluates it on one or more criteria and
// decides whether to refine it again using the evaluation as feedback.
// The aggregate score of an evaluation is its lowest criterion score, so the
// weakest dimension gates completion.
//
// Example:
//
//	ctrl, err := refine.New(generator, evaluator, refine.Policy{
//	    QualityThreshold:      8,
//	    MaxIterations:         3,
//	    AllowImmediateSuccess: true,
//	    Selection:             refine.SelectBestSeen,
//	})
//	if err != nil {
//	    return err // *refine.PolicyViolation
//	}
//	result, err := ctrl.Run(ctx, refine.Task{Description: "add two numbers"})
//
// Collaborator failures never surface as errors from Run. They are retried
// within the policy's budget and otherwise reported through
// RunResult.Reason as ReasonFailed or ReasonNeedsManualIntervention.
package refine
