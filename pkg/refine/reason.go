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

import "fmt"

// Reason explains why a run terminated.
type Reason string

const (
	ReasonQualityThresholdMet     Reason = "quality_threshold_met"
	ReasonMaxIterationsReached    Reason = "max_iterations_reached"
	ReasonEvaluatorSignaledStop   Reason = "evaluator_signaled_stop"
	ReasonFastTrackQualityMet     Reason = "fast_track_quality_met"
	ReasonFailed                  Reason = "failed"
	ReasonNeedsManualIntervention Reason = "needs_manual_intervention"
	ReasonCanceled                Reason = "canceled"
)

var reasons = map[Reason]string{
	ReasonQualityThresholdMet:     "Quality threshold met",
	ReasonMaxIterationsReached:    "Max iterations reached",
	ReasonEvaluatorSignaledStop:   "Evaluator signaled stop",
	ReasonFastTrackQualityMet:     "Fast track: quality met on first attempt",
	ReasonFailed:                  "Failed after exhausting retries",
	ReasonNeedsManualIntervention: "Needs manual intervention",
	ReasonCanceled:                "Canceled",
}

// Success reports whether the reason is one of the four success paths.
func (r Reason) Success() bool {
	switch r {
	case ReasonQualityThresholdMet, ReasonMaxIterationsReached,
		ReasonEvaluatorSignaledStop, ReasonFastTrackQualityMet:
		return true
	}
	return false
}

// Description returns a human readable sentence for reports.
func (r Reason) Description() string {
	if d, ok := reasons[r]; ok {
		return d
	}
	return string(r)
}

// ParseReason converts a stored reason back to its constant.
func ParseReason(s string) (Reason, error) {
	r := Reason(s)
	if _, ok := reasons[r]; !ok {
		return "", fmt.Errorf("unknown reason %q", s)
	}
	return r, nil
}
