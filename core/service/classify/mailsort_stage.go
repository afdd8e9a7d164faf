// Package classify implements the staged email classification cascade.
package classify

import (
	"context"
	"fmt"

	"mailsort_server/core/domain"
)

// =============================================================================
// Classification Stage
// =============================================================================

// Stage is one classification strategy in the cascade. Implementations never
// panic the pipeline: a failing stage degrades to an unknown result with
// confidence 0 and an error explanation, so the cascade can move on.
type Stage interface {
	// Name returns the stage's method name as recorded on messages.
	Name() string

	// Type returns the stage's position in the closed strategy set.
	Type() domain.StageType

	// Threshold is the minimum confidence at which this stage's answer is
	// accepted as final by the cascade.
	Threshold() float64

	// Classify classifies a single message. The returned result is never
	// nil on a nil error.
	Classify(ctx context.Context, msg *domain.Message) (*StageResult, error)
}

// StageResult is one stage's answer for one message.
type StageResult struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
	RuleName    string  `json:"rule_name,omitempty"`
}

// Conclusive reports whether the result settles the message at the given
// threshold. Unknown and error answers are never conclusive.
func (r *StageResult) Conclusive(threshold float64) bool {
	if r == nil {
		return false
	}
	if r.Category == "" || r.Category == domain.CategoryUnknown || r.Category == domain.CategoryError {
		return false
	}
	return r.Confidence >= threshold
}

// degraded builds the unknown/0.0 result a stage reports when its backend
// fails.
func degraded(err error) *StageResult {
	return &StageResult{
		Category:    domain.CategoryUnknown,
		Confidence:  0.0,
		Explanation: fmt.Sprintf("Error: %v", err),
	}
}
