package classify

import (
	"context"
	"fmt"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// Cascade Classifier
// =============================================================================

// Cascade runs the classification stages in cost-ascending order and stops at
// the first answer that clears its stage's confidence threshold. A message no
// stage can settle ends up unclassified, never dropped.
type Cascade struct {
	registry *Registry
	order    []domain.StageType
	log      *logger.Logger
}

// NewCascade creates a cascade over the registry's stages in standard order.
func NewCascade(registry *Registry, log *logger.Logger) *Cascade {
	if log == nil {
		log = logger.Default()
	}
	return &Cascade{
		registry: registry,
		order:    registry.Registered(),
		log:      log,
	}
}

// Classify runs the cascade for one message.
func (c *Cascade) Classify(ctx context.Context, msg *domain.Message) *domain.ClassificationResult {
	start := time.Now()
	attempted := 0

	for _, stageType := range c.order {
		stage, err := c.registry.Get(stageType)
		if err != nil {
			// Construction failed earlier in the process; the stage
			// stays unavailable and the cascade moves on.
			continue
		}

		attempted++
		result, err := stage.Classify(ctx, msg)
		if err != nil || result == nil {
			c.log.WithError(err).WithField("stage", stage.Name()).Warn("stage returned error")
			continue
		}

		if result.Conclusive(stage.Threshold()) {
			c.log.WithDuration(time.Since(start)).
				WithFields(map[string]any{
					"stage":      stage.Name(),
					"category":   result.Category,
					"confidence": result.Confidence,
				}).
				Debug("cascade settled")

			return &domain.ClassificationResult{
				Category:        result.Category,
				Confidence:      result.Confidence,
				Method:          stage.Name(),
				Explanation:     result.Explanation,
				RuleName:        result.RuleName,
				StagesAttempted: attempted,
			}
		}

		c.log.WithFields(map[string]any{
			"stage":      stage.Name(),
			"category":   result.Category,
			"confidence": result.Confidence,
			"threshold":  stage.Threshold(),
		}).Debug("stage below threshold, falling through")
	}

	return &domain.ClassificationResult{
		Category:        domain.CategoryUnclassified,
		Confidence:      0.0,
		Method:          domain.MethodCascade,
		Explanation:     "no stage produced a confident classification",
		StagesAttempted: attempted,
	}
}

// ClassifyWith runs a single stage selected by method name, for callers that
// want one strategy instead of the full cascade.
func (c *Cascade) ClassifyWith(ctx context.Context, msg *domain.Message, method string) (*domain.ClassificationResult, error) {
	stageType, ok := domain.ParseStageType(method)
	if !ok {
		return nil, fmt.Errorf("unknown classification method %q", method)
	}

	stage, err := c.registry.Get(stageType)
	if err != nil {
		return nil, err
	}

	result, err := stage.Classify(ctx, msg)
	if err != nil {
		return nil, err
	}

	return &domain.ClassificationResult{
		Category:        result.Category,
		Confidence:      result.Confidence,
		Method:          stage.Name(),
		Explanation:     result.Explanation,
		RuleName:        result.RuleName,
		StagesAttempted: 1,
	}, nil
}
