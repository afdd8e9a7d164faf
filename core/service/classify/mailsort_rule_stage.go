package classify

import (
	"context"
	"fmt"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/core/service/rules"
)

// =============================================================================
// Rule Stage
// =============================================================================

// RuleStage classifies using the user-authored rule set. A rule hit is taken
// at face value, so the stage reports full confidence and the cascade always
// accepts it.
type RuleStage struct {
	engine   *rules.Engine
	ruleRepo out.ClassifyRuleRepository
}

var _ Stage = (*RuleStage)(nil)

// NewRuleStage creates a rule stage.
func NewRuleStage(engine *rules.Engine, ruleRepo out.ClassifyRuleRepository) *RuleStage {
	return &RuleStage{
		engine:   engine,
		ruleRepo: ruleRepo,
	}
}

func (s *RuleStage) Name() string           { return domain.MethodRule }
func (s *RuleStage) Type() domain.StageType { return domain.StageRule }
func (s *RuleStage) Threshold() float64     { return 1.0 }

// Classify evaluates the active rules against the message. No rule matching
// is a valid outcome and comes back as unclassified with zero confidence, so
// the cascade falls through to the model stages.
func (s *RuleStage) Classify(ctx context.Context, msg *domain.Message) (*StageResult, error) {
	ruleSet, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return degraded(err), nil
	}

	match := s.engine.Evaluate(msg, ruleSet)
	if match == nil {
		return &StageResult{
			Category:    domain.CategoryUnclassified,
			Confidence:  0.0,
			Explanation: "no rule matched",
		}, nil
	}

	return &StageResult{
		Category:    match.Rule.Category,
		Confidence:  1.0,
		Explanation: fmt.Sprintf("rule %q matched by %s (%s)", match.Rule.Name, match.MatchedBy, match.Detail),
		RuleName:    match.Rule.Name,
	}, nil
}
