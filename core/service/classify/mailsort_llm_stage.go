package classify

import (
	"context"
	"sort"

	"mailsort_server/core/agent/llm"
	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// LLM Stage
// =============================================================================

// LLMStage classifies through the remote language model. It is the most
// expensive stage and runs last in the cascade. The category list offered to
// the model is loaded from the active rule set per call, so newly added rule
// categories become routable without a restart.
type LLMStage struct {
	client    *llm.Client
	ruleRepo  out.ClassifyRuleRepository
	threshold float64
	log       *logger.Logger
}

var _ Stage = (*LLMStage)(nil)

// NewLLMStage creates an LLM stage.
func NewLLMStage(client *llm.Client, ruleRepo out.ClassifyRuleRepository, threshold float64, log *logger.Logger) *LLMStage {
	if log == nil {
		log = logger.Default()
	}
	if threshold == 0 {
		threshold = 0.95
	}
	return &LLMStage{
		client:    client,
		ruleRepo:  ruleRepo,
		threshold: threshold,
		log:       log,
	}
}

func (s *LLMStage) Name() string           { return domain.MethodLLM }
func (s *LLMStage) Type() domain.StageType { return domain.StageLLM }
func (s *LLMStage) Threshold() float64     { return s.threshold }

// Classify asks the model for a category. API and parse failures degrade to
// unknown/0.0 instead of failing the pipeline.
func (s *LLMStage) Classify(ctx context.Context, msg *domain.Message) (*StageResult, error) {
	categories := s.loadCategories(ctx)

	resp, err := s.client.ClassifyEmail(ctx, msg.Subject, msg.Body, msg.Sender, categories)
	if err != nil {
		s.log.WithError(err).Warn("llm classification failed")
		return degraded(err), nil
	}

	category := resp.Category
	if category == "" {
		category = domain.CategoryUnknown
	}

	return &StageResult{
		Category:    category,
		Confidence:  clamp01(resp.EffectiveConfidence()),
		Explanation: resp.Explanation,
	}, nil
}

// loadCategories returns the distinct active-rule categories plus the
// unclassified fallback, sorted for a stable prompt.
func (s *LLMStage) loadCategories(ctx context.Context) []string {
	categories, err := s.ruleRepo.ListCategories(ctx)
	if err != nil {
		s.log.WithError(err).Warn("falling back to default categories")
		return []string{"purchase", "techsupport", "festival", domain.CategoryUnclassified}
	}

	seen := map[string]bool{domain.CategoryUnclassified: true}
	out := []string{domain.CategoryUnclassified}
	for _, c := range categories {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
