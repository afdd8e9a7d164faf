package classify

import (
	"context"
	"errors"
	"testing"

	"mailsort_server/core/domain"
	"mailsort_server/core/service/rules"
)

// fakeRuleRepo is an in-memory ClassifyRuleRepository.
type fakeRuleRepo struct {
	rules []domain.ClassificationRule
	err   error
}

func (r *fakeRuleRepo) ListActive(ctx context.Context) ([]domain.ClassificationRule, error) {
	return r.rules, r.err
}

func (r *fakeRuleRepo) ListCategories(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, rule := range r.rules {
		if !seen[rule.Category] {
			seen[rule.Category] = true
			out = append(out, rule.Category)
		}
	}
	return out, r.err
}

func TestRuleStageMatch(t *testing.T) {
	repo := &fakeRuleRepo{rules: []domain.ClassificationRule{
		{
			ID: 1, Name: "support mail", Category: "techsupport", Priority: 1,
			SubjectKeywords: []string{"help"}, IsActive: true,
		},
	}}
	stage := NewRuleStage(rules.NewEngine(nil), repo)

	result, err := stage.Classify(context.Background(), &domain.Message{Subject: "Please help with login"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Category != "techsupport" {
		t.Errorf("category = %q, want techsupport", result.Category)
	}
	if result.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 (rule hits are taken at face value)", result.Confidence)
	}
	if result.RuleName != "support mail" {
		t.Errorf("rule name = %q, want support mail", result.RuleName)
	}
	if !result.Conclusive(stage.Threshold()) {
		t.Error("rule hit must be conclusive at the rule threshold")
	}
}

func TestRuleStageNoMatchFallsThrough(t *testing.T) {
	repo := &fakeRuleRepo{rules: []domain.ClassificationRule{
		{ID: 1, Name: "r", Category: "purchase", Priority: 1, SubjectKeywords: []string{"order"}, IsActive: true},
	}}
	stage := NewRuleStage(rules.NewEngine(nil), repo)

	result, err := stage.Classify(context.Background(), &domain.Message{Subject: "unrelated"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Category != domain.CategoryUnclassified {
		t.Errorf("category = %q, want unclassified", result.Category)
	}
	if result.Conclusive(stage.Threshold()) {
		t.Error("no-match result must not be conclusive")
	}
}

func TestRuleStageRepositoryErrorDegrades(t *testing.T) {
	stage := NewRuleStage(rules.NewEngine(nil), &fakeRuleRepo{err: errors.New("connection refused")})

	result, err := stage.Classify(context.Background(), &domain.Message{})
	if err != nil {
		t.Fatalf("stage must not surface errors, got %v", err)
	}
	if result.Category != domain.CategoryUnknown {
		t.Errorf("category = %q, want unknown", result.Category)
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
}
