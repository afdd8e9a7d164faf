package classify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mailsort_server/core/domain"
)

// fakeStage is a scripted stage for cascade tests.
type fakeStage struct {
	name      string
	stageType domain.StageType
	threshold float64
	result    *StageResult
	err       error
	calls     int
}

func (s *fakeStage) Name() string           { return s.name }
func (s *fakeStage) Type() domain.StageType { return s.stageType }
func (s *fakeStage) Threshold() float64     { return s.threshold }
func (s *fakeStage) Classify(ctx context.Context, msg *domain.Message) (*StageResult, error) {
	s.calls++
	return s.result, s.err
}

func factoriesFor(stages ...*fakeStage) map[domain.StageType]StageFactory {
	factories := make(map[domain.StageType]StageFactory)
	for _, s := range stages {
		stage := s
		factories[stage.stageType] = func() (Stage, error) { return stage, nil }
	}
	return factories
}

func TestCascadeStopsAtFirstConclusiveStage(t *testing.T) {
	rule := &fakeStage{
		name: "rule", stageType: domain.StageRule, threshold: 1.0,
		result: &StageResult{Category: "purchase", Confidence: 1.0, RuleName: "order rule"},
	}
	fasttext := &fakeStage{
		name: "fasttext", stageType: domain.StageFastText, threshold: 0.95,
		result: &StageResult{Category: "techsupport", Confidence: 0.99},
	}

	cascade := NewCascade(NewRegistry(factoriesFor(rule, fasttext), nil), nil)
	result := cascade.Classify(context.Background(), &domain.Message{Subject: "order"})

	if result.Category != "purchase" {
		t.Errorf("category = %q, want purchase", result.Category)
	}
	if result.Method != "rule" {
		t.Errorf("method = %q, want rule", result.Method)
	}
	if result.RuleName != "order rule" {
		t.Errorf("rule name = %q, want order rule", result.RuleName)
	}
	if result.StagesAttempted != 1 {
		t.Errorf("stages attempted = %d, want 1", result.StagesAttempted)
	}
	if fasttext.calls != 0 {
		t.Errorf("fasttext stage ran %d times, want 0", fasttext.calls)
	}
}

func TestCascadeFallsThroughBelowThreshold(t *testing.T) {
	rule := &fakeStage{
		name: "rule", stageType: domain.StageRule, threshold: 1.0,
		result: &StageResult{Category: domain.CategoryUnclassified, Confidence: 0.0, Explanation: "no rule matched"},
	}
	fasttext := &fakeStage{
		name: "fasttext", stageType: domain.StageFastText, threshold: 0.95,
		result: &StageResult{Category: "purchase", Confidence: 0.80}, // confident-ish but below 0.95
	}
	bert := &fakeStage{
		name: "bert", stageType: domain.StageBERT, threshold: 0.90,
		result: &StageResult{Category: "purchase", Confidence: 0.93},
	}

	cascade := NewCascade(NewRegistry(factoriesFor(rule, fasttext, bert), nil), nil)
	result := cascade.Classify(context.Background(), &domain.Message{})

	if result.Category != "purchase" {
		t.Errorf("category = %q, want purchase", result.Category)
	}
	if result.Method != "bert" {
		t.Errorf("method = %q, want bert", result.Method)
	}
	if result.StagesAttempted != 3 {
		t.Errorf("stages attempted = %d, want 3", result.StagesAttempted)
	}
}

func TestCascadeTerminalUnclassified(t *testing.T) {
	stages := []*fakeStage{
		{name: "rule", stageType: domain.StageRule, threshold: 1.0,
			result: &StageResult{Category: domain.CategoryUnclassified, Confidence: 0.0}},
		{name: "fasttext", stageType: domain.StageFastText, threshold: 0.95,
			result: &StageResult{Category: "purchase", Confidence: 0.5}},
		{name: "bert", stageType: domain.StageBERT, threshold: 0.90,
			result: &StageResult{Category: domain.CategoryUnknown, Confidence: 0.0, Explanation: "Error: model server down"}},
		{name: "llm", stageType: domain.StageLLM, threshold: 0.95,
			result: &StageResult{Category: "festival", Confidence: 0.6}},
	}

	cascade := NewCascade(NewRegistry(factoriesFor(stages...), nil), nil)
	result := cascade.Classify(context.Background(), &domain.Message{})

	if result.Category != domain.CategoryUnclassified {
		t.Errorf("category = %q, want unclassified", result.Category)
	}
	if result.Method != domain.MethodCascade {
		t.Errorf("method = %q, want %q", result.Method, domain.MethodCascade)
	}
	if result.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0", result.Confidence)
	}
	if result.StagesAttempted != 4 {
		t.Errorf("stages attempted = %d, want 4", result.StagesAttempted)
	}
	for _, s := range stages {
		if s.calls != 1 {
			t.Errorf("stage %s ran %d times, want 1", s.name, s.calls)
		}
	}
}

func TestCascadeSkipsUnavailableStage(t *testing.T) {
	factories := factoriesFor(&fakeStage{
		name: "llm", stageType: domain.StageLLM, threshold: 0.95,
		result: &StageResult{Category: "purchase", Confidence: 0.99},
	})
	factories[domain.StageFastText] = func() (Stage, error) {
		return nil, errors.New("FASTTEXT_URL not configured")
	}

	cascade := NewCascade(NewRegistry(factories, nil), nil)
	result := cascade.Classify(context.Background(), &domain.Message{})

	if result.Category != "purchase" {
		t.Errorf("category = %q, want purchase (from llm)", result.Category)
	}
	if result.StagesAttempted != 1 {
		t.Errorf("stages attempted = %d, want 1 (failed stage does not count)", result.StagesAttempted)
	}
}

func TestCascadeErrorCategoryNeverConclusive(t *testing.T) {
	stage := &fakeStage{
		name: "fasttext", stageType: domain.StageFastText, threshold: 0.5,
		result: &StageResult{Category: domain.CategoryError, Confidence: 1.0},
	}
	cascade := NewCascade(NewRegistry(factoriesFor(stage), nil), nil)
	result := cascade.Classify(context.Background(), &domain.Message{})

	if result.Category != domain.CategoryUnclassified {
		t.Errorf("category = %q, want unclassified", result.Category)
	}
}

func TestClassifyWithSingleStage(t *testing.T) {
	fasttext := &fakeStage{
		name: "fasttext", stageType: domain.StageFastText, threshold: 0.95,
		result: &StageResult{Category: "purchase", Confidence: 0.42},
	}
	cascade := NewCascade(NewRegistry(factoriesFor(fasttext), nil), nil)

	// Single-stage calls report the raw answer even below threshold.
	result, err := cascade.ClassifyWith(context.Background(), &domain.Message{}, "fasttext")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Category != "purchase" || result.Confidence != 0.42 {
		t.Errorf("result = %q/%v, want purchase/0.42", result.Category, result.Confidence)
	}
	if result.StagesAttempted != 1 {
		t.Errorf("stages attempted = %d, want 1", result.StagesAttempted)
	}

	if _, err := cascade.ClassifyWith(context.Background(), &domain.Message{}, "bayes"); err == nil {
		t.Error("expected error for unknown method, got nil")
	}
}

func TestRegistryConstructsOnce(t *testing.T) {
	var constructions int
	var mu sync.Mutex
	factories := map[domain.StageType]StageFactory{
		domain.StageRule: func() (Stage, error) {
			mu.Lock()
			constructions++
			mu.Unlock()
			return &fakeStage{name: "rule", stageType: domain.StageRule, threshold: 1.0}, nil
		},
	}
	registry := NewRegistry(factories, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := registry.Get(domain.StageRule); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if constructions != 1 {
		t.Errorf("factory ran %d times, want 1", constructions)
	}
}

func TestRegistryCachesFailure(t *testing.T) {
	var constructions int
	factories := map[domain.StageType]StageFactory{
		domain.StageBERT: func() (Stage, error) {
			constructions++
			return nil, errors.New("BERT_URL not configured")
		},
	}
	registry := NewRegistry(factories, nil)

	for i := 0; i < 3; i++ {
		if _, err := registry.Get(domain.StageBERT); err == nil {
			t.Fatal("expected error, got nil")
		}
	}
	if constructions != 1 {
		t.Errorf("factory ran %d times, want 1 (failure should be cached)", constructions)
	}

	if _, err := registry.Get(domain.StageLLM); err == nil {
		t.Error("expected error for unregistered stage, got nil")
	}
}

func TestRegisteredFollowsCascadeOrder(t *testing.T) {
	factories := factoriesFor(
		&fakeStage{name: "llm", stageType: domain.StageLLM},
		&fakeStage{name: "rule", stageType: domain.StageRule},
		&fakeStage{name: "bert", stageType: domain.StageBERT},
	)
	got := NewRegistry(factories, nil).Registered()
	want := []domain.StageType{domain.StageRule, domain.StageBERT, domain.StageLLM}
	if len(got) != len(want) {
		t.Fatalf("registered = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("registered[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
