package classify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"mailsort_server/core/domain"
)

func newTestModelStage(t *testing.T, handler http.HandlerFunc) *ModelStage {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewModelStage(ModelStageConfig{
		Name:      "fasttext",
		Type:      domain.StageFastText,
		BaseURL:   server.URL,
		Threshold: 0.95,
	}, nil)
}

func TestModelStagePredict(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		wantCategory   string
		wantConfidence float64
	}{
		{
			name:           "category with score",
			response:       `{"category":"purchase","score":0.97}`,
			wantCategory:   "purchase",
			wantConfidence: 0.97,
		},
		{
			name:           "numeric label mapped to category",
			response:       `{"label":2,"score":0.91}`,
			wantCategory:   "techsupport",
			wantConfidence: 0.91,
		},
		{
			name:           "confidence field when score absent",
			response:       `{"category":"festival","confidence":0.88}`,
			wantCategory:   "festival",
			wantConfidence: 0.88,
		},
		{
			name:           "score wins over confidence",
			response:       `{"category":"purchase","score":0.7,"confidence":0.99}`,
			wantCategory:   "purchase",
			wantConfidence: 0.7,
		},
		{
			name:           "missing score and confidence reads as zero",
			response:       `{"category":"purchase"}`,
			wantCategory:   "purchase",
			wantConfidence: 0.0,
		},
		{
			name:           "out of range score is clamped",
			response:       `{"category":"purchase","score":1.7}`,
			wantCategory:   "purchase",
			wantConfidence: 1.0,
		},
		{
			name:           "unknown label falls back to unknown category",
			response:       `{"label":9,"score":0.99}`,
			wantCategory:   domain.CategoryUnknown,
			wantConfidence: 0.99,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage := newTestModelStage(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/predict" {
					t.Errorf("path = %q, want /predict", r.URL.Path)
				}
				var req predictRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("request body did not decode: %v", err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.response))
			})

			result, err := stage.Classify(context.Background(), &domain.Message{
				Subject: "test", Body: "body", Sender: "a@b.com",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Category != tt.wantCategory {
				t.Errorf("category = %q, want %q", result.Category, tt.wantCategory)
			}
			if result.Confidence != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", result.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestModelStageDegradesOnServerError(t *testing.T) {
	stage := newTestModelStage(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

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
	if result.Explanation == "" {
		t.Error("expected an error explanation, got empty string")
	}
}

func TestModelStageDegradesOnUnreachableServer(t *testing.T) {
	stage := NewModelStage(ModelStageConfig{
		Name:      "bert",
		Type:      domain.StageBERT,
		BaseURL:   "http://127.0.0.1:1", // nothing listens here
		Threshold: 0.9,
	}, nil)

	result, err := stage.Classify(context.Background(), &domain.Message{})
	if err != nil {
		t.Fatalf("stage must not surface errors, got %v", err)
	}
	if result.Conclusive(stage.Threshold()) {
		t.Error("degraded result must not be conclusive")
	}
}

func TestStageResultConclusive(t *testing.T) {
	tests := []struct {
		name      string
		result    *StageResult
		threshold float64
		want      bool
	}{
		{"nil result", nil, 0.5, false},
		{"empty category", &StageResult{Category: "", Confidence: 1.0}, 0.5, false},
		{"unknown category", &StageResult{Category: domain.CategoryUnknown, Confidence: 1.0}, 0.5, false},
		{"error category", &StageResult{Category: domain.CategoryError, Confidence: 1.0}, 0.5, false},
		{"below threshold", &StageResult{Category: "purchase", Confidence: 0.94}, 0.95, false},
		{"at threshold", &StageResult{Category: "purchase", Confidence: 0.95}, 0.95, true},
		{"above threshold", &StageResult{Category: "purchase", Confidence: 0.99}, 0.95, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Conclusive(tt.threshold); got != tt.want {
				t.Errorf("conclusive = %v, want %v", got, tt.want)
			}
		})
	}
}
