package classify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"mailsort_server/core/domain"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// Model Stage (fastText / BERT HTTP model servers)
// =============================================================================

// DefaultLabelMap maps the trained models' numeric labels to category names.
var DefaultLabelMap = map[int]string{
	1: "purchase",
	2: "techsupport",
	3: "festival",
}

// ModelStageConfig configures one HTTP model server stage.
type ModelStageConfig struct {
	Name      string // "fasttext" or "bert"
	Type      domain.StageType
	BaseURL   string
	Threshold float64
	Timeout   time.Duration
	LabelMap  map[int]string
}

// ModelStage classifies by calling a trained model served over HTTP. The
// server is expected to answer POST /predict with a label and a score.
// Calls go through a circuit breaker so a dead model server fails fast
// instead of stalling every monitor check.
type ModelStage struct {
	name      string
	stageType domain.StageType
	baseURL   string
	threshold float64
	labelMap  map[int]string
	client    *http.Client
	cb        *gobreaker.CircuitBreaker
	log       *logger.Logger
}

var _ Stage = (*ModelStage)(nil)

// NewModelStage creates a model server stage.
func NewModelStage(cfg ModelStageConfig, log *logger.Logger) *ModelStage {
	if log == nil {
		log = logger.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	labelMap := cfg.LabelMap
	if labelMap == nil {
		labelMap = DefaultLabelMap
	}

	cbSettings := gobreaker.Settings{
		Name:        cfg.Name + "-model",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("breaker", name).Warn("circuit breaker state changed from %s to %s", from.String(), to.String())
		},
	}

	return &ModelStage{
		name:      cfg.Name,
		stageType: cfg.Type,
		baseURL:   cfg.BaseURL,
		threshold: cfg.Threshold,
		labelMap:  labelMap,
		client:    &http.Client{Timeout: timeout},
		cb:        gobreaker.NewCircuitBreaker(cbSettings),
		log:       log,
	}
}

func (s *ModelStage) Name() string           { return s.name }
func (s *ModelStage) Type() domain.StageType { return s.stageType }
func (s *ModelStage) Threshold() float64     { return s.threshold }

// predictRequest is the model server request body.
type predictRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Sender  string `json:"sender"`
}

// predictResponse is the model server answer. Some deployments report
// "score", others "confidence"; a missing value reads as 0.0.
type predictResponse struct {
	Label      *int     `json:"label"`
	Category   string   `json:"category"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
}

// Classify sends the message to the model server. Any transport, protocol or
// breaker failure degrades to unknown/0.0 so the cascade falls through.
func (s *ModelStage) Classify(ctx context.Context, msg *domain.Message) (*StageResult, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.predict(ctx, msg)
	})
	if err != nil {
		s.log.WithError(err).WithField("stage", s.name).Warn("model prediction failed")
		return degraded(err), nil
	}
	return result.(*StageResult), nil
}

func (s *ModelStage) predict(ctx context.Context, msg *domain.Message) (*StageResult, error) {
	payload, err := json.Marshal(predictRequest{
		Subject: msg.Subject,
		Body:    msg.Body,
		Sender:  msg.Sender,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server %s returned status %d", s.name, resp.StatusCode)
	}

	var pr predictResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}

	category := pr.Category
	if category == "" && pr.Label != nil {
		category = s.labelMap[*pr.Label]
	}
	if category == "" {
		category = domain.CategoryUnknown
	}

	return &StageResult{
		Category:    category,
		Confidence:  normalizeConfidence(pr.Score, pr.Confidence),
		Explanation: fmt.Sprintf("%s model prediction", s.name),
	}, nil
}

// normalizeConfidence reads whichever of score/confidence the server sent.
// Score wins when both are present; absence means 0.0.
func normalizeConfidence(score, confidence *float64) float64 {
	if score != nil {
		return clamp01(*score)
	}
	if confidence != nil {
		return clamp01(*confidence)
	}
	return 0.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
