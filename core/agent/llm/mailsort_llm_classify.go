package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// ClassificationResponse is the JSON shape the model is instructed to
// produce. Some completions use "score" instead of "confidence"; a missing
// value reads as 0.0.
type ClassificationResponse struct {
	Category    string   `json:"category"`
	Confidence  *float64 `json:"confidence"`
	Score       *float64 `json:"score"`
	Explanation string   `json:"explanation"`
}

// EffectiveConfidence resolves the score/confidence split. Score wins when
// both are present.
func (r *ClassificationResponse) EffectiveConfidence() float64 {
	if r.Score != nil {
		return *r.Score
	}
	if r.Confidence != nil {
		return *r.Confidence
	}
	return 0.0
}

// ClassifyEmail asks the model to pick one of the given categories for the
// message. Categories come from the active rule set so the prompt always
// reflects what the rest of the pipeline can route.
func (c *Client) ClassifyEmail(ctx context.Context, subject, body, from string, categories []string) (*ClassificationResponse, error) {
	if len(categories) == 0 {
		categories = []string{"unclassified"}
	}

	systemPrompt := fmt.Sprintf(`You are an email classification AI. Analyze the email and respond with JSON only.

Categories (pick exactly ONE): %s

If none of the categories fit, use "unclassified".

Respond with this exact JSON format:
{
  "category": "category_name",
  "confidence": 0.0-1.0,
  "explanation": "brief reason for the choice"
}`, strings.Join(categories, ", "))

	userPrompt := fmt.Sprintf("From: %s\nSubject: %s\n\nBody:\n%s", from, subject, truncateBody(body, 2000))

	resp, err := c.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	// Parse JSON response
	var result ClassificationResponse
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	return &result, nil
}

func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen] + "..."
}
