package domain

import (
	"time"
)

// =============================================================================
// Message
// =============================================================================

// Message represents a single mailbox message as fetched from the remote
// provider. Identity (MessageID, MailboxID) is immutable; the classification
// and forwarding fields are written exactly once by the processing pipeline.
type Message struct {
	ID        int64  `json:"id"`
	MailboxID int64  `json:"mailbox_id"`
	MessageID string `json:"message_id"` // provider message id

	Subject              string    `json:"subject"`
	Sender               string    `json:"sender"`
	Body                 string    `json:"body"`
	ReceivedAt           time.Time `json:"received_at"`
	Importance           string    `json:"importance"`
	HasAttachments       bool      `json:"has_attachments"`
	AttachmentCount      int       `json:"attachment_count"`
	AttachmentTotalBytes int64     `json:"attachment_total_bytes"`

	// Classification outcome. Category is nil until the message has been
	// classified; once IsProcessed is true, Category and Method are set.
	Category    *string    `json:"category,omitempty"`
	Method      *string    `json:"classification_method,omitempty"`
	Confidence  float64    `json:"confidence"`
	Explanation string     `json:"explanation,omitempty"`
	MatchedRule *string    `json:"matched_rule,omitempty"`
	IsProcessed bool       `json:"is_processed"`
	IsForwarded bool       `json:"is_forwarded"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SenderDomain returns the lowercased domain part of the sender address,
// or "" when the sender is not a plain address.
func (m *Message) SenderDomain() string {
	for i := 0; i < len(m.Sender); i++ {
		if m.Sender[i] == '@' {
			return lower(m.Sender[i+1:])
		}
	}
	return ""
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// ApplyClassification stamps a classification result onto the message and
// marks it processed. The processed timestamp is supplied by the caller so a
// whole batch shares one observation time.
func (m *Message) ApplyClassification(result *ClassificationResult, at time.Time) {
	category := result.Category
	method := result.Method
	m.Category = &category
	m.Method = &method
	m.Confidence = result.Confidence
	m.Explanation = result.Explanation
	if result.RuleName != "" {
		rule := result.RuleName
		m.MatchedRule = &rule
	}
	m.IsProcessed = true
	m.ProcessedAt = &at
}

// =============================================================================
// Classification Result
// =============================================================================

// Reserved category values produced by the pipeline itself. Real categories
// come from the active rule set and the trained models.
const (
	CategoryUnknown      = "unknown"
	CategoryUnclassified = "unclassified"
	CategoryError        = "error"
)

// Classification methods recorded on processed messages.
const (
	MethodRule     = "rule"
	MethodFastText = "fasttext"
	MethodBERT     = "bert"
	MethodLLM      = "llm"
	MethodCascade  = "stepgo"
)

// ClassificationResult is the terminal outcome of a classification run,
// whether from a single stage or from the full cascade.
type ClassificationResult struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"` // 0.0 - 1.0
	Method      string  `json:"method"`
	Explanation string  `json:"explanation"`
	RuleName    string  `json:"rule_name,omitempty"`

	// StagesAttempted counts how many cascade stages ran before this
	// result was produced (1 for a direct single-stage call).
	StagesAttempted int `json:"stages_attempted"`
}

// IsRoutable reports whether a forwarding attempt makes sense for this
// result. Error and unclassified outcomes are never forwarded.
func (r *ClassificationResult) IsRoutable() bool {
	return r.Category != CategoryError && r.Category != CategoryUnclassified && r.Category != CategoryUnknown
}

// =============================================================================
// Stage Type
// =============================================================================

// StageType identifies one classification strategy in the cascade. The set is
// closed: adding a strategy means adding a variant here and a constructor in
// the registry, not a new dynamic string match.
type StageType int

const (
	StageRule StageType = iota
	StageFastText
	StageBERT
	StageLLM
)

func (t StageType) String() string {
	switch t {
	case StageRule:
		return "rule"
	case StageFastText:
		return "fasttext"
	case StageBERT:
		return "bert"
	case StageLLM:
		return "llm"
	default:
		return "unknown"
	}
}

// ParseStageType maps a method name to its stage type.
func ParseStageType(s string) (StageType, bool) {
	switch s {
	case "rule":
		return StageRule, true
	case "fasttext":
		return StageFastText, true
	case "bert":
		return StageBERT, true
	case "llm":
		return StageLLM, true
	default:
		return StageRule, false
	}
}

// CascadeOrder is the cost-ascending attempt order of the cascade.
var CascadeOrder = []StageType{StageRule, StageFastText, StageBERT, StageLLM}
