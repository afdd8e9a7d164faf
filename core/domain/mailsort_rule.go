package domain

import (
	"time"
)

// =============================================================================
// Classification Rule
// =============================================================================

// ClassificationRule is a user-authored first-match rule. A rule with several
// populated condition groups matches when ANY populated group matches; empty
// groups are skipped entirely. This deliberately mirrors the behavior the
// rule editor was built around, so existing rule sets keep their meaning.
type ClassificationRule struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Priority int    `json:"priority"` // higher value evaluates first

	SenderDomains   []string `json:"sender_domains"`
	SubjectKeywords []string `json:"subject_keywords"`
	BodyKeywords    []string `json:"body_keywords"`

	// Attachment range conditions. A nil bound is an unconstrained side.
	MinAttachments *int   `json:"min_attachments,omitempty"`
	MaxAttachments *int   `json:"max_attachments,omitempty"`
	MinTotalBytes  *int64 `json:"min_total_bytes,omitempty"`
	MaxTotalBytes  *int64 `json:"max_total_bytes,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasConditions reports whether any condition group is populated. A rule
// without conditions can never match and is treated as misconfigured.
func (r *ClassificationRule) HasConditions() bool {
	return len(r.SenderDomains) > 0 ||
		len(r.SubjectKeywords) > 0 ||
		len(r.BodyKeywords) > 0 ||
		r.HasAttachmentCondition()
}

// HasAttachmentCondition reports whether any attachment bound is set.
func (r *ClassificationRule) HasAttachmentCondition() bool {
	return r.MinAttachments != nil || r.MaxAttachments != nil ||
		r.MinTotalBytes != nil || r.MaxTotalBytes != nil
}

// RuleMatch describes which rule matched a message and through which
// condition group.
type RuleMatch struct {
	Rule      *ClassificationRule `json:"rule"`
	MatchedBy string              `json:"matched_by"` // sender_domain | subject_keyword | body_keyword | attachment
	Detail    string              `json:"detail"`     // the value that triggered the match
}
