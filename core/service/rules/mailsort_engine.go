// Package rules implements first-match evaluation of user-authored
// classification rules.
package rules

import (
	"fmt"
	"sort"
	"strings"

	"mailsort_server/core/domain"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// Rule Engine
// =============================================================================

// Engine evaluates classification rules against a message. Rules are checked
// from the highest priority value down and the first matching rule wins. Within a single rule,
// populated condition groups are ORed: any one group matching is enough, and
// empty groups are ignored. Existing rule sets were authored against exactly
// this behavior, so it is kept as-is rather than tightened to AND.
type Engine struct {
	log *logger.Logger
}

// NewEngine creates a rule engine.
func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{log: log}
}

// Evaluate returns the first rule that matches the message, or nil when no
// rule matches. The input slice is not modified.
func (e *Engine) Evaluate(msg *domain.Message, ruleSet []domain.ClassificationRule) *domain.RuleMatch {
	if msg == nil || len(ruleSet) == 0 {
		return nil
	}

	ordered := make([]*domain.ClassificationRule, 0, len(ruleSet))
	for i := range ruleSet {
		ordered = append(ordered, &ruleSet[i])
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	senderDomain := msg.SenderDomain()
	subjectLower := strings.ToLower(msg.Subject)
	bodyLower := strings.ToLower(msg.Body)

	for _, rule := range ordered {
		if !rule.IsActive {
			continue
		}
		if !rule.HasConditions() {
			// A rule with no populated conditions can never match.
			// Skip it instead of failing the whole evaluation.
			e.log.WithField("rule", rule.Name).Warn("skipping rule with no conditions")
			continue
		}

		if match := matchRule(rule, senderDomain, subjectLower, bodyLower, msg); match != nil {
			return match
		}
	}

	return nil
}

// matchRule checks one rule's condition groups in fixed order and returns the
// first group that matches.
func matchRule(rule *domain.ClassificationRule, senderDomain, subjectLower, bodyLower string, msg *domain.Message) *domain.RuleMatch {
	for _, d := range rule.SenderDomains {
		pattern := strings.ToLower(strings.TrimPrefix(d, "@"))
		if pattern == "" {
			continue
		}
		if senderDomain == pattern || strings.HasSuffix(senderDomain, "."+pattern) {
			return &domain.RuleMatch{Rule: rule, MatchedBy: "sender_domain", Detail: d}
		}
	}

	for _, kw := range rule.SubjectKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(subjectLower, strings.ToLower(kw)) {
			return &domain.RuleMatch{Rule: rule, MatchedBy: "subject_keyword", Detail: kw}
		}
	}

	for _, kw := range rule.BodyKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(bodyLower, strings.ToLower(kw)) {
			return &domain.RuleMatch{Rule: rule, MatchedBy: "body_keyword", Detail: kw}
		}
	}

	if rule.HasAttachmentCondition() && matchAttachments(rule, msg) {
		return &domain.RuleMatch{
			Rule:      rule,
			MatchedBy: "attachment",
			Detail:    fmt.Sprintf("count=%d bytes=%d", msg.AttachmentCount, msg.AttachmentTotalBytes),
		}
	}

	return nil
}

// matchAttachments checks the attachment bounds. Each populated bound is an
// independent condition and any one holding is a match, the same way the
// other condition groups accumulate. Tightening this to a closed range would
// silently change what existing rules select.
func matchAttachments(rule *domain.ClassificationRule, msg *domain.Message) bool {
	if rule.MinAttachments != nil && msg.AttachmentCount >= *rule.MinAttachments {
		return true
	}
	if rule.MaxAttachments != nil && msg.AttachmentCount <= *rule.MaxAttachments {
		return true
	}
	if rule.MinTotalBytes != nil && msg.AttachmentTotalBytes >= *rule.MinTotalBytes {
		return true
	}
	if rule.MaxTotalBytes != nil && msg.AttachmentTotalBytes <= *rule.MaxTotalBytes {
		return true
	}
	return false
}
