// Package forwarding routes classified messages to destination addresses.
package forwarding

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/logger"
)

// =============================================================================
// Address Selector
// =============================================================================

// AddressSelector picks the destination for a load-balanced rule from its
// active address pool.
type AddressSelector interface {
	Select(rule *domain.ForwardingRule, active []domain.ForwardingAddress) *domain.ForwardingAddress
}

// FirstActiveSelector always picks the first active address in stored order.
// This is the historical behavior of load-balanced rules.
type FirstActiveSelector struct{}

func (FirstActiveSelector) Select(_ *domain.ForwardingRule, active []domain.ForwardingAddress) *domain.ForwardingAddress {
	if len(active) == 0 {
		return nil
	}
	return &active[0]
}

// RoundRobinSelector rotates through the active addresses of each rule.
// Counters are per process; a restart starts over at the first address.
type RoundRobinSelector struct {
	counters map[int64]int
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{counters: make(map[int64]int)}
}

func (s *RoundRobinSelector) Select(rule *domain.ForwardingRule, active []domain.ForwardingAddress) *domain.ForwardingAddress {
	if len(active) == 0 {
		return nil
	}
	idx := s.counters[rule.ID] % len(active)
	s.counters[rule.ID]++
	return &active[idx]
}

// =============================================================================
// Router
// =============================================================================

// Router forwards one classified message through the forwarding rules
// covering its email types. Each email type is handled by the single active
// rule with the highest priority. Rules fail independently: one rule's
// provider error is logged and the rules of the remaining types still run.
type Router struct {
	ruleRepo out.ForwardingRuleRepository
	logRepo  out.ForwardingLogRepository
	mapper   out.CategoryTypeMapper
	provider out.MailForwarder
	selector AddressSelector
	comment  string // fallback when a rule has no forward message
	log      *logger.Logger
}

// NewRouter creates a forwarding router.
func NewRouter(
	ruleRepo out.ForwardingRuleRepository,
	logRepo out.ForwardingLogRepository,
	mapper out.CategoryTypeMapper,
	provider out.MailForwarder,
	selector AddressSelector,
	comment string,
	log *logger.Logger,
) *Router {
	if selector == nil {
		selector = FirstActiveSelector{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Router{
		ruleRepo: ruleRepo,
		logRepo:  logRepo,
		mapper:   mapper,
		provider: provider,
		selector: selector,
		comment:  comment,
		log:      log,
	}
}

// Route forwards the message according to its classification. Error and
// unclassified outcomes are never forwarded. The returned dispatch results
// cover every rule that was considered; the boolean reports whether at least
// one destination received the message.
func (r *Router) Route(ctx context.Context, token *oauth2.Token, mailbox *domain.Mailbox, msg *domain.Message, result *domain.ClassificationResult) ([]domain.DispatchResult, bool, error) {
	if !result.IsRoutable() {
		r.log.WithFields(map[string]any{
			"message_id": msg.MessageID,
			"category":   result.Category,
		}).Debug("classification not routable, skipping forwarding")
		return nil, false, nil
	}

	emailTypes, err := r.mapper.EmailTypes(ctx, result.Category)
	if err != nil {
		return nil, false, err
	}

	var dispatches []domain.DispatchResult
	forwarded := false
	seenRules := make(map[int64]bool)

	for _, emailType := range emailTypes {
		ruleSet, err := r.ruleRepo.ListActiveForEmailType(ctx, emailType)
		if err != nil {
			r.log.WithError(err).WithField("email_type", emailType).Error("loading forwarding rules failed")
			continue
		}

		rule := highestPriorityRule(ruleSet)
		if rule == nil {
			continue
		}
		if seenRules[rule.ID] {
			// A rule covering several of the mapped types still
			// forwards the message once.
			continue
		}
		seenRules[rule.ID] = true

		dispatch := r.dispatch(ctx, token, mailbox, msg, rule, emailType, result.Category)
		dispatches = append(dispatches, dispatch)
		if dispatch.Status == domain.ForwardSuccess {
			forwarded = true
		}
	}

	return dispatches, forwarded, nil
}

// highestPriorityRule picks the single rule handling an email type: highest
// priority wins, ties break toward the lowest rule id.
func highestPriorityRule(ruleSet []domain.ForwardingRule) *domain.ForwardingRule {
	var best *domain.ForwardingRule
	for i := range ruleSet {
		rule := &ruleSet[i]
		if best == nil ||
			rule.Priority > best.Priority ||
			(rule.Priority == best.Priority && rule.ID < best.ID) {
			best = rule
		}
	}
	return best
}

// dispatch runs one rule against one message and records an audit entry per
// destination.
func (r *Router) dispatch(ctx context.Context, token *oauth2.Token, mailbox *domain.Mailbox, msg *domain.Message, rule *domain.ForwardingRule, emailType, category string) domain.DispatchResult {
	active := rule.ActiveAddresses()

	var destinations []string
	switch rule.RuleType {
	case domain.RuleTypeBroadcast:
		for _, a := range active {
			destinations = append(destinations, a.Email)
		}
	default: // load-balanced
		if addr := r.selector.Select(rule, active); addr != nil {
			destinations = []string{addr.Email}
		}
	}

	if len(destinations) == 0 {
		r.log.WithField("rule", rule.Name).Warn("forwarding rule has no active addresses")
		return domain.DispatchResult{Rule: rule, Status: domain.ForwardSkipped}
	}

	comment := rule.ForwardMessage
	if comment == "" {
		comment = r.comment
	}

	err := r.provider.ForwardMessage(ctx, token, mailbox.Email, msg.MessageID, destinations, comment)
	status := domain.ForwardSuccess
	errText := ""
	if err != nil {
		status = domain.ForwardFailed
		errText = err.Error()
		r.log.WithError(err).WithFields(map[string]any{
			"rule":       rule.Name,
			"message_id": msg.MessageID,
		}).Error("forwarding failed")
	}

	now := time.Now().UTC()
	for _, dest := range destinations {
		entry := &domain.ForwardingLogEntry{
			MessageID:   msg.ID,
			RuleID:      &rule.ID,
			Subject:     msg.Subject,
			Sender:      msg.Sender,
			ReceivedAt:  msg.ReceivedAt,
			Category:    category,
			Destination: dest,
			EmailType:   emailType,
			Status:      status,
			Error:       errText,
			ForwardedAt: now,
		}
		if saveErr := r.logRepo.Save(ctx, entry); saveErr != nil {
			r.log.WithError(saveErr).Error("saving forwarding log failed")
		}
	}

	return domain.DispatchResult{
		Rule:         rule,
		Destinations: destinations,
		Status:       status,
		Err:          err,
	}
}
