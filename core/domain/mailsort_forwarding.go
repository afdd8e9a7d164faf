package domain

import (
	"time"
)

// =============================================================================
// Forwarding
// =============================================================================

// RuleType selects how a forwarding rule distributes messages across its
// destination addresses.
type RuleType string

const (
	// RuleTypeLoadBalanced delivers each message to a single destination
	// selected from the active address pool.
	RuleTypeLoadBalanced RuleType = "A"

	// RuleTypeBroadcast delivers each message to every active destination.
	RuleTypeBroadcast RuleType = "B"
)

// ForwardingRule binds a set of email types to a destination address pool.
// When several active rules cover the same email type, only the one with the
// highest priority handles the message.
type ForwardingRule struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	RuleType RuleType `json:"rule_type"`
	Priority int      `json:"priority"` // higher value wins per email type

	EmailTypes []string            `json:"email_types"`
	Addresses  []ForwardingAddress `json:"addresses"`

	// ForwardMessage is attached as the comment of each forward sent
	// through this rule.
	ForwardMessage string `json:"forward_message"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveAddresses returns the active destinations in stored order.
func (r *ForwardingRule) ActiveAddresses() []ForwardingAddress {
	var out []ForwardingAddress
	for _, a := range r.Addresses {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}

// HandlesEmailType reports whether this rule covers the given email type.
func (r *ForwardingRule) HandlesEmailType(emailType string) bool {
	for _, t := range r.EmailTypes {
		if t == emailType {
			return true
		}
	}
	return false
}

// ForwardingAddress is one destination inside a forwarding rule.
type ForwardingAddress struct {
	ID       int64  `json:"id"`
	RuleID   int64  `json:"rule_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	Position int    `json:"position"` // stored order within the rule
}

// ForwardingStatus is the persisted outcome of one forwarding attempt.
type ForwardingStatus string

const (
	ForwardSuccess ForwardingStatus = "success"
	ForwardFailed  ForwardingStatus = "failed"
	ForwardSkipped ForwardingStatus = "skipped"
)

// ForwardingLogEntry records one forwarding attempt for audit. The message
// fields are denormalized onto the entry so the audit trail stays readable
// even after the message row changes or is purged.
type ForwardingLogEntry struct {
	ID        int64  `json:"id"`
	MessageID int64  `json:"message_id"`
	RuleID    *int64 `json:"rule_id,omitempty"`

	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	ReceivedAt time.Time `json:"received_at"`
	Category   string    `json:"category"`

	Destination string           `json:"destination"`
	EmailType   string           `json:"email_type"`
	Status      ForwardingStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	ForwardedAt time.Time        `json:"forwarded_at"`
}

// DispatchResult is the in-memory outcome of routing one message through one
// forwarding rule, before it is persisted as log entries.
type DispatchResult struct {
	Rule         *ForwardingRule  `json:"-"`
	Destinations []string         `json:"destinations"`
	Status       ForwardingStatus `json:"status"`
	Err          error            `json:"-"`
}
