package out

import (
	"context"
	"time"

	"mailsort_server/core/domain"
)

// =============================================================================
// Repository Ports
// =============================================================================

// MessageRepository persists fetched and processed messages.
type MessageRepository interface {
	// Save inserts a new message and returns it with its assigned ID.
	Save(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// FindByExternalID returns the stored message for a provider message
	// id, or nil when none exists. Dedup across overlapping fetch windows
	// skips only processed rows; an unprocessed row is handed back so an
	// interrupted classification can be retried.
	FindByExternalID(ctx context.Context, mailboxID int64, messageID string) (*domain.Message, error)

	// UpdateClassification writes the classification outcome of a message.
	UpdateClassification(ctx context.Context, msg *domain.Message) error

	// MarkForwarded flags a message as forwarded.
	MarkForwarded(ctx context.Context, id int64) error

	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	ListRecent(ctx context.Context, mailboxID int64, limit int) ([]domain.Message, error)
}

// ClassifyRuleRepository loads user-authored classification rules.
type ClassifyRuleRepository interface {
	// ListActive returns active rules ordered by priority descending.
	ListActive(ctx context.Context) ([]domain.ClassificationRule, error)

	// ListCategories returns the distinct categories of active rules.
	ListCategories(ctx context.Context) ([]string, error)
}

// ForwardingRuleRepository loads forwarding rules with their addresses.
type ForwardingRuleRepository interface {
	// ListActiveForEmailType returns active rules covering the email type,
	// ordered by priority descending.
	ListActiveForEmailType(ctx context.Context, emailType string) ([]domain.ForwardingRule, error)
}

// ForwardingLogRepository persists forwarding audit entries.
type ForwardingLogRepository interface {
	Save(ctx context.Context, entry *domain.ForwardingLogEntry) error
	ListByMessage(ctx context.Context, messageID int64) ([]domain.ForwardingLogEntry, error)
}

// MonitorStatusRepository persists the per-mailbox monitor control record.
type MonitorStatusRepository interface {
	// GetOrCreate returns the monitor status for a mailbox, creating an
	// inactive record when none exists.
	GetOrCreate(ctx context.Context, mailboxID int64) (*domain.MonitorStatus, error)

	Update(ctx context.Context, status *domain.MonitorStatus) error
}

// MailboxRepository loads and updates monitored mailboxes.
type MailboxRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Mailbox, error)
	GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error)
	ListMonitoring(ctx context.Context) ([]domain.Mailbox, error)
	SetMonitoring(ctx context.Context, id int64, monitoring bool) error

	// UpdateTokens persists refreshed OAuth tokens.
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error
}

// CategoryTypeMapper resolves a classification category to the email types
// used by forwarding rule matching.
type CategoryTypeMapper interface {
	// EmailTypes returns the email types mapped to a category. A category
	// without an explicit mapping maps to itself.
	EmailTypes(ctx context.Context, category string) ([]string, error)
}
