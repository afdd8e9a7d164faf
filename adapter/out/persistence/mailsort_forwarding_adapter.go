package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailsort_server/core/domain"
)

// =============================================================================
// Forwarding Rule Adapter
// =============================================================================

// ForwardingRuleAdapter implements out.ForwardingRuleRepository.
type ForwardingRuleAdapter struct {
	db *sqlx.DB
}

// NewForwardingRuleAdapter creates a new ForwardingRuleAdapter.
func NewForwardingRuleAdapter(db *sqlx.DB) *ForwardingRuleAdapter {
	return &ForwardingRuleAdapter{db: db}
}

// forwardingRuleRow represents the database row.
type forwardingRuleRow struct {
	ID             int64          `db:"id"`
	Name           string         `db:"name"`
	RuleType       string         `db:"rule_type"`
	Priority       int            `db:"priority"`
	EmailTypes     pq.StringArray `db:"email_types"`
	ForwardMessage string         `db:"forward_message"`
	IsActive       bool           `db:"is_active"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// forwardingAddressRow represents the database row.
type forwardingAddressRow struct {
	ID       int64  `db:"id"`
	RuleID   int64  `db:"rule_id"`
	Email    string `db:"email"`
	Name     string `db:"name"`
	IsActive bool   `db:"is_active"`
	Position int    `db:"position"`
}

// ListActiveForEmailType retrieves active rules covering the email type with
// their addresses loaded, ordered by priority descending so the rule that
// handles the type comes first.
func (a *ForwardingRuleAdapter) ListActiveForEmailType(ctx context.Context, emailType string) ([]domain.ForwardingRule, error) {
	var ruleRows []forwardingRuleRow
	query := `
		SELECT * FROM forwarding_rules
		WHERE is_active = TRUE AND $1 = ANY(email_types)
		ORDER BY priority DESC, id`

	if err := a.db.SelectContext(ctx, &ruleRows, query, emailType); err != nil {
		return nil, fmt.Errorf("failed to list forwarding rules: %w", err)
	}
	if len(ruleRows) == 0 {
		return nil, nil
	}

	ruleIDs := make([]int64, len(ruleRows))
	for i, r := range ruleRows {
		ruleIDs[i] = r.ID
	}

	var addressRows []forwardingAddressRow
	addrQuery := `
		SELECT * FROM forwarding_addresses
		WHERE rule_id = ANY($1)
		ORDER BY rule_id, position, id`

	if err := a.db.SelectContext(ctx, &addressRows, addrQuery, pq.Array(ruleIDs)); err != nil {
		return nil, fmt.Errorf("failed to list forwarding addresses: %w", err)
	}

	addressesByRule := make(map[int64][]domain.ForwardingAddress)
	for _, row := range addressRows {
		addressesByRule[row.RuleID] = append(addressesByRule[row.RuleID], domain.ForwardingAddress{
			ID:       row.ID,
			RuleID:   row.RuleID,
			Email:    row.Email,
			Name:     row.Name,
			IsActive: row.IsActive,
			Position: row.Position,
		})
	}

	rules := make([]domain.ForwardingRule, len(ruleRows))
	for i, row := range ruleRows {
		rules[i] = domain.ForwardingRule{
			ID:             row.ID,
			Name:           row.Name,
			RuleType:       domain.RuleType(row.RuleType),
			Priority:       row.Priority,
			EmailTypes:     []string(row.EmailTypes),
			ForwardMessage: row.ForwardMessage,
			Addresses:      addressesByRule[row.ID],
			IsActive:       row.IsActive,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		}
	}

	return rules, nil
}

// =============================================================================
// Forwarding Log Adapter
// =============================================================================

// ForwardingLogAdapter implements out.ForwardingLogRepository.
type ForwardingLogAdapter struct {
	db *sqlx.DB
}

// NewForwardingLogAdapter creates a new ForwardingLogAdapter.
func NewForwardingLogAdapter(db *sqlx.DB) *ForwardingLogAdapter {
	return &ForwardingLogAdapter{db: db}
}

// forwardingLogRow represents the database row.
type forwardingLogRow struct {
	ID          int64         `db:"id"`
	MessageID   int64         `db:"message_id"`
	RuleID      sql.NullInt64 `db:"rule_id"`
	Subject     string        `db:"subject"`
	Sender      string        `db:"sender"`
	ReceivedAt  time.Time     `db:"received_at"`
	Category    string        `db:"category"`
	Destination string        `db:"destination"`
	EmailType   string        `db:"email_type"`
	Status      string        `db:"status"`
	Error       string        `db:"error"`
	ForwardedAt time.Time     `db:"forwarded_at"`
}

func (r *forwardingLogRow) toEntity() *domain.ForwardingLogEntry {
	entry := &domain.ForwardingLogEntry{
		ID:          r.ID,
		MessageID:   r.MessageID,
		Subject:     r.Subject,
		Sender:      r.Sender,
		ReceivedAt:  r.ReceivedAt,
		Category:    r.Category,
		Destination: r.Destination,
		EmailType:   r.EmailType,
		Status:      domain.ForwardingStatus(r.Status),
		Error:       r.Error,
		ForwardedAt: r.ForwardedAt,
	}
	if r.RuleID.Valid {
		entry.RuleID = &r.RuleID.Int64
	}
	return entry
}

// Save inserts a forwarding log entry.
func (a *ForwardingLogAdapter) Save(ctx context.Context, entry *domain.ForwardingLogEntry) error {
	query := `
		INSERT INTO forwarding_logs (message_id, rule_id, subject, sender, received_at, category,
			destination, email_type, status, error, forwarded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := a.db.QueryRowContext(ctx, query,
		entry.MessageID, entry.RuleID, entry.Subject, entry.Sender, entry.ReceivedAt, entry.Category,
		entry.Destination, entry.EmailType, string(entry.Status), entry.Error, entry.ForwardedAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to save forwarding log: %w", err)
	}

	return nil
}

// ListByMessage retrieves all forwarding attempts for a message.
func (a *ForwardingLogAdapter) ListByMessage(ctx context.Context, messageID int64) ([]domain.ForwardingLogEntry, error) {
	var rows []forwardingLogRow
	query := `SELECT * FROM forwarding_logs WHERE message_id = $1 ORDER BY forwarded_at, id`

	if err := a.db.SelectContext(ctx, &rows, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to list forwarding logs: %w", err)
	}

	entries := make([]domain.ForwardingLogEntry, len(rows))
	for i := range rows {
		entries[i] = *rows[i].toEntity()
	}

	return entries, nil
}
