// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mailsort_server/core/domain"
)

// =============================================================================
// Message Adapter
// =============================================================================

// MessageAdapter implements out.MessageRepository.
type MessageAdapter struct {
	db *sqlx.DB
}

// NewMessageAdapter creates a new MessageAdapter.
func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// messageRow represents the database row.
type messageRow struct {
	ID                   int64          `db:"id"`
	MailboxID            int64          `db:"mailbox_id"`
	MessageID            string         `db:"message_id"`
	Subject              string         `db:"subject"`
	Sender               string         `db:"sender"`
	Body                 string         `db:"body"`
	ReceivedAt           time.Time      `db:"received_at"`
	Importance           string         `db:"importance"`
	HasAttachments       bool           `db:"has_attachments"`
	AttachmentCount      int            `db:"attachment_count"`
	AttachmentTotalBytes int64          `db:"attachment_total_bytes"`
	Category             sql.NullString `db:"category"`
	Method               sql.NullString `db:"classification_method"`
	Confidence           float64        `db:"confidence"`
	Explanation          string         `db:"explanation"`
	MatchedRule          sql.NullString `db:"matched_rule"`
	IsProcessed          bool           `db:"is_processed"`
	IsForwarded          bool           `db:"is_forwarded"`
	ProcessedAt          sql.NullTime   `db:"processed_at"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r *messageRow) toEntity() *domain.Message {
	msg := &domain.Message{
		ID:                   r.ID,
		MailboxID:            r.MailboxID,
		MessageID:            r.MessageID,
		Subject:              r.Subject,
		Sender:               r.Sender,
		Body:                 r.Body,
		ReceivedAt:           r.ReceivedAt,
		Importance:           r.Importance,
		HasAttachments:       r.HasAttachments,
		AttachmentCount:      r.AttachmentCount,
		AttachmentTotalBytes: r.AttachmentTotalBytes,
		Confidence:           r.Confidence,
		Explanation:          r.Explanation,
		IsProcessed:          r.IsProcessed,
		IsForwarded:          r.IsForwarded,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.Category.Valid {
		msg.Category = &r.Category.String
	}
	if r.Method.Valid {
		msg.Method = &r.Method.String
	}
	if r.MatchedRule.Valid {
		msg.MatchedRule = &r.MatchedRule.String
	}
	if r.ProcessedAt.Valid {
		msg.ProcessedAt = &r.ProcessedAt.Time
	}
	return msg
}

// Save inserts a new message.
func (a *MessageAdapter) Save(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	query := `
		INSERT INTO messages (mailbox_id, message_id, subject, sender, body, received_at,
			importance, has_attachments, attachment_count, attachment_total_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRowContext(ctx, query,
		msg.MailboxID, msg.MessageID, msg.Subject, msg.Sender, msg.Body, msg.ReceivedAt,
		msg.Importance, msg.HasAttachments, msg.AttachmentCount, msg.AttachmentTotalBytes,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	return msg, nil
}

// FindByExternalID retrieves the stored message for a provider message id,
// or nil when the mailbox has never seen it.
func (a *MessageAdapter) FindByExternalID(ctx context.Context, mailboxID int64, messageID string) (*domain.Message, error) {
	var row messageRow
	query := `SELECT * FROM messages WHERE mailbox_id = $1 AND message_id = $2`

	if err := a.db.GetContext(ctx, &row, query, mailboxID, messageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up message: %w", err)
	}

	return row.toEntity(), nil
}

// UpdateClassification writes the classification outcome.
func (a *MessageAdapter) UpdateClassification(ctx context.Context, msg *domain.Message) error {
	query := `
		UPDATE messages
		SET category = $2, classification_method = $3, confidence = $4, explanation = $5,
			matched_rule = $6, is_processed = $7, processed_at = $8, updated_at = NOW()
		WHERE id = $1`

	_, err := a.db.ExecContext(ctx, query,
		msg.ID, msg.Category, msg.Method, msg.Confidence, msg.Explanation,
		msg.MatchedRule, msg.IsProcessed, msg.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}

	return nil
}

// MarkForwarded flags a message as forwarded.
func (a *MessageAdapter) MarkForwarded(ctx context.Context, id int64) error {
	query := `UPDATE messages SET is_forwarded = TRUE, updated_at = NOW() WHERE id = $1`

	if _, err := a.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark message forwarded: %w", err)
	}

	return nil
}

// GetByID retrieves a message by ID.
func (a *MessageAdapter) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	var row messageRow
	query := `SELECT * FROM messages WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return row.toEntity(), nil
}

// ListRecent retrieves the most recently received messages for a mailbox.
func (a *MessageAdapter) ListRecent(ctx context.Context, mailboxID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []messageRow
	query := `SELECT * FROM messages WHERE mailbox_id = $1 ORDER BY received_at DESC LIMIT $2`

	if err := a.db.SelectContext(ctx, &rows, query, mailboxID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]domain.Message, len(rows))
	for i := range rows {
		messages[i] = *rows[i].toEntity()
	}

	return messages, nil
}
