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
// Mailbox Adapter
// =============================================================================

// MailboxAdapter implements out.MailboxRepository.
type MailboxAdapter struct {
	db *sqlx.DB
}

// NewMailboxAdapter creates a new MailboxAdapter.
func NewMailboxAdapter(db *sqlx.DB) *MailboxAdapter {
	return &MailboxAdapter{db: db}
}

// mailboxRow represents the database row.
type mailboxRow struct {
	ID           int64        `db:"id"`
	Email        string       `db:"email"`
	DisplayName  string       `db:"display_name"`
	TenantID     string       `db:"tenant_id"`
	IsMonitoring bool         `db:"is_monitoring"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	TokenExpiry  sql.NullTime `db:"token_expiry"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (r *mailboxRow) toEntity() *domain.Mailbox {
	mb := &domain.Mailbox{
		ID:           r.ID,
		Email:        r.Email,
		DisplayName:  r.DisplayName,
		TenantID:     r.TenantID,
		IsMonitoring: r.IsMonitoring,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.TokenExpiry.Valid {
		mb.TokenExpiry = &r.TokenExpiry.Time
	}
	return mb
}

// GetByID retrieves a mailbox by ID.
func (a *MailboxAdapter) GetByID(ctx context.Context, id int64) (*domain.Mailbox, error) {
	var row mailboxRow
	query := `SELECT * FROM mailboxes WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("mailbox %d not found", id)
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}

	return row.toEntity(), nil
}

// GetByEmail retrieves a mailbox by address.
func (a *MailboxAdapter) GetByEmail(ctx context.Context, email string) (*domain.Mailbox, error) {
	var row mailboxRow
	query := `SELECT * FROM mailboxes WHERE email = $1`

	if err := a.db.GetContext(ctx, &row, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("mailbox %s not found", email)
		}
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}

	return row.toEntity(), nil
}

// ListMonitoring retrieves all mailboxes with monitoring enabled.
func (a *MailboxAdapter) ListMonitoring(ctx context.Context) ([]domain.Mailbox, error) {
	var rows []mailboxRow
	query := `SELECT * FROM mailboxes WHERE is_monitoring = TRUE ORDER BY id`

	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list monitored mailboxes: %w", err)
	}

	mailboxes := make([]domain.Mailbox, len(rows))
	for i := range rows {
		mailboxes[i] = *rows[i].toEntity()
	}

	return mailboxes, nil
}

// SetMonitoring toggles monitoring for a mailbox.
func (a *MailboxAdapter) SetMonitoring(ctx context.Context, id int64, monitoring bool) error {
	query := `UPDATE mailboxes SET is_monitoring = $2, updated_at = NOW() WHERE id = $1`

	if _, err := a.db.ExecContext(ctx, query, id, monitoring); err != nil {
		return fmt.Errorf("failed to set monitoring flag: %w", err)
	}

	return nil
}

// UpdateTokens persists refreshed OAuth tokens.
func (a *MailboxAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE mailboxes
		SET access_token = $2, refresh_token = $3, token_expiry = $4, updated_at = NOW()
		WHERE id = $1`

	if _, err := a.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiry); err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}

	return nil
}
