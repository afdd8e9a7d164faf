package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"mailsort_server/core/domain"
)

// =============================================================================
// Monitor Status Adapter
// =============================================================================

// MonitorStatusAdapter implements out.MonitorStatusRepository.
type MonitorStatusAdapter struct {
	db *sqlx.DB
}

// NewMonitorStatusAdapter creates a new MonitorStatusAdapter.
func NewMonitorStatusAdapter(db *sqlx.DB) *MonitorStatusAdapter {
	return &MonitorStatusAdapter{db: db}
}

// monitorStatusRow represents the database row.
type monitorStatusRow struct {
	ID             int64        `db:"id"`
	MailboxID      int64        `db:"mailbox_id"`
	IsActive       bool         `db:"is_active"`
	LastCheckAt    sql.NullTime `db:"last_check_at"`
	StartedAt      sql.NullTime `db:"started_at"`
	StoppedAt      sql.NullTime `db:"stopped_at"`
	LastFoundCount int          `db:"last_found_count"`
	TotalChecks    int64        `db:"total_checks"`
	TotalFetched   int64        `db:"total_fetched"`
	TotalProcessed int64        `db:"total_processed"`
	TotalForwarded int64        `db:"total_forwarded"`
	TotalErrors    int64        `db:"total_errors"`
}

func (r *monitorStatusRow) toEntity() *domain.MonitorStatus {
	status := &domain.MonitorStatus{
		ID:             r.ID,
		MailboxID:      r.MailboxID,
		IsActive:       r.IsActive,
		LastFoundCount: r.LastFoundCount,
		TotalChecks:    r.TotalChecks,
		TotalFetched:   r.TotalFetched,
		TotalProcessed: r.TotalProcessed,
		TotalForwarded: r.TotalForwarded,
		TotalErrors:    r.TotalErrors,
	}
	if r.LastCheckAt.Valid {
		status.LastCheckAt = &r.LastCheckAt.Time
	}
	if r.StartedAt.Valid {
		status.StartedAt = &r.StartedAt.Time
	}
	if r.StoppedAt.Valid {
		status.StoppedAt = &r.StoppedAt.Time
	}
	return status
}

// GetOrCreate returns the monitor status for a mailbox, creating an inactive
// record when none exists. The insert races safely against concurrent
// callers through the unique mailbox constraint.
func (a *MonitorStatusAdapter) GetOrCreate(ctx context.Context, mailboxID int64) (*domain.MonitorStatus, error) {
	var row monitorStatusRow
	query := `
		INSERT INTO monitor_statuses (mailbox_id, is_active)
		VALUES ($1, FALSE)
		ON CONFLICT (mailbox_id) DO UPDATE SET mailbox_id = EXCLUDED.mailbox_id
		RETURNING *`

	if err := a.db.GetContext(ctx, &row, query, mailboxID); err != nil {
		return nil, fmt.Errorf("failed to get monitor status: %w", err)
	}

	return row.toEntity(), nil
}

// Update persists the monitor control record.
func (a *MonitorStatusAdapter) Update(ctx context.Context, status *domain.MonitorStatus) error {
	query := `
		UPDATE monitor_statuses
		SET is_active = $2, last_check_at = $3, started_at = $4, stopped_at = $5,
			last_found_count = $6, total_checks = $7, total_fetched = $8,
			total_processed = $9, total_forwarded = $10, total_errors = $11
		WHERE id = $1`

	_, err := a.db.ExecContext(ctx, query,
		status.ID, status.IsActive, status.LastCheckAt, status.StartedAt, status.StoppedAt,
		status.LastFoundCount, status.TotalChecks, status.TotalFetched,
		status.TotalProcessed, status.TotalForwarded, status.TotalErrors,
	)
	if err != nil {
		return fmt.Errorf("failed to update monitor status: %w", err)
	}

	return nil
}
