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
// Classification Rule Adapter
// =============================================================================

// ClassifyRuleAdapter implements out.ClassifyRuleRepository.
type ClassifyRuleAdapter struct {
	db *sqlx.DB
}

// NewClassifyRuleAdapter creates a new ClassifyRuleAdapter.
func NewClassifyRuleAdapter(db *sqlx.DB) *ClassifyRuleAdapter {
	return &ClassifyRuleAdapter{db: db}
}

// classifyRuleRow represents the database row.
type classifyRuleRow struct {
	ID              int64          `db:"id"`
	Name            string         `db:"name"`
	Category        string         `db:"category"`
	Priority        int            `db:"priority"`
	SenderDomains   pq.StringArray `db:"sender_domains"`
	SubjectKeywords pq.StringArray `db:"subject_keywords"`
	BodyKeywords    pq.StringArray `db:"body_keywords"`
	MinAttachments  sql.NullInt64  `db:"min_attachments"`
	MaxAttachments  sql.NullInt64  `db:"max_attachments"`
	MinTotalBytes   sql.NullInt64  `db:"min_total_bytes"`
	MaxTotalBytes   sql.NullInt64  `db:"max_total_bytes"`
	IsActive        bool           `db:"is_active"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *classifyRuleRow) toEntity() *domain.ClassificationRule {
	rule := &domain.ClassificationRule{
		ID:              r.ID,
		Name:            r.Name,
		Category:        r.Category,
		Priority:        r.Priority,
		SenderDomains:   []string(r.SenderDomains),
		SubjectKeywords: []string(r.SubjectKeywords),
		BodyKeywords:    []string(r.BodyKeywords),
		IsActive:        r.IsActive,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.MinAttachments.Valid {
		v := int(r.MinAttachments.Int64)
		rule.MinAttachments = &v
	}
	if r.MaxAttachments.Valid {
		v := int(r.MaxAttachments.Int64)
		rule.MaxAttachments = &v
	}
	if r.MinTotalBytes.Valid {
		v := r.MinTotalBytes.Int64
		rule.MinTotalBytes = &v
	}
	if r.MaxTotalBytes.Valid {
		v := r.MaxTotalBytes.Int64
		rule.MaxTotalBytes = &v
	}
	return rule
}

// ListActive retrieves active rules ordered by priority descending, so the
// highest-priority rule is evaluated first.
func (a *ClassifyRuleAdapter) ListActive(ctx context.Context) ([]domain.ClassificationRule, error) {
	var rows []classifyRuleRow
	query := `SELECT * FROM classification_rules WHERE is_active = TRUE ORDER BY priority DESC, id`

	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list active classification rules: %w", err)
	}

	rules := make([]domain.ClassificationRule, len(rows))
	for i := range rows {
		rules[i] = *rows[i].toEntity()
	}

	return rules, nil
}

// ListCategories retrieves the distinct categories of active rules.
func (a *ClassifyRuleAdapter) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	query := `SELECT DISTINCT category FROM classification_rules WHERE is_active = TRUE ORDER BY category`

	if err := a.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("failed to list rule categories: %w", err)
	}

	return categories, nil
}
