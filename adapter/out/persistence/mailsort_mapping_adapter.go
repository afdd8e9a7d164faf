package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mailsort_server/pkg/cache"
)

// =============================================================================
// Category Type Mapping Adapter
// =============================================================================

// defaultTypeMappings covers the categories the system shipped with.
// Database rows override these; a category with no mapping anywhere maps to
// itself.
var defaultTypeMappings = map[string][]string{
	"purchase":    {"sales_inquiry", "general_inquiry"},
	"techsupport": {"support_request", "technical_issue", "urgent_issue"},
}

// CategoryMappingAdapter implements out.CategoryTypeMapper over the
// category_type_mappings table with a Redis cache in front. The cache is
// optional; without it every lookup hits the database.
type CategoryMappingAdapter struct {
	db    *sqlx.DB
	cache *cache.RedisCache
	ttl   time.Duration
}

// NewCategoryMappingAdapter creates a new CategoryMappingAdapter.
func NewCategoryMappingAdapter(db *sqlx.DB, redisCache *cache.RedisCache, ttl time.Duration) *CategoryMappingAdapter {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &CategoryMappingAdapter{db: db, cache: redisCache, ttl: ttl}
}

func mappingKey(category string) string {
	return "mailsort:mapping:" + category
}

// EmailTypes resolves a category to its forwarding email types.
func (a *CategoryMappingAdapter) EmailTypes(ctx context.Context, category string) ([]string, error) {
	if a.cache != nil {
		var cached []string
		if hit, err := a.cache.GetJSON(ctx, mappingKey(category), &cached); err == nil && hit {
			return cached, nil
		}
	}

	var types pq.StringArray
	query := `SELECT email_types FROM category_type_mappings WHERE category = $1`

	err := a.db.GetContext(ctx, &types, query, category)
	switch {
	case err == nil && len(types) > 0:
		// from database
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to load category mapping: %w", err)
	default:
		if builtin, ok := defaultTypeMappings[category]; ok {
			types = builtin
		} else {
			types = []string{category}
		}
	}

	result := []string(types)
	if a.cache != nil {
		_ = a.cache.SetJSON(ctx, mappingKey(category), result, a.ttl)
	}

	return result, nil
}
