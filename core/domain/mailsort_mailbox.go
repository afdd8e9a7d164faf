package domain

import (
	"time"
)

// Mailbox is a monitored account on the remote mail provider.
type Mailbox struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	TenantID     string `json:"tenant_id"`
	IsMonitoring bool   `json:"is_monitoring"`

	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenExpired reports whether the access token needs a refresh before use.
// A missing expiry is treated as expired so the first use always refreshes.
func (m *Mailbox) TokenExpired(now time.Time) bool {
	if m.TokenExpiry == nil {
		return true
	}
	return !now.Before(m.TokenExpiry.Add(-2 * time.Minute))
}
