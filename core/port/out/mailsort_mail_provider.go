// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"mailsort_server/core/domain"
)

// =============================================================================
// Mail Provider Port (Microsoft Graph)
// =============================================================================

// MailProviderPort defines the outbound port for the remote mail provider.
type MailProviderPort interface {
	GetProviderType() string // "graph"

	MailTokenManager
	MailFetcher
	MailForwarder
}

// MailTokenManager refreshes and validates OAuth tokens for a mailbox.
type MailTokenManager interface {
	RefreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
	ValidateToken(ctx context.Context, token *oauth2.Token) (bool, error)
}

// MailFetcher reads inbox messages received since a point in time.
type MailFetcher interface {
	FetchSince(ctx context.Context, token *oauth2.Token, mailbox string, since time.Time, limit int) ([]ProviderMessage, error)
}

// MailForwarder forwards a message to one or more destinations.
type MailForwarder interface {
	ForwardMessage(ctx context.Context, token *oauth2.Token, mailbox, externalID string, to []string, comment string) error
}

// ProviderMessage is a mail message as returned by the provider, before it is
// persisted as a domain.Message.
type ProviderMessage struct {
	ExternalID           string
	Subject              string
	Sender               string
	SenderName           string
	BodyPreview          string
	Body                 string
	ReceivedAt           time.Time
	Importance           string
	HasAttachments       bool
	AttachmentCount      int
	AttachmentTotalBytes int64
}

// ToDomain converts a provider message into a new domain message for the
// given mailbox. Classification fields start empty.
func (p *ProviderMessage) ToDomain(mailboxID int64) *domain.Message {
	return &domain.Message{
		MailboxID:            mailboxID,
		MessageID:            p.ExternalID,
		Subject:              p.Subject,
		Sender:               p.Sender,
		Body:                 p.Body,
		ReceivedAt:           p.ReceivedAt,
		Importance:           p.Importance,
		HasAttachments:       p.HasAttachments,
		AttachmentCount:      p.AttachmentCount,
		AttachmentTotalBytes: p.AttachmentTotalBytes,
	}
}
