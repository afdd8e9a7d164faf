// Package graph provides the Microsoft Graph mail provider adapter.
package graph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"mailsort_server/core/port/out"
	"mailsort_server/pkg/logger"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the Graph app registration.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

// Provider implements out.MailProviderPort against Microsoft Graph.
type Provider struct {
	oauth  *oauth2.Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// NewProvider creates a Graph provider.
func NewProvider(cfg Config, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Default()
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes: []string{
			"https://graph.microsoft.com/Mail.Read",
			"https://graph.microsoft.com/Mail.Send",
			"offline_access",
		},
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenant),
			TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
		},
	}

	cbSettings := gobreaker.Settings{
		Name:        "graph-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("breaker", name).Warn("circuit breaker state changed from %s to %s", from.String(), to.String())
		},
	}

	return &Provider{
		oauth:  oauthConfig,
		client: &http.Client{Timeout: 30 * time.Second},
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		log:    log,
	}
}

// GetProviderType returns the provider type.
func (p *Provider) GetProviderType() string {
	return "graph"
}

// RefreshToken exchanges the refresh token for a fresh access token.
func (p *Provider) RefreshToken(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	// Force a refresh by presenting an expired token to the source.
	stale := &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	refreshed, err := p.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	return refreshed, nil
}

// ValidateToken checks whether the token can reach the account.
func (p *Provider) ValidateToken(ctx context.Context, token *oauth2.Token) (bool, error) {
	var user struct {
		ID string `json:"id"`
	}
	if err := p.get(ctx, token, "/me", &user); err != nil {
		return false, err
	}
	return user.ID != "", nil
}

// FetchSince lists inbox messages received at or after the given time,
// newest first, attachments expanded so counts and sizes come back in one
// round trip.
func (p *Provider) FetchSince(ctx context.Context, token *oauth2.Token, mailbox string, since time.Time, limit int) ([]out.ProviderMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339)))
	params.Set("$top", fmt.Sprintf("%d", limit))
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$expand", "attachments($select=id,size)")

	path := fmt.Sprintf("/users/%s/mailFolders/inbox/messages?%s", url.PathEscape(mailbox), params.Encode())

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	result, err := p.cb.Execute(func() (interface{}, error) {
		if err := p.get(ctx, token, path, &resp); err != nil {
			return nil, err
		}
		messages := make([]out.ProviderMessage, len(resp.Value))
		for i := range resp.Value {
			messages[i] = convertMessage(&resp.Value[i])
		}
		return messages, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]out.ProviderMessage), nil
}

// ForwardMessage forwards a message to the destinations through Graph's
// forward action.
func (p *Provider) ForwardMessage(ctx context.Context, token *oauth2.Token, mailbox, externalID string, to []string, comment string) error {
	recipients := make([]graphRecipient, len(to))
	for i, addr := range to {
		recipients[i] = graphRecipient{
			EmailAddress: graphEmailAddress{Address: addr},
		}
	}

	body := struct {
		Comment      string           `json:"comment"`
		ToRecipients []graphRecipient `json:"toRecipients"`
	}{
		Comment:      comment,
		ToRecipients: recipients,
	}

	path := fmt.Sprintf("/users/%s/messages/%s/forward", url.PathEscape(mailbox), url.PathEscape(externalID))
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.post(ctx, token, path, body, nil)
	})
	return err
}

// HTTP helpers

func (p *Provider) get(ctx context.Context, token *oauth2.Token, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", graphBaseURL+path, nil)
	if err != nil {
		return err
	}

	return p.doRequest(req, token, result)
}

func (p *Provider) post(ctx context.Context, token *oauth2.Token, path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", graphBaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return p.doRequest(req, token, result)
}

func (p *Provider) doRequest(req *http.Request, token *oauth2.Token, result interface{}) error {
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph API error: %d - %s", resp.StatusCode, string(body))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Graph API types

type graphMessage struct {
	ID               string            `json:"id"`
	Subject          string            `json:"subject"`
	BodyPreview      string            `json:"bodyPreview"`
	Body             graphBody         `json:"body"`
	From             graphRecipient    `json:"from"`
	Importance       string            `json:"importance"`
	HasAttachments   bool              `json:"hasAttachments"`
	Attachments      []graphAttachment `json:"attachments"`
	ReceivedDateTime string            `json:"receivedDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphAttachment struct {
	ID   string `json:"id"`
	Size int64  `json:"size"`
}

func convertMessage(msg *graphMessage) out.ProviderMessage {
	pm := out.ProviderMessage{
		ExternalID:      msg.ID,
		Subject:         msg.Subject,
		Sender:          msg.From.EmailAddress.Address,
		SenderName:      msg.From.EmailAddress.Name,
		BodyPreview:     msg.BodyPreview,
		Body:            msg.Body.Content,
		Importance:      msg.Importance,
		HasAttachments:  msg.HasAttachments,
		AttachmentCount: len(msg.Attachments),
	}

	for _, a := range msg.Attachments {
		pm.AttachmentTotalBytes += a.Size
	}

	pm.ReceivedAt, _ = time.Parse(time.RFC3339, msg.ReceivedDateTime)

	return pm
}

// Ensure Provider implements out.MailProviderPort
var _ out.MailProviderPort = (*Provider)(nil)
