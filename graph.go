package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Graph mail subscriptions cap out at roughly three days; renew well before.
const subscriptionLifetime = 4230 * time.Minute

// MailClient is the narrow mailbox surface the dispatcher and reply flow
// consume.
type MailClient interface {
	FetchMessage(ctx context.Context, messageID string) (*MailMessage, error)
	ThreadSize(ctx context.Context, conversationID string) (int, error)
	SendReply(ctx context.Context, messageID, htmlBody string) error
	CreateSubscription(ctx context.Context) (*SubscriptionInfo, error)
	RenewSubscription(ctx context.Context, subscriptionID string, expiresAt time.Time) error
}

// GraphClient implements MailClient against the Microsoft Graph REST API
type GraphClient struct {
	httpClient      *http.Client
	baseURL         string
	notificationURL string
	clientState     string
}

// NewGraphClient creates a Graph client whose requests are authenticated by an
// OAuth2 token source seeded from the configured refresh token.
func NewGraphClient(config *GraphConfig) *GraphClient {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(config.TenantID),
		Scopes: []string{
			"offline_access",
			"https://graph.microsoft.com/User.Read",
			"https://graph.microsoft.com/Mail.ReadWrite",
			"https://graph.microsoft.com/Mail.Send",
		},
	}

	token := &oauth2.Token{
		RefreshToken: config.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	return &GraphClient{
		httpClient:      oauth2.NewClient(ctx, tokenSource),
		baseURL:         graphBaseURL,
		notificationURL: config.NotificationURL,
		clientState:     config.ClientState,
	}
}

// graphMessage mirrors the Graph message fields selected by FetchMessage
type graphMessage struct {
	ID   string `json:"id"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	ConversationID string `json:"conversationId"`
}

// graphSubscription mirrors the Graph subscription resource
type graphSubscription struct {
	ID                 string `json:"id"`
	Resource           string `json:"resource"`
	ExpirationDateTime string `json:"expirationDateTime"`
}

// graphListResponse is the envelope of Graph collection queries
type graphListResponse struct {
	Value []json.RawMessage `json:"value"`
}

// FetchMessage retrieves sender, body, and conversation id for a mail item
func (g *GraphClient) FetchMessage(ctx context.Context, messageID string) (*MailMessage, error) {
	path := "/me/messages/" + url.PathEscape(messageID) + "?$select=from,body,conversationId"

	var msg graphMessage
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	return &MailMessage{
		ID:             messageID,
		SenderName:     msg.From.EmailAddress.Name,
		SenderAddress:  msg.From.EmailAddress.Address,
		ContentType:    strings.ToLower(msg.Body.ContentType),
		Content:        msg.Body.Content,
		ConversationID: msg.ConversationID,
	}, nil
}

// ThreadSize returns how many inbox messages share the conversation, capped
// at 2 since callers only care whether the message sits in a thread.
func (g *GraphClient) ThreadSize(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, nil
	}

	// Single quotes inside OData string literals are doubled
	escaped := strings.ReplaceAll(conversationID, "'", "''")
	query := url.Values{}
	query.Set("$filter", fmt.Sprintf("conversationId eq '%s'", escaped))
	query.Set("$top", "2")
	query.Set("$select", "id")
	path := "/me/mailFolders/Inbox/messages?" + query.Encode()

	var list graphListResponse
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &list); err != nil {
		return 0, fmt.Errorf("failed to query thread: %w", err)
	}
	return len(list.Value), nil
}

// SendReply replies to the given message with an HTML body
func (g *GraphClient) SendReply(ctx context.Context, messageID, htmlBody string) error {
	path := "/me/messages/" + url.PathEscape(messageID) + "/reply"
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"body": map[string]string{
				"contentType": "html",
				"content":     htmlBody,
			},
		},
	}

	if err := g.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// CreateSubscription registers the inbox change-notification webhook
func (g *GraphClient) CreateSubscription(ctx context.Context) (*SubscriptionInfo, error) {
	if g.notificationURL == "" {
		return nil, fmt.Errorf("notification URL is not configured")
	}

	body := map[string]string{
		"changeType":         "created",
		"notificationUrl":    g.notificationURL,
		"resource":           "me/mailFolders('Inbox')/messages",
		"expirationDateTime": time.Now().Add(subscriptionLifetime).UTC().Format(time.RFC3339),
		"clientState":        g.clientState,
	}

	var sub graphSubscription
	if err := g.doJSON(ctx, http.MethodPost, "/subscriptions", body, &sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339, sub.ExpirationDateTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subscription expiration: %w", err)
	}

	return &SubscriptionInfo{
		ID:        sub.ID,
		Resource:  sub.Resource,
		ExpiresAt: expiresAt,
	}, nil
}

// RenewSubscription pushes the subscription expiration forward
func (g *GraphClient) RenewSubscription(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	path := "/subscriptions/" + url.PathEscape(subscriptionID)
	body := map[string]string{
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}

	if err := g.doJSON(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("failed to renew subscription: %w", err)
	}
	return nil
}

// doJSON performs one authenticated Graph call with optional JSON request and
// response bodies.
func (g *GraphClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Graph API error %d: %s", resp.StatusCode, string(data))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
