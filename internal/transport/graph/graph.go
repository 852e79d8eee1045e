// Package graph implements a Transport that sends email via the Microsoft Graph API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/mail-relay/internal/email"
)

const (
	defaultScope   = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second
)

// Config holds the configuration for creating a Transport.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Transport sends messages through the Graph sendMail endpoint using OAuth2
// client credentials. Tokens are cached and refreshed by the oauth2 package.
type Transport struct {
	sendURL    string
	creds      *clientcredentials.Config
	base       *http.Client
	tokens     oauth2.TokenSource
	httpClient *http.Client
}

// New creates a Transport for the given tenant and application.
func New(cfg Config) *Transport {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	sendURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, sendURL, tokenURL, &http.Client{Timeout: requestTimeout})
}

// newWithOverrides creates a Transport with custom URLs and base HTTP client.
func newWithOverrides(cfg Config, sendURL, tokenURL string, base *http.Client) *Transport {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	tokens := cc.TokenSource(ctx)

	return &Transport{
		sendURL:    sendURL,
		creds:      cc,
		base:       base,
		tokens:     tokens,
		httpClient: oauth2.NewClient(ctx, tokens),
	}
}

// Send delivers msg and returns the internet message ID it was sent with.
// Graph answers sendMail with 202 and no body, so the ID is assigned here.
func (t *Transport) Send(ctx context.Context, msg *email.Message) (string, error) {
	if msg.MessageID == "" {
		msg.MessageID = email.NewMessageID(msg.From)
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return msg.MessageID, nil
	}

	return "", decodeError(resp)
}

// Verify requests a fresh access token within ctx, which proves the tenant,
// client ID and secret are valid. The cached send token is left untouched.
func (t *Transport) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, t.base)); err != nil {
		return fmt.Errorf("failed to acquire Graph token: %w", err)
	}
	return nil
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "graph"
}

// APIError is a non-success response from the Graph API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp graphErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errResp.Error.Code,
			Message:    errResp.Error.Message,
		}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}
