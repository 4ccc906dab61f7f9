package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/mailcompose/internal/email"
)

// graphScope requests the application permissions granted to the client.
const graphScope = "https://graph.microsoft.com/.default"

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// The token source and the API calls share the base client.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	authed := cc.Client(ctx)
	authed.Timeout = client.Timeout

	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: authed,
	}
}

// Send delivers a built message via the Microsoft Graph API. The mailbox of
// the configured sender sends the message; a 202 response means accepted.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Message) error {
	reqBody, err := buildSendMailRequest(msg)
	if err != nil {
		return fmt.Errorf("failed to build request body: %w", err)
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	if err := g.doSendRequest(ctx, bodyJSON); err != nil {
		slog.Warn("Graph API error",
			"message_id", msg.MessageID(),
			"error", err,
		)
		return err
	}

	slog.Info("message delivered via Microsoft Graph",
		"message_id", msg.MessageID(),
		"sender", g.sender,
		"recipients", len(msg.Recipients()),
	)
	return nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return &SendError{StatusCode: resp.StatusCode, Code: graphErrResp.Error.Code, Message: graphErrResp.Error.Message}
	}

	return &SendError{StatusCode: resp.StatusCode, Message: string(body)}
}

// SendError is a non-success response from the sendMail endpoint.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *SendError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
