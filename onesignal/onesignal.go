// Package onesignal sends batched mobile push notifications through the
// OneSignal REST API.
//
// The create-notification call carries every player ID in one request and
// has a single success or failure outcome for the whole batch; the API does
// not report per-recipient status synchronously.
package onesignal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBaseURL is the OneSignal REST API endpoint.
const DefaultBaseURL = "https://onesignal.com/api/v1"

// ErrNotConfigured is returned by SendBatch when the app id or REST API key
// is absent. No network call is attempted in that case.
var ErrNotConfigured = errors.New("onesignal credentials not configured")

// Client sends mobile push notifications through OneSignal.
type Client struct {
	appID      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new OneSignal client. Empty credentials are allowed; the
// client then reports itself unconfigured and fails fast on send, so a
// deployment without mobile push keeps serving web push.
func New(appID, apiKey string) *Client {
	return &Client{
		appID:      appID,
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
	}
}

// WithBaseURL sets a custom API base URL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Configured reports whether both credentials are present.
func (c *Client) Configured() bool {
	return c.appID != "" && c.apiKey != ""
}

// notification is the OneSignal create-notification request body.
type notification struct {
	AppID            string            `json:"app_id"`
	IncludePlayerIDs []string          `json:"include_player_ids"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	Data             map[string]any    `json:"data,omitempty"`
}

// SendBatch delivers one notification to every player ID in a single API
// call.
func (c *Client) SendBatch(ctx context.Context, playerIDs []string, title, body string, data map[string]any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if len(playerIDs) == 0 {
		return nil
	}

	reqBody, err := json.Marshal(notification{
		AppID:            c.appID,
		IncludePlayerIDs: playerIDs,
		Headings:         map[string]string{"en": title},
		Contents:         map[string]string{"en": body},
		Data:             data,
	})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notifications", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("onesignal returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
