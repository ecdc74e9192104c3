// Package notify tells the automation webhook about completed logins.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/diyartec/calassist/internal/logging"
	"github.com/diyartec/calassist/internal/oauth"
)

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 5 * time.Second

// StoredRefreshToken replaces the refresh token in outbound payloads.
const StoredRefreshToken = "[ENCRYPTED_STORED]"

// LoginTokens is the token section of a login payload.
type LoginTokens struct {
	AccessToken  string  `json:"access_token"`
	ExpiresIn    int64   `json:"expires_in"`
	Scope        string  `json:"scope,omitempty"`
	IDToken      string  `json:"id_token,omitempty"`
	RefreshToken *string `json:"refresh_token"`
}

// LoginEvent is the JSON body posted after a session is created.
type LoginEvent struct {
	Profile oauth.Profile `json:"profile"`
	Tokens  LoginTokens   `json:"tokens"`
}

// NewLoginEvent builds the payload, never including the refresh token itself.
func NewLoginEvent(profile oauth.Profile, ts *oauth.TokenSet) LoginEvent {
	ev := LoginEvent{
		Profile: profile,
		Tokens: LoginTokens{
			AccessToken: ts.AccessToken,
			ExpiresIn:   ts.ExpiresIn,
			Scope:       ts.Scope,
			IDToken:     ts.IDToken,
		},
	}
	if ts.RefreshToken != "" {
		marker := StoredRefreshToken
		ev.Tokens.RefreshToken = &marker
	}
	return ev
}

// Webhook delivers login events in the background. A nil *Webhook is a no-op.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhook returns nil when url is empty.
func NewWebhook(url string, client *http.Client, logger *slog.Logger) *Webhook {
	if url == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{url: url, client: client, logger: logging.WithComponent(logger, "n8n_webhook")}
}

// LoginCompleted posts ev without blocking the caller. Errors are logged.
func (w *Webhook) LoginCompleted(ev LoginEvent) {
	if w == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if err := w.post(ctx, ev); err != nil {
			w.logger.Warn("n8n webhook error", logging.Err(err))
		}
	}()
}

// Wait blocks until in-flight deliveries finish.
func (w *Webhook) Wait() {
	if w != nil {
		w.wg.Wait()
	}
}

func (w *Webhook) post(ctx context.Context, ev LoginEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode login event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post login event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
