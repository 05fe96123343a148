package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultRelayTimeout = 10 * time.Second

// RelayConfig holds notification relay configuration.
type RelayConfig struct {
	SinkURL string // downstream endpoint; empty disables forwarding
	Timeout time.Duration
}

// Relay forwards accepted notifications to a downstream sink. Delivery is
// best effort: Graph retries on non-2xx from us, so the webhook handler acks
// regardless of relay outcome.
type Relay struct {
	config     RelayConfig
	httpClient *http.Client
}

// NewRelay creates a relay.
func NewRelay(config RelayConfig) *Relay {
	if config.Timeout == 0 {
		config.Timeout = defaultRelayTimeout
	}

	return &Relay{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// RelayedNotification is the payload forwarded downstream.
type RelayedNotification struct {
	Channel        string          `json:"channel"`
	UserID         string          `json:"user_id"`
	TeamID         string          `json:"team_id,omitempty"`
	SubscriptionID string          `json:"subscription_id"`
	ChangeType     string          `json:"change_type"`
	Resource       string          `json:"resource"`
	ResourceData   json.RawMessage `json:"resource_data,omitempty"`
}

// Forward posts a notification to the sink. A missing sink is not an error.
func (r *Relay) Forward(ctx context.Context, notification RelayedNotification) error {
	if r.config.SinkURL == "" {
		slog.Debug("no relay sink configured, dropping notification",
			"subscription_id", notification.SubscriptionID,
		)
		return nil
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.SinkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay sink returned %d", resp.StatusCode)
	}
	return nil
}
