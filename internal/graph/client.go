// Package graph wraps the Microsoft Graph change-notification API.
// All remote calls are fallible and classified by status code: see
// NotFoundError, RejectedError and TransientError.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://graph.microsoft.com"
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 5 // requests per second
)

// Config holds Graph client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // per-request timeout
	RateLimit float64       // outbound requests per second, 0 for default
}

// Client talks to the Microsoft Graph REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Graph client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// CreateSubscriptionRequest is the wire payload for subscription creation.
type CreateSubscriptionRequest struct {
	ChangeType          string    `json:"changeType"`
	NotificationURL     string    `json:"notificationUrl"`
	Resource            string    `json:"resource"`
	ExpirationDateTime  time.Time `json:"expirationDateTime"`
	ClientState         string    `json:"clientState"`
	IncludeResourceData bool      `json:"includeResourceData"`
}

// RemoteSubscription is the provider's view of a subscription. The granted
// expiration may be earlier than requested; callers must persist this value,
// not the one they asked for.
type RemoteSubscription struct {
	ID                 string    `json:"id"`
	Resource           string    `json:"resource"`
	ChangeType         string    `json:"changeType"`
	ClientState        string    `json:"clientState"`
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// UserProfile identifies the signed-in user.
type UserProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// CreateSubscription registers a new change-notification subscription.
func (c *Client) CreateSubscription(ctx context.Context, token string, req CreateSubscriptionRequest) (*RemoteSubscription, error) {
	var sub RemoteSubscription
	if err := c.do(ctx, token, http.MethodPost, "/v1.0/subscriptions", req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// RenewSubscription extends an existing subscription's expiration.
func (c *Client) RenewSubscription(ctx context.Context, token, subscriptionID string, expiresAt time.Time) (*RemoteSubscription, error) {
	payload := struct {
		ExpirationDateTime time.Time `json:"expirationDateTime"`
	}{ExpirationDateTime: expiresAt}

	var sub RemoteSubscription
	path := "/v1.0/subscriptions/" + subscriptionID
	if err := c.do(ctx, token, http.MethodPatch, path, payload, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// DeleteSubscription removes a subscription on the provider side.
func (c *Client) DeleteSubscription(ctx context.Context, token, subscriptionID string) error {
	return c.do(ctx, token, http.MethodDelete, "/v1.0/subscriptions/"+subscriptionID, nil, nil)
}

// GetMe resolves the signed-in user's profile via a delegated token.
func (c *Client) GetMe(ctx context.Context, token string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, token, http.MethodGet, "/v1.0/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListJoinedTeams enumerates the teams the signed-in user is a member of.
// Guest users commonly lack permission for this call; the resulting 401/403
// is detectable via IsAuthz.
func (c *Client) ListJoinedTeams(ctx context.Context, token string) ([]domain.Team, error) {
	var result struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/v1.0/me/joinedTeams", nil, &result); err != nil {
		return nil, err
	}

	teams := make([]domain.Team, 0, len(result.Value))
	for _, t := range result.Value {
		teams = append(teams, domain.Team{ID: t.ID, DisplayName: t.DisplayName})
	}
	return teams, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Message: fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// graphErrorMessage extracts the error message from a Graph error body.
// Falls back to the raw body when the shape is unexpected.
func graphErrorMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		if wrapper.Error.Code != "" {
			return wrapper.Error.Code + ": " + wrapper.Error.Message
		}
		return wrapper.Error.Message
	}

	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
