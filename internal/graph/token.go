package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultLoginURL = "https://login.microsoftonline.com"
	tokenScope      = "https://graph.microsoft.com/.default"

	// Refresh the cached token this long before it actually expires.
	tokenExpiryMargin = 2 * time.Minute
)

// AuthError indicates credential acquisition failed. It is fatal to the
// operation that needed the credential.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph auth: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("graph auth: %s", e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TokenConfig holds client-credentials flow configuration.
type TokenConfig struct {
	LoginURL     string
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// ClientCredentialsTokenSource issues application tokens via the OAuth2
// client-credentials flow and caches them until near expiry.
type ClientCredentialsTokenSource struct {
	config     TokenConfig
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentialsTokenSource creates a token source.
// Returns an error if required identifiers are missing.
func NewClientCredentialsTokenSource(config TokenConfig) (*ClientCredentialsTokenSource, error) {
	if config.TenantID == "" || config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("graph token source: tenant id, client id and client secret are required")
	}
	if config.LoginURL == "" {
		config.LoginURL = defaultLoginURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &ClientCredentialsTokenSource{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// AppToken returns an application token, reusing the cached one while valid.
func (s *ClientCredentialsTokenSource) AppToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiresAt.Add(-tokenExpiryMargin)) {
		return s.token, nil
	}

	form := url.Values{
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"scope":         {tokenScope},
		"grant_type":    {"client_credentials"},
	}

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimSuffix(s.config.LoginURL, "/"), s.config.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Message: "create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Message: "request token", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &AuthError{Message: "read token response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Message: fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, truncate(body, 200))}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &AuthError{Message: "decode token response", Err: err}
	}
	if payload.AccessToken == "" {
		return "", &AuthError{Message: "token response missing access_token"}
	}

	s.token = payload.AccessToken
	s.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)

	return s.token, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
