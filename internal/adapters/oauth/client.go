package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"auditfetch/internal/core/domain"
)

const (
	// DefaultLoginURL is the Microsoft identity platform authority.
	DefaultLoginURL = "https://login.microsoftonline.com"
	// DefaultResource is the Office 365 Management API resource.
	DefaultResource = "https://manage.office.com"
)

// Client implements ports.TokenProvider with the client-credentials grant.
type Client struct {
	loginURL string
	scope    string
	client   *http.Client
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLoginURL overrides the authority base URL.
func WithLoginURL(u string) Option {
	return func(c *Client) { c.loginURL = strings.TrimRight(u, "/") }
}

// WithResource sets the API resource the token is requested for.
func WithResource(resource string) Option {
	return func(c *Client) { c.scope = strings.TrimRight(resource, "/") + "/.default" }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a token client for the public cloud unless overridden.
func NewClient(log *slog.Logger, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		loginURL: DefaultLoginURL,
		scope:    DefaultResource + "/.default",
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAccessToken exchanges the application credentials for a bearer token.
// Exactly one request is made; there is no retry.
func (c *Client) GetAccessToken(ctx context.Context, appID, tenantID, appSecret string) (domain.AccessToken, error) {
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, url.PathEscape(tenantID))

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", appID)
	data.Set("client_secret", appSecret)
	data.Set("scope", c.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.AccessToken{}, &domain.AuthError{Err: fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AccessToken{}, &domain.AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return domain.AccessToken{}, &domain.AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp struct {
		AccessToken string          `json:"access_token"`
		TokenType   string          `json:"token_type"`
		ExpiresIn   json.RawMessage `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return domain.AccessToken{}, &domain.AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tokenResp.AccessToken == "" {
		return domain.AccessToken{}, &domain.AuthError{StatusCode: resp.StatusCode, Body: string(body), Err: fmt.Errorf("no access token in response")}
	}

	token := domain.AccessToken{Value: tokenResp.AccessToken}
	if secs := parseExpiresIn(tokenResp.ExpiresIn); secs > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}
	c.inspectClaims(&token)

	c.log.Debug("access token acquired",
		"tenant_id", tenantID,
		"expires_at", token.ExpiresAt,
		"roles", token.Roles)
	return token, nil
}

// inspectClaims reads roles and expiry from the token without verifying it.
// Tokens that are not JWTs are left with nil Roles, meaning unknown.
func (c *Client) inspectClaims(token *domain.AccessToken) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.Value, claims); err != nil {
		c.log.Debug("access token is not a readable JWT", "error", err)
		return
	}
	// A readable token with no roles claim has no application permissions.
	token.Roles = []string{}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				token.Roles = append(token.Roles, s)
			}
		}
	}
	if token.ExpiresAt.IsZero() {
		if exp, ok := claims["exp"].(float64); ok {
			token.ExpiresAt = time.Unix(int64(exp), 0)
		}
	}
}

// parseExpiresIn accepts both numeric and quoted-string forms.
func parseExpiresIn(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		fmt.Sscan(s, &n)
	}
	return n
}
