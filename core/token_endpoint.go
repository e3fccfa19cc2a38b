package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTokenEndpointTimeout = 30 * time.Second

// HTTPTokenEndpointCaller exchanges a refresh token for a new grant against
// the marketplace's OAuth token endpoint. It is transport only: the refresh
// coordinator owns locking, persistence, and retry policy around it.
type HTTPTokenEndpointCaller struct {
	Client *http.Client
}

func NewHTTPTokenEndpointCaller(client *http.Client) *HTTPTokenEndpointCaller {
	if client == nil {
		client = &http.Client{Timeout: defaultTokenEndpointTimeout}
	}
	return &HTTPTokenEndpointCaller{Client: client}
}

type tokenEndpointResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *HTTPTokenEndpointCaller) RefreshGrant(
	ctx context.Context,
	cfg MarketplaceConfig,
	cred Credential,
) (TokenGrant, error) {
	if c == nil || c.Client == nil {
		return TokenGrant{}, fmt.Errorf("core: token endpoint caller is not configured")
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		return TokenGrant{}, fmt.Errorf("core: token endpoint url is required")
	}
	refreshToken := strings.TrimSpace(cred.RefreshToken)
	if refreshToken == "" {
		return TokenGrant{}, fmt.Errorf("core: refresh token is required for token endpoint call")
	}
	clientID := cred.SecretField("client_id", "app_key")
	clientSecret := cred.SecretField("client_secret", "app_secret")
	if clientID == "" || clientSecret == "" {
		return TokenGrant{}, fmt.Errorf("core: token endpoint requires client credentials")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	if len(cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenGrant{}, fmt.Errorf("core: build token endpoint request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := c.Client.Do(req)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("core: token endpoint call: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return TokenGrant{}, fmt.Errorf("core: read token endpoint response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return TokenGrant{}, &HTTPStatusError{
			StatusCode: res.StatusCode,
			Message:    tokenEndpointFailureMessage(res.StatusCode, body),
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After")),
		}
	}

	var parsed tokenEndpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TokenGrant{}, fmt.Errorf("core: parse token endpoint response: %w", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return TokenGrant{}, fmt.Errorf("core: token endpoint returned no access token")
	}
	return TokenGrant{
		AccessToken:      strings.TrimSpace(parsed.AccessToken),
		RefreshToken:     strings.TrimSpace(parsed.RefreshToken),
		ExpiresIn:        parsed.ExpiresIn,
		RefreshExpiresIn: parsed.RefreshExpiresIn,
	}, nil
}

// tokenEndpointFailureMessage keeps upstream error bodies out of logs except
// for the OAuth error code fields, which never contain secrets.
func tokenEndpointFailureMessage(statusCode int, body []byte) string {
	var parsed tokenEndpointResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		if code := strings.TrimSpace(parsed.Error); code != "" {
			msg := fmt.Sprintf("core: token endpoint returned %d: %s", statusCode, code)
			if desc := strings.TrimSpace(parsed.ErrorDescription); desc != "" {
				msg += ": " + desc
			}
			return msg
		}
	}
	return fmt.Sprintf("core: token endpoint returned %d", statusCode)
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}
