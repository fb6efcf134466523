package metaads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"adsync/internal/token"
)

// AuthClient refreshes a long-lived Meta user token by exchanging the
// current one. The Graph API has no refresh-token grant; the exchange only
// works while the existing token is still valid.
type AuthClient struct {
	host       string
	httpClient *http.Client
	version    string
	appID      string
	appSecret  string
}

type AuthConfig struct {
	BaseURL   string
	Version   string
	AppID     string
	AppSecret string
}

func NewAuthClient(httpClient *http.Client, cfg AuthConfig) (*AuthClient, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("app_id and app_secret are required")
	}
	host := cfg.BaseURL
	if host == "" {
		host = defaultGraphURL
	}
	version := cfg.Version
	if version == "" {
		version = defaultGraphVersion
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AuthClient{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
		version:    version,
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
	}, nil
}

// ExchangeToken performs the fb_exchange_token grant and returns the fresh
// 60-day token.
func (c *AuthClient) ExchangeToken(ctx context.Context, currentToken string) (*token.Grant, error) {
	if currentToken == "" {
		return nil, fmt.Errorf("current token is required")
	}
	query := url.Values{}
	query.Set("grant_type", "fb_exchange_token")
	query.Set("client_id", c.appID)
	query.Set("client_secret", c.appSecret)
	query.Set("fb_exchange_token", currentToken)

	fullURL := fmt.Sprintf("%s/%s/oauth/access_token?%s", c.host, c.version, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if apiErr := parseGraphError(resp.StatusCode, body); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("token exchange rejected (%d): %s", resp.StatusCode, string(body))
	}
	var tr struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		// The exchange endpoint omits expires_in for some token kinds; the
		// documented long-lived lifetime is 60 days.
		expiresIn = 60 * 24 * 3600
	}
	return &token.Grant{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

var _ token.MetaAuthClient = (*AuthClient)(nil)
