package msads

import (
	"context"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"adsync/internal/token"
)

// AuthConfig carries the Azure AD application registration. The certificate
// fields are optional; when present the client can mint client-assertion
// grants and prefers them over the delegated refresh token.
type AuthConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// CertificatePEM + PrivateKeyPEM enable the machine-identity path.
	CertificatePEM string
	PrivateKeyPEM  string
}

// AuthClient implements the two Azure AD acquisition paths the credential
// manager knows about.
type AuthClient struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	tenantID   string
	scopes     []string

	signingKey *rsa.PrivateKey
	thumbprint string
}

func NewAuthClient(httpClient *http.Client, cfg AuthConfig) (*AuthClient, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("tenant_id and client_id are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"https://ads.microsoft.com/msads.manage", "offline_access"}
	}
	c := &AuthClient{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint(cfg.TenantID),
			Scopes:       scopes,
		},
		httpClient: httpClient,
		tenantID:   cfg.TenantID,
		scopes:     scopes,
	}
	if cfg.CertificatePEM != "" && cfg.PrivateKeyPEM != "" {
		key, thumbprint, err := loadAssertionMaterial(cfg.CertificatePEM, cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("load assertion certificate: %w", err)
		}
		c.signingKey = key
		c.thumbprint = thumbprint
	}
	return c, nil
}

func (c *AuthClient) AssertionConfigured() bool {
	return c.signingKey != nil
}

// RefreshGrant redeems the delegated refresh token. An invalid_grant
// rejection is wrapped with token.ErrInvalidGrant so the manager can stop
// retrying and demand re-authorization.
func (c *AuthClient) RefreshGrant(ctx context.Context, refreshToken string) (*token.Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", token.ErrInvalidGrant, retrieveErr.ErrorDescription)
		}
		return nil, fmt.Errorf("refresh token grant: %w", err)
	}
	return &token.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        strings.Join(c.scopes, " "),
		ExpiresAt:    tok.Expiry,
	}, nil
}

// AssertionGrant mints a signed client assertion and posts a
// client_credentials grant. No refresh token comes back on this path.
func (c *AuthClient) AssertionGrant(ctx context.Context) (*token.Grant, error) {
	if c.signingKey == nil {
		return nil, fmt.Errorf("client assertion not configured")
	}
	assertion, err := c.signAssertion()
	if err != nil {
		return nil, fmt.Errorf("sign client assertion: %w", err)
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
	form.Set("client_assertion", assertion)
	form.Set("scope", strings.Join(c.scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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
		var errResp struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &errResp) == nil && errResp.Error == "invalid_grant" {
			return nil, fmt.Errorf("%w: %s", token.ErrInvalidGrant, errResp.ErrorDescription)
		}
		return nil, fmt.Errorf("client assertion grant rejected (%d): %s", resp.StatusCode, string(body))
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
	return &token.Grant{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		Scope:       strings.Join(c.scopes, " "),
		ExpiresAt:   time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// signAssertion builds the RS256 JWT Azure AD expects: x5t header carrying
// the certificate thumbprint, audience set to the token endpoint.
func (c *AuthClient) signAssertion() (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud": c.cfg.Endpoint.TokenURL,
		"iss": c.cfg.ClientID,
		"sub": c.cfg.ClientID,
		"jti": uuid.NewString(),
		"nbf": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["x5t"] = c.thumbprint
	return tok.SignedString(c.signingKey)
}

func loadAssertionMaterial(certPEM, keyPEM string) (*rsa.PrivateKey, string, error) {
	certBlock, _ := pem.Decode([]byte(certPEM))
	if certBlock == nil {
		return nil, "", fmt.Errorf("no PEM block in certificate")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse certificate: %w", err)
	}
	sum := sha1.Sum(cert.Raw)
	thumbprint := base64.RawURLEncoding.EncodeToString(sum[:])

	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, "", fmt.Errorf("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes); err == nil {
		return key, thumbprint, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("private key is not RSA")
	}
	return rsaKey, thumbprint, nil
}

var _ token.MicrosoftAuthClient = (*AuthClient)(nil)
