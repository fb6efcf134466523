package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"adsync/internal/models"
	"adsync/internal/repository"
)

// Grant is the normalized result of any token endpoint call.
type Grant struct {
	AccessToken  string
	RefreshToken string // empty unless the provider rotated it
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
}

// MicrosoftAuthClient covers the two Azure AD acquisition paths. The
// assertion (machine identity) path is optional; AssertionConfigured reports
// whether it can be attempted at all.
type MicrosoftAuthClient interface {
	RefreshGrant(ctx context.Context, refreshToken string) (*Grant, error)
	AssertionGrant(ctx context.Context) (*Grant, error)
	AssertionConfigured() bool
}

// MetaAuthClient exchanges the current long-lived token for a fresh one.
type MetaAuthClient interface {
	ExchangeToken(ctx context.Context, currentToken string) (*Grant, error)
}

// RetryPolicy is a fixed-backoff policy: attempt n waits Backoff×n before
// the next try. Only the Microsoft refresh path retries; Meta stays at a
// single attempt because the current token remains usable until its
// original expiry.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func (p RetryPolicy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

func (p RetryPolicy) wait(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	return p.Backoff * time.Duration(attempt)
}

// Manager owns the credential lifecycle for every platform. It is the only
// writer of credential rows; writes are last-write-wins.
type Manager struct {
	Store     repository.CredentialStore
	Microsoft MicrosoftAuthClient
	Meta      MetaAuthClient
	Logger    *zap.Logger

	// RefreshMargin is how close to expiry a Microsoft token may get before
	// a synchronous refresh. Defaults to 5 minutes.
	RefreshMargin time.Duration
	// MetaRefreshWindow is the remaining lifetime under which a Meta token
	// is exchanged. Defaults to 7 days.
	MetaRefreshWindow time.Duration
	// MicrosoftRetry governs the refresh-token grant. Defaults to 3 attempts
	// with 2s×attempt backoff.
	MicrosoftRetry RetryPolicy
}

func (m *Manager) refreshMargin() time.Duration {
	if m.RefreshMargin > 0 {
		return m.RefreshMargin
	}
	return 5 * time.Minute
}

func (m *Manager) metaRefreshWindow() time.Duration {
	if m.MetaRefreshWindow > 0 {
		return m.MetaRefreshWindow
	}
	return 7 * 24 * time.Hour
}

func (m *Manager) microsoftRetry() RetryPolicy {
	if m.MicrosoftRetry.Attempts > 0 {
		return m.MicrosoftRetry
	}
	return RetryPolicy{Attempts: 3, Backoff: 2 * time.Second}
}

// GetValidToken returns a credential whose access token is safe to use now.
// It refreshes on demand when the platform's refresh window has been
// entered and never returns an already-expired token.
func (m *Manager) GetValidToken(ctx context.Context, platform string) (*models.Credential, error) {
	cred, err := m.loadCredential(ctx, platform)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	switch platform {
	case models.PlatformMicrosoft:
		if !microsoftNeedsRefresh(cred, now, m.refreshMargin()) {
			return cred, nil
		}
		return m.refreshMicrosoft(ctx, cred)
	case models.PlatformMeta:
		if !metaNeedsRefresh(cred, now, m.metaRefreshWindow()) {
			return cred, nil
		}
		return m.refreshMeta(ctx, cred)
	}
	return nil, &CredentialError{Platform: platform, Reason: ReasonMissingSetup,
		Err: fmt.Errorf("unknown platform %q", platform)}
}

// Refresh forces a refresh regardless of remaining lifetime. Used by the
// token health monitor's proactive path.
func (m *Manager) Refresh(ctx context.Context, platform string) (*models.Credential, error) {
	cred, err := m.loadCredential(ctx, platform)
	if err != nil {
		return nil, err
	}
	switch platform {
	case models.PlatformMicrosoft:
		return m.refreshMicrosoft(ctx, cred)
	case models.PlatformMeta:
		return m.refreshMeta(ctx, cred)
	}
	return nil, &CredentialError{Platform: platform, Reason: ReasonMissingSetup,
		Err: fmt.Errorf("unknown platform %q", platform)}
}

func (m *Manager) loadCredential(ctx context.Context, platform string) (*models.Credential, error) {
	platform = strings.TrimSpace(platform)
	if m.Store == nil {
		return nil, &CredentialError{Platform: platform, Reason: ReasonMissingSetup,
			Err: errors.New("credential store not configured")}
	}
	cred, err := m.Store.GetCredential(ctx, platform)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, &CredentialError{Platform: platform, Reason: ReasonMissingSetup,
			Err: errors.New("no credential record; complete platform onboarding first")}
	}
	if cred.Status == models.TokenStatusInvalid {
		return nil, &CredentialError{Platform: platform, Reason: ReasonManualReauthRequired,
			Err: errors.New("credential marked invalid; re-authorize the application")}
	}
	return cred, nil
}

func microsoftNeedsRefresh(cred *models.Credential, now time.Time, margin time.Duration) bool {
	return !cred.ExpiresAt.After(now.Add(margin))
}

func metaNeedsRefresh(cred *models.Credential, now time.Time, window time.Duration) bool {
	return cred.ExpiresAt.Sub(now) < window
}

func (m *Manager) refreshMicrosoft(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	if m.Microsoft == nil {
		return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonMissingSetup,
			Err: errors.New("microsoft auth client not configured")}
	}

	// Machine identity first when available; its failure is not terminal,
	// the refresh-token grant stays as fallback. No retry loop here, the
	// identity provider call is pass-through.
	if m.Microsoft.AssertionConfigured() {
		grant, err := m.Microsoft.AssertionGrant(ctx)
		if err == nil {
			return m.persistGrant(ctx, cred, grant)
		}
		if m.Logger != nil {
			m.Logger.Warn("client assertion grant failed, falling back to refresh token",
				zap.String("platform", cred.Platform), zap.Error(err))
		}
	}

	if cred.RefreshToken == nil || strings.TrimSpace(*cred.RefreshToken) == "" {
		return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonMissingSetup,
			Err: errors.New("credential has no refresh token")}
	}

	policy := m.microsoftRetry()
	var lastErr error
	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		grant, err := m.Microsoft.RefreshGrant(ctx, *cred.RefreshToken)
		if err == nil {
			return m.persistGrant(ctx, cred, grant)
		}
		lastErr = err
		if errors.Is(err, ErrInvalidGrant) {
			m.markInvalid(ctx, cred, err)
			if m.Logger != nil {
				m.Logger.Error("microsoft refresh token rejected; manual re-authorization required",
					zap.String("platform", cred.Platform),
					zap.String("alert", string(ReasonManualReauthRequired)),
					zap.Error(err))
			}
			return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonManualReauthRequired, Err: err}
		}
		if attempt < policy.attempts() {
			select {
			case <-ctx.Done():
				m.recordFailure(ctx, cred, ctx.Err())
				return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonRefreshFailed, Err: ctx.Err()}
			case <-time.After(policy.wait(attempt)):
			}
		}
	}
	m.recordFailure(ctx, cred, lastErr)
	if m.Logger != nil {
		m.Logger.Warn("microsoft token refresh failed",
			zap.String("platform", cred.Platform),
			zap.Int("attempts", policy.attempts()),
			zap.Error(lastErr))
	}
	return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonRefreshFailed, Err: lastErr}
}

func (m *Manager) refreshMeta(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	if m.Meta == nil {
		return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonMissingSetup,
			Err: errors.New("meta auth client not configured")}
	}
	// Single attempt. A failed exchange does not invalidate the credential:
	// the current token keeps working until its original expiry.
	grant, err := m.Meta.ExchangeToken(ctx, cred.AccessToken)
	if err != nil {
		m.recordFailure(ctx, cred, err)
		if m.Logger != nil {
			m.Logger.Warn("meta token exchange failed",
				zap.String("platform", cred.Platform), zap.Error(err))
		}
		return nil, &CredentialError{Platform: cred.Platform, Reason: ReasonRefreshFailed, Err: err}
	}
	return m.persistGrant(ctx, cred, grant)
}

func (m *Manager) persistGrant(ctx context.Context, cred *models.Credential, grant *Grant) (*models.Credential, error) {
	now := time.Now().UTC()
	cred.AccessToken = grant.AccessToken
	cred.ExpiresAt = grant.ExpiresAt.UTC()
	if grant.RefreshToken != "" {
		rt := grant.RefreshToken
		cred.RefreshToken = &rt
	}
	if grant.TokenType != "" {
		cred.TokenType = grant.TokenType
	}
	if grant.Scope != "" {
		scope := grant.Scope
		cred.Scope = &scope
	}
	cred.Status = models.TokenStatusValid
	cred.LastRefreshAttempt = &now
	cred.RefreshError = nil
	if err := m.Store.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist refreshed %s credential: %w", cred.Platform, err)
	}
	if m.Logger != nil {
		m.Logger.Info("credential refreshed",
			zap.String("platform", cred.Platform),
			zap.Time("expires_at", cred.ExpiresAt))
	}
	return cred, nil
}

func (m *Manager) markInvalid(ctx context.Context, cred *models.Credential, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	cred.Status = models.TokenStatusInvalid
	cred.LastRefreshAttempt = &now
	cred.RefreshError = &msg
	if err := m.Store.SaveCredential(ctx, cred); err != nil && m.Logger != nil {
		m.Logger.Warn("persisting invalid credential state failed",
			zap.String("platform", cred.Platform), zap.Error(err))
	}
}

func (m *Manager) recordFailure(ctx context.Context, cred *models.Credential, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	cred.LastRefreshAttempt = &now
	cred.RefreshError = &msg
	if err := m.Store.SaveCredential(ctx, cred); err != nil && m.Logger != nil {
		m.Logger.Warn("recording refresh failure failed",
			zap.String("platform", cred.Platform), zap.Error(err))
	}
}
