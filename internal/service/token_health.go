package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"adsync/internal/models"
	"adsync/internal/repository"
)

const (
	HealthHealthy  = "healthy"
	HealthNotice   = "notice"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthExpired  = "expired"
	HealthInvalid  = "invalid"
	HealthMissing  = "missing"
)

type PlatformTokenHealth struct {
	Platform     string     `json:"platform"`
	Status       string     `json:"status"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ExpiresIn    string     `json:"expires_in,omitempty"`
	RefreshError *string    `json:"refresh_error,omitempty"`
}

type TokenHealthReport struct {
	OverallStatus string                `json:"overall_status"`
	Platforms     []PlatformTokenHealth `json:"platforms"`
	Alerts        []string              `json:"alerts,omitempty"`
	CheckedAt     time.Time             `json:"checked_at"`
}

type ProactiveRefreshResult struct {
	Refreshed []string `json:"refreshed,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

// TokenRefresher is the forced-refresh slice of the token lifecycle manager.
type TokenRefresher interface {
	Refresh(ctx context.Context, platform string) (*models.Credential, error)
}

// TokenHealthMonitor is a stateless poller over credential rows. It is
// invoked on an external cadence and safe to call repeatedly.
type TokenHealthMonitor struct {
	Store  repository.CredentialStore
	Tokens TokenRefresher
	Logger *zap.Logger
}

// classifyToken applies the per-platform lifetime thresholds. Microsoft
// tokens live an hour and are refreshed constantly, so the bands are tight;
// Meta tokens live 60 days and get a long runway plus an early notice band.
func classifyToken(platform string, cred *models.Credential, now time.Time) string {
	if cred == nil {
		return HealthMissing
	}
	if cred.Status == models.TokenStatusInvalid {
		return HealthInvalid
	}
	ttl := cred.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return HealthExpired
	}
	switch platform {
	case models.PlatformMicrosoft:
		switch {
		case ttl < 2*time.Hour:
			return HealthCritical
		case ttl < 6*time.Hour:
			return HealthWarning
		}
	case models.PlatformMeta:
		switch {
		case ttl < 24*time.Hour:
			return HealthCritical
		case ttl < 7*24*time.Hour:
			return HealthWarning
		case ttl < 14*24*time.Hour:
			return HealthNotice
		}
	}
	return HealthHealthy
}

var healthRank = map[string]int{
	HealthHealthy:  0,
	HealthNotice:   1,
	HealthWarning:  2,
	HealthCritical: 3,
	HealthExpired:  3,
	HealthInvalid:  3,
	HealthMissing:  3,
}

// CheckAll classifies every platform credential and folds the worst state
// into the overall status.
func (m *TokenHealthMonitor) CheckAll(ctx context.Context) (TokenHealthReport, error) {
	now := time.Now().UTC()
	report := TokenHealthReport{OverallStatus: HealthHealthy, CheckedAt: now}
	worst := 0
	for _, platform := range models.Platforms() {
		cred, err := m.Store.GetCredential(ctx, platform)
		if err != nil {
			return TokenHealthReport{}, err
		}
		status := classifyToken(platform, cred, now)
		entry := PlatformTokenHealth{Platform: platform, Status: status}
		if cred != nil {
			expiresAt := cred.ExpiresAt
			entry.ExpiresAt = &expiresAt
			if ttl := expiresAt.Sub(now); ttl > 0 {
				entry.ExpiresIn = ttl.Round(time.Minute).String()
			}
			entry.RefreshError = cred.RefreshError
		}
		report.Platforms = append(report.Platforms, entry)

		if rank := healthRank[status]; rank > worst {
			worst = rank
			switch rank {
			case 1:
				report.OverallStatus = HealthNotice
			case 2:
				report.OverallStatus = HealthWarning
			case 3:
				report.OverallStatus = HealthCritical
			}
		}
		if healthRank[status] >= 3 {
			report.Alerts = append(report.Alerts,
				fmt.Sprintf("%s credential is %s and needs attention", platform, status))
		}
	}
	return report, nil
}

// ScheduledCheck is the cron entry point: classify every platform, surface
// the alerts, then run a proactive pass whenever anything is unhealthy. The
// pass picks the warning-band platforms itself, so one platform in a
// terminal state never suppresses the refresh of another.
func (m *TokenHealthMonitor) ScheduledCheck(ctx context.Context) error {
	report, err := m.CheckAll(ctx)
	if err != nil {
		return err
	}
	if m.Logger != nil {
		for _, alert := range report.Alerts {
			m.Logger.Error("token health alert",
				zap.String("alert", alert),
				zap.String("overall_status", report.OverallStatus))
		}
	}
	if report.OverallStatus == HealthHealthy {
		return nil
	}
	_, err = m.ProactiveRefresh(ctx)
	return err
}

// ProactiveRefresh refreshes every platform sitting in the warning band.
// Healthy platforms are left alone; critical/expired/invalid ones need the
// on-demand path or manual intervention, not a background nudge.
func (m *TokenHealthMonitor) ProactiveRefresh(ctx context.Context) (ProactiveRefreshResult, error) {
	report, err := m.CheckAll(ctx)
	if err != nil {
		return ProactiveRefreshResult{}, err
	}
	result := ProactiveRefreshResult{}
	for _, entry := range report.Platforms {
		if entry.Status != HealthWarning {
			continue
		}
		if _, err := m.Tokens.Refresh(ctx, entry.Platform); err != nil {
			result.Failed = append(result.Failed, entry.Platform)
			if m.Logger != nil {
				m.Logger.Warn("proactive token refresh failed",
					zap.String("platform", entry.Platform), zap.Error(err))
			}
			continue
		}
		result.Refreshed = append(result.Refreshed, entry.Platform)
		if m.Logger != nil {
			m.Logger.Info("proactively refreshed token", zap.String("platform", entry.Platform))
		}
	}
	return result, nil
}
