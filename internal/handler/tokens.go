package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"adsync/internal/models"
	"adsync/internal/service"
	"adsync/internal/token"
)

// TokenMonitor is the health/refresh surface the HTTP layer needs.
type TokenMonitor interface {
	CheckAll(ctx context.Context) (service.TokenHealthReport, error)
	ProactiveRefresh(ctx context.Context) (service.ProactiveRefreshResult, error)
}

type TokenRefresher interface {
	Refresh(ctx context.Context, platform string) (*models.Credential, error)
}

type TokenHandler struct {
	Monitor TokenMonitor
	Tokens  TokenRefresher
}

func (h *TokenHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/tokens")
	group.GET("/health", h.health)
	group.POST("/refresh", h.refresh)
}

func (h *TokenHandler) health(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusInternalServerError, "token monitor unavailable", nil)
		return
	}
	report, err := h.Monitor.CheckAll(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// refresh forces a refresh for one platform, or runs the proactive pass over
// every platform when no platform is given.
func (h *TokenHandler) refresh(c *gin.Context) {
	platform := strings.ToLower(strings.TrimSpace(c.Query("platform")))
	if platform == "" {
		if h.Monitor == nil {
			Error(c, http.StatusInternalServerError, "token monitor unavailable", nil)
			return
		}
		result, err := h.Monitor.ProactiveRefresh(c.Request.Context())
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		Ok(c, result, nil)
		return
	}
	if h.Tokens == nil {
		Error(c, http.StatusInternalServerError, "token manager unavailable", nil)
		return
	}
	cred, err := h.Tokens.Refresh(c.Request.Context(), platform)
	if err != nil {
		status := http.StatusBadGateway
		switch token.ReasonOf(err) {
		case token.ReasonMissingSetup:
			status = http.StatusNotFound
		case token.ReasonManualReauthRequired:
			status = http.StatusConflict
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"platform":   cred.Platform,
		"expires_at": cred.ExpiresAt,
		"status":     cred.Status,
	}, nil)
}
