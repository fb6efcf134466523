package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"adsync/internal/repository"
	"adsync/internal/service"
)

// Syncer is the orchestrator surface the HTTP layer needs.
type Syncer interface {
	Sync(ctx context.Context, req service.SyncRequest) (service.SyncSummary, error)
}

type SyncHandler struct {
	Service Syncer
	Runs    repository.SyncRunStore
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1")
	group.POST("/sync", h.triggerSync)
	group.GET("/runs", h.listRuns)
}

func (h *SyncHandler) triggerSync(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "sync service unavailable", nil)
		return
	}
	var req service.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	summary, err := h.Service.Sync(c.Request.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			Error(c, http.StatusBadRequest, verr.Error(), map[string]any{
				"field": verr.Field,
				"valid": verr.Valid,
			})
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, summary, nil)
}

func (h *SyncHandler) listRuns(c *gin.Context) {
	if h.Runs == nil {
		Error(c, http.StatusInternalServerError, "run store unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	var sinceTime *time.Time
	if since := strings.TrimSpace(c.Query("since")); since != "" {
		if parsed, err := time.Parse(time.RFC3339, since); err == nil {
			parsed = parsed.UTC()
			sinceTime = &parsed
		}
	}

	params := repository.ListSyncRunsParams{
		Limit:      limit,
		Offset:     offset,
		Platform:   strQueryPtr(c, "platform"),
		EntityType: strQueryPtr(c, "entity_type"),
		Status:     strQueryPtr(c, "status"),
		Since:      sinceTime,
		OrderBy:    "start_time",
		Asc:        boolPtr(false),
	}
	items, err := h.Runs.ListSyncRuns(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Runs.CountSyncRuns(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}
