package service

import (
	"fmt"
	"strings"
	"time"

	"adsync/internal/models"
	"adsync/internal/watermark"
)

const (
	EntityCampaigns   = "campaigns"
	EntityAds         = "ads"
	EntityCreatives   = "creatives"
	EntityPerformance = "performance"
)

const (
	ModeIncremental = models.SyncTypeIncremental
	ModeFull        = models.SyncTypeFull
	ModeBackfill    = models.SyncTypeBackfill
)

const PlatformAll = "all"

var entitiesByPlatform = map[string][]string{
	models.PlatformMicrosoft: {EntityCampaigns, EntityAds, EntityPerformance},
	models.PlatformMeta:      {EntityCampaigns, EntityAds, EntityCreatives, EntityPerformance},
}

func validPlatforms() []string {
	return []string{models.PlatformMicrosoft, models.PlatformMeta, PlatformAll}
}

func validModes() []string {
	return []string{ModeIncremental, ModeFull, ModeBackfill}
}

func validEntities() []string {
	return []string{EntityCampaigns, EntityAds, EntityCreatives, EntityPerformance}
}

// SyncRequest is the caller-facing trigger payload.
type SyncRequest struct {
	Platform      string   `json:"platform"`
	Mode          string   `json:"mode"`
	Entities      []string `json:"entities"`
	LookbackHours *int     `json:"lookback_hours"`
	LookbackDays  *int     `json:"lookback_days"`
	StartDate     *string  `json:"start_date"`
	EndDate       *string  `json:"end_date"`
}

// ValidationError rejects bad caller input before any sync run row exists,
// listing the accepted values.
type ValidationError struct {
	Field string
	Value string
	Valid []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q (valid: %s)", e.Field, e.Value, strings.Join(e.Valid, ", "))
}

type pair struct {
	Platform   string
	EntityType string
}

type syncPlan struct {
	Mode      string
	Pairs     []pair
	Overrides watermark.Overrides
}

const dateLayout = "2006-01-02"

// buildPlan validates the request and expands it into the ordered pair list.
// defaultLookbackHours/Days apply when the caller leaves the knobs unset.
func buildPlan(req SyncRequest, defaultLookbackHours, defaultLookbackDays int) (syncPlan, error) {
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	switch platform {
	case models.PlatformMicrosoft, models.PlatformMeta, PlatformAll:
	default:
		return syncPlan{}, &ValidationError{Field: "platform", Value: req.Platform, Valid: validPlatforms()}
	}

	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = ModeIncremental
	}
	switch mode {
	case ModeIncremental, ModeFull, ModeBackfill:
	default:
		return syncPlan{}, &ValidationError{Field: "mode", Value: req.Mode, Valid: validModes()}
	}

	entities := make([]string, 0, len(req.Entities))
	for _, raw := range req.Entities {
		entity := strings.ToLower(strings.TrimSpace(raw))
		if !containsString(validEntities(), entity) {
			return syncPlan{}, &ValidationError{Field: "entity", Value: raw, Valid: validEntities()}
		}
		if !containsString(entities, entity) {
			entities = append(entities, entity)
		}
	}

	ov := watermark.Overrides{
		Backfill:      mode == ModeBackfill,
		ForceFull:     mode == ModeFull,
		LookbackHours: defaultLookbackHours,
		LookbackDays:  defaultLookbackDays,
	}
	if req.LookbackHours != nil {
		if *req.LookbackHours < 0 {
			return syncPlan{}, &ValidationError{Field: "lookback_hours", Value: fmt.Sprint(*req.LookbackHours), Valid: []string{">= 0"}}
		}
		ov.LookbackHours = *req.LookbackHours
	}
	if req.LookbackDays != nil {
		if *req.LookbackDays < 0 {
			return syncPlan{}, &ValidationError{Field: "lookback_days", Value: fmt.Sprint(*req.LookbackDays), Valid: []string{">= 0"}}
		}
		ov.LookbackDays = *req.LookbackDays
	}
	if req.StartDate != nil && strings.TrimSpace(*req.StartDate) != "" {
		parsed, err := time.ParseInLocation(dateLayout, strings.TrimSpace(*req.StartDate), time.UTC)
		if err != nil {
			return syncPlan{}, &ValidationError{Field: "start_date", Value: *req.StartDate, Valid: []string{dateLayout}}
		}
		ov.StartDate = &parsed
	}
	if req.EndDate != nil && strings.TrimSpace(*req.EndDate) != "" {
		parsed, err := time.ParseInLocation(dateLayout, strings.TrimSpace(*req.EndDate), time.UTC)
		if err != nil {
			return syncPlan{}, &ValidationError{Field: "end_date", Value: *req.EndDate, Valid: []string{dateLayout}}
		}
		end := parsed.Add(24*time.Hour - time.Nanosecond)
		ov.EndDate = &end
	}
	if ov.StartDate != nil && ov.EndDate != nil && ov.StartDate.After(*ov.EndDate) {
		return syncPlan{}, &ValidationError{Field: "start_date", Value: *req.StartDate, Valid: []string{"<= end_date"}}
	}

	platforms := []string{platform}
	if platform == PlatformAll {
		platforms = models.Platforms()
	}
	plan := syncPlan{Mode: mode, Overrides: ov}
	for _, p := range platforms {
		wanted := entities
		if len(wanted) == 0 {
			wanted = entitiesByPlatform[p]
		}
		for _, entity := range wanted {
			plan.Pairs = append(plan.Pairs, pair{Platform: p, EntityType: entity})
		}
	}
	return plan, nil
}

func supportsEntity(platform, entity string) bool {
	return containsString(entitiesByPlatform[platform], entity)
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
