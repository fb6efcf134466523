package gormrepository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adsync/internal/models"
	"adsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- credentials ------------------------------------------------------------

func (s *Store) GetCredential(ctx context.Context, platform string) (*models.Credential, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	platform = strings.TrimSpace(platform)
	if platform == "" {
		return nil, nil
	}
	var item models.Credential
	err := s.db.WithContext(ctx).Model(&models.Credential{}).Where("platform = ?", platform).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveCredential(ctx context.Context, item *models.Credential) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Platform) == "" {
		return nil
	}
	item.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}},
		UpdateAll: true,
	}).Create(item).Error
}

func (s *Store) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Credential
	if err := s.db.WithContext(ctx).
		Model(&models.Credential{}).
		Order("platform asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- sync runs --------------------------------------------------------------

func (s *Store) CreateSyncRun(ctx context.Context, run *models.SyncRun, staleAfter time.Duration) error {
	if s == nil || s.db == nil || run == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&models.SyncRun{}).
			Where("platform = ?", run.Platform).
			Where("entity_type = ?", run.EntityType).
			Where("status = ?", models.RunStatusRunning)
		if staleAfter > 0 {
			query = query.Where("start_time > ?", time.Now().UTC().Add(-staleAfter))
		}
		var blocking []string
		if err := query.Clauses(clause.Locking{Strength: "UPDATE"}).
			Limit(1).Pluck("id", &blocking).Error; err != nil {
			return err
		}
		if len(blocking) > 0 {
			return repository.ErrRunInProgress
		}
		return tx.Create(run).Error
	})
}

func (s *Store) FinalizeSyncRun(ctx context.Context, id string, fin repository.RunFinalization) (bool, error) {
	if s == nil || s.db == nil || strings.TrimSpace(id) == "" {
		return false, nil
	}
	updates := map[string]any{
		"status":            fin.Status,
		"end_time":          fin.EndTime,
		"records_processed": fin.Processed,
		"records_inserted":  fin.Inserted,
		"records_updated":   fin.Updated,
		"records_failed":    fin.Failed,
	}
	if fin.ErrorMessage != nil {
		updates["error_message"] = *fin.ErrorMessage
	}
	if fin.WatermarkTS != nil {
		updates["watermark_ts"] = *fin.WatermarkTS
	}
	if fin.NextPageToken != nil {
		updates["next_page_token"] = *fin.NextPageToken
	}
	if len(fin.Stats) > 0 {
		updates["stats"] = fin.Stats
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Where("status = ?", models.RunStatusRunning).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (s *Store) GetLatestCompletedRun(ctx context.Context, platform, entityType string) (*models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncRun
	err := s.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("platform = ?", platform).
		Where("entity_type = ?", entityType).
		Where("status = ?", models.RunStatusCompleted).
		Order("start_time desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyRunFilters(s.db.WithContext(ctx).Model(&models.SyncRun{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "start_time")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.SyncRun
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.applyRunFilters(s.db.WithContext(ctx).Model(&models.SyncRun{}), params).Count(&total).Error
	return total, err
}

func (s *Store) applyRunFilters(query *gorm.DB, params repository.ListSyncRunsParams) *gorm.DB {
	if params.Platform != nil && strings.TrimSpace(*params.Platform) != "" {
		query = query.Where("platform = ?", strings.TrimSpace(*params.Platform))
	}
	if params.EntityType != nil && strings.TrimSpace(*params.EntityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*params.EntityType))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("start_time >= ?", *params.Since)
	}
	return query
}

func (s *Store) MarkStaleRunsFailed(ctx context.Context, runningSince time.Time) (int64, error) {
	if s == nil || s.db == nil || runningSince.IsZero() {
		return 0, nil
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("status = ?", models.RunStatusRunning).
		Where("start_time < ?", runningSince).
		Updates(map[string]any{
			"status":        models.RunStatusFailed,
			"end_time":      now,
			"error_message": "reaped by janitor: run exceeded staleness threshold",
		})
	return res.RowsAffected, res.Error
}

// --- batch upserts ----------------------------------------------------------

func (s *Store) UpsertRows(ctx context.Context, rows any, conflictColumns []string) (int64, error) {
	if s == nil || s.db == nil || rows == nil {
		return 0, nil
	}
	cols := make([]clause.Column, 0, len(conflictColumns))
	for _, name := range conflictColumns {
		cols = append(cols, clause.Column{Name: name})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   cols,
		UpdateAll: true,
	}).Create(rows)
	return res.RowsAffected, res.Error
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	switch column {
	case "start_time", "end_time", "platform", "entity_type", "status":
	default:
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
