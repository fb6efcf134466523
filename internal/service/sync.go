package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"adsync/internal/models"
	"adsync/internal/repository"
	"adsync/internal/watermark"
)

// ExtractResult is what a platform extractor returns for one entity type,
// already mapped onto store models. An "ads" extraction fans out into the
// ads slice plus the creative assets referenced by those ads.
type ExtractResult struct {
	Campaigns      []models.Campaign
	Ads            []models.Ad
	CreativeAssets []models.CreativeAsset
	Performance    []models.AdPerformance

	// MaxModifiedTime is the largest external modification timestamp seen;
	// it becomes the next watermark. NextPageToken resumes an interrupted
	// paged backfill.
	MaxModifiedTime *time.Time
	NextPageToken   *string
}

// Extractor is the per-platform extraction capability. Transport, auth and
// quota failures surface as the returned error and fail the whole run.
type Extractor interface {
	Extract(ctx context.Context, accessToken, entityType string, window watermark.Window) (*ExtractResult, error)
}

// TokenProvider is the slice of the token lifecycle manager the
// orchestrator needs.
type TokenProvider interface {
	GetValidToken(ctx context.Context, platform string) (*models.Credential, error)
}

// RunResult is the caller-facing outcome of one (platform, entity) run.
type RunResult struct {
	RunID            string `json:"run_id,omitempty"`
	Platform         string `json:"platform"`
	EntityType       string `json:"entity_type"`
	Status           string `json:"status"`
	RecordsProcessed int    `json:"records_processed"`
	RecordsInserted  int    `json:"records_inserted"`
	RecordsUpdated   int    `json:"records_updated"`
	RecordsFailed    int    `json:"records_failed"`
	ErrorMessage     string `json:"error_message,omitempty"`
}

// SyncSummary folds the per-pair results: failed when nothing succeeded,
// partial when some pairs failed or any run was partial, else completed.
type SyncSummary struct {
	Status           string      `json:"status"`
	Runs             []RunResult `json:"runs"`
	Skipped          []string    `json:"skipped,omitempty"`
	RecordsProcessed int         `json:"records_processed"`
	RecordsInserted  int         `json:"records_inserted"`
	RecordsUpdated   int         `json:"records_updated"`
	RecordsFailed    int         `json:"records_failed"`
}

// SyncService is the incremental sync orchestrator. Pairs are processed
// sequentially: one run row is claimed and finalized before the next pair
// starts, bounding platform API load and keeping a single watermark writer
// per pair.
type SyncService struct {
	Runs       repository.SyncRunStore
	Tokens     TokenProvider
	Tracker    *watermark.Tracker
	Batch      *BatchUpserter
	Extractors map[string]Extractor
	Logger     *zap.Logger

	// LookbackHours/LookbackDays are the incremental re-fetch buffer
	// defaults applied when the caller leaves them unset.
	LookbackHours int
	LookbackDays  int
	// StaleRunAfter lets a new claim displace a running row older than
	// this; the janitor fails such rows on its own cadence.
	StaleRunAfter time.Duration
}

func (s *SyncService) lookbackHours() int {
	if s.LookbackHours > 0 {
		return s.LookbackHours
	}
	return 2
}

// Sync validates the request, expands it into pairs and runs them in order.
// Validation failures return before any run row exists.
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (SyncSummary, error) {
	plan, err := buildPlan(req, s.lookbackHours(), s.LookbackDays)
	if err != nil {
		return SyncSummary{}, err
	}

	summary := SyncSummary{}
	for _, p := range plan.Pairs {
		extractor, ok := s.Extractors[p.Platform]
		if !ok || !supportsEntity(p.Platform, p.EntityType) {
			if s.Logger != nil {
				s.Logger.Warn("unsupported platform/entity pair skipped",
					zap.String("platform", p.Platform),
					zap.String("entity_type", p.EntityType))
			}
			summary.Skipped = append(summary.Skipped, p.Platform+"/"+p.EntityType)
			continue
		}
		res := s.syncPair(ctx, p, plan, extractor)
		summary.Runs = append(summary.Runs, res)
		summary.RecordsProcessed += res.RecordsProcessed
		summary.RecordsInserted += res.RecordsInserted
		summary.RecordsUpdated += res.RecordsUpdated
		summary.RecordsFailed += res.RecordsFailed
	}
	summary.Status = foldStatus(summary.Runs)
	return summary, nil
}

func foldStatus(runs []RunResult) string {
	if len(runs) == 0 {
		return models.RunStatusCompleted
	}
	failed := 0
	partial := 0
	for _, run := range runs {
		switch run.Status {
		case models.RunStatusFailed:
			failed++
		case models.RunStatusPartial:
			partial++
		}
	}
	switch {
	case failed == len(runs):
		return models.RunStatusFailed
	case failed > 0 || partial > 0:
		return models.RunStatusPartial
	default:
		return models.RunStatusCompleted
	}
}

func (s *SyncService) syncPair(ctx context.Context, p pair, plan syncPlan, extractor Extractor) RunResult {
	run := &models.SyncRun{
		ID:         uuid.NewString(),
		Platform:   p.Platform,
		EntityType: p.EntityType,
		SyncType:   plan.Mode,
		Status:     models.RunStatusRunning,
		StartTime:  time.Now().UTC(),
	}
	// The run row exists before any extraction so a crash mid-run leaves an
	// auditable record for the janitor.
	if err := s.Runs.CreateSyncRun(ctx, run, s.StaleRunAfter); err != nil {
		if errors.Is(err, repository.ErrRunInProgress) && s.Logger != nil {
			s.Logger.Warn("sync pair already claimed by a running run",
				zap.String("platform", p.Platform),
				zap.String("entity_type", p.EntityType))
		}
		return RunResult{
			Platform:     p.Platform,
			EntityType:   p.EntityType,
			Status:       models.RunStatusFailed,
			ErrorMessage: err.Error(),
		}
	}

	wm, err := s.Tracker.GetWatermark(ctx, p.Platform, p.EntityType)
	if err != nil {
		return s.finalizeFailed(ctx, run, err)
	}
	window := s.Tracker.DeriveWindow(wm, plan.Overrides)

	cred, err := s.Tokens.GetValidToken(ctx, p.Platform)
	if err != nil {
		return s.finalizeFailed(ctx, run, err)
	}

	extracted, err := extractor.Extract(ctx, cred.AccessToken, p.EntityType, window)
	if err != nil {
		return s.finalizeFailed(ctx, run, err)
	}
	if extracted == nil {
		extracted = &ExtractResult{}
	}

	outcome, stats := s.writeBatches(ctx, extracted)
	status := models.RunStatusCompleted
	if outcome.Failed > 0 {
		status = models.RunStatusPartial
	}
	fin := repository.RunFinalization{
		Status:        status,
		EndTime:       time.Now().UTC(),
		Processed:     outcome.Processed(),
		Inserted:      outcome.Inserted,
		Updated:       outcome.Updated,
		Failed:        outcome.Failed,
		WatermarkTS:   extracted.MaxModifiedTime,
		NextPageToken: extracted.NextPageToken,
		Stats:         statsJSON(stats),
	}
	if _, err := s.Runs.FinalizeSyncRun(ctx, run.ID, fin); err != nil && s.Logger != nil {
		// The data is written; only the bookkeeping row is behind. The
		// lookback buffer re-fetches whatever the lost watermark covered.
		s.Logger.Error("sync run finalization failed",
			zap.String("run_id", run.ID),
			zap.String("platform", p.Platform),
			zap.String("entity_type", p.EntityType),
			zap.Error(err))
	}
	if s.Logger != nil {
		s.Logger.Info("sync run finished",
			zap.String("run_id", run.ID),
			zap.String("platform", p.Platform),
			zap.String("entity_type", p.EntityType),
			zap.String("status", status),
			zap.Int("processed", outcome.Processed()),
			zap.Int("failed", outcome.Failed))
	}
	return RunResult{
		RunID:            run.ID,
		Platform:         p.Platform,
		EntityType:       p.EntityType,
		Status:           status,
		RecordsProcessed: outcome.Processed(),
		RecordsInserted:  outcome.Inserted,
		RecordsUpdated:   outcome.Updated,
		RecordsFailed:    outcome.Failed,
	}
}

// writeBatches routes the extraction output to per-collection chunked
// upserts. The target tables are disjoint, so sub-entity batches run
// concurrently and their outcomes are summed.
func (s *SyncService) writeBatches(ctx context.Context, extracted *ExtractResult) (BatchOutcome, map[string]int) {
	var (
		mu      sync.Mutex
		outcome BatchOutcome
		stats   = map[string]int{}
	)
	record := func(name string, o BatchOutcome) {
		mu.Lock()
		outcome.Add(o)
		stats[name] = o.Processed()
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if len(extracted.Campaigns) > 0 {
		g.Go(func() error {
			record("campaigns", UpsertChunked(gctx, s.Batch, "ad_campaigns",
				extracted.Campaigns, []string{"platform", "campaign_id"}))
			return nil
		})
	}
	if len(extracted.Ads) > 0 {
		g.Go(func() error {
			record("ads", UpsertChunked(gctx, s.Batch, "ads",
				extracted.Ads, []string{"platform", "ad_id"}))
			return nil
		})
	}
	if len(extracted.CreativeAssets) > 0 {
		g.Go(func() error {
			record("creative_assets", UpsertChunked(gctx, s.Batch, "creative_assets",
				extracted.CreativeAssets, []string{"platform", "asset_id"}))
			return nil
		})
	}
	if len(extracted.Performance) > 0 {
		g.Go(func() error {
			record("performance", UpsertChunked(gctx, s.Batch, "ad_performance",
				extracted.Performance, []string{"platform", "level", "entity_id", "stat_date"}))
			return nil
		})
	}
	_ = g.Wait()
	return outcome, stats
}

// finalizeFailed is best-effort: a failed finalization write is logged and
// never masks the original run error.
func (s *SyncService) finalizeFailed(ctx context.Context, run *models.SyncRun, cause error) RunResult {
	msg := cause.Error()
	fin := repository.RunFinalization{
		Status:       models.RunStatusFailed,
		EndTime:      time.Now().UTC(),
		ErrorMessage: &msg,
	}
	if _, err := s.Runs.FinalizeSyncRun(ctx, run.ID, fin); err != nil && s.Logger != nil {
		s.Logger.Warn("failed-run finalization write failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}
	if s.Logger != nil {
		s.Logger.Warn("sync run failed",
			zap.String("run_id", run.ID),
			zap.String("platform", run.Platform),
			zap.String("entity_type", run.EntityType),
			zap.Error(cause))
	}
	return RunResult{
		RunID:        run.ID,
		Platform:     run.Platform,
		EntityType:   run.EntityType,
		Status:       models.RunStatusFailed,
		ErrorMessage: msg,
	}
}

// ReapStaleRuns fails running rows older than StaleRunAfter. Registered as
// a scheduled job so orphans from crashed processes are reconciled without
// manual sweeps.
func (s *SyncService) ReapStaleRuns(ctx context.Context) (int64, error) {
	threshold := s.StaleRunAfter
	if threshold <= 0 {
		threshold = 2 * time.Hour
	}
	reaped, err := s.Runs.MarkStaleRunsFailed(ctx, time.Now().UTC().Add(-threshold))
	if err != nil {
		return 0, err
	}
	if reaped > 0 && s.Logger != nil {
		s.Logger.Warn("reaped stale sync runs", zap.Int64("count", reaped))
	}
	return reaped, nil
}

func statsJSON(stats map[string]int) datatypes.JSON {
	if len(stats) == 0 {
		return nil
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	return datatypes.JSON(payload)
}
