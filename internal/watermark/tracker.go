package watermark

import (
	"context"
	"time"

	"adsync/internal/models"
	"adsync/internal/repository"
)

// Watermark is the per (platform, entity) "how far synced" marker, read
// from the latest completed sync run for the pair.
type Watermark struct {
	Platform         string
	EntityType       string
	LastSyncType     string
	LastSyncTime     time.Time
	LastModifiedTime *time.Time
	NextPageToken    *string
}

// Window is the ephemeral extraction bound computed for one run. A nil
// ModifiedSince means unbounded (historical backfill).
type Window struct {
	ModifiedSince *time.Time
	ModifiedUntil *time.Time
	PageToken     *string
}

// Overrides are the caller knobs that take precedence over the watermark.
// Lookback values must already be resolved to their effective defaults.
type Overrides struct {
	Backfill      bool
	ForceFull     bool
	StartDate     *time.Time
	EndDate       *time.Time
	LookbackHours int
	LookbackDays  int
}

type Tracker struct {
	Runs repository.SyncRunStore

	// DefaultWindow bounds the first-ever sync of a pair. Defaults to 7 days.
	DefaultWindow time.Duration
	// FullWindow is the force-full re-fetch span. Defaults to 30 days.
	FullWindow time.Duration
}

func (t *Tracker) defaultWindow() time.Duration {
	if t.DefaultWindow > 0 {
		return t.DefaultWindow
	}
	return 7 * 24 * time.Hour
}

func (t *Tracker) fullWindow() time.Duration {
	if t.FullWindow > 0 {
		return t.FullWindow
	}
	return 30 * 24 * time.Hour
}

// GetWatermark reads the pair's watermark, defaulting to now−DefaultWindow
// when the pair has never completed a run.
func (t *Tracker) GetWatermark(ctx context.Context, platform, entityType string) (Watermark, error) {
	run, err := t.Runs.GetLatestCompletedRun(ctx, platform, entityType)
	if err != nil {
		return Watermark{}, err
	}
	if run == nil {
		return Watermark{
			Platform:     platform,
			EntityType:   entityType,
			LastSyncTime: time.Now().UTC().Add(-t.defaultWindow()),
		}, nil
	}
	return Watermark{
		Platform:         platform,
		EntityType:       entityType,
		LastSyncType:     run.SyncType,
		LastSyncTime:     run.StartTime,
		LastModifiedTime: run.WatermarkTS,
		NextPageToken:    run.NextPageToken,
	}, nil
}

// DeriveWindow resolves the extraction window for the current moment.
func (t *Tracker) DeriveWindow(wm Watermark, ov Overrides) Window {
	return DeriveWindow(wm, ov, time.Now().UTC(), t.fullWindow())
}

// DeriveWindow computes the lower bound by priority: backfill (unbounded) >
// force-full (now−fullWindow, watermark ignored) > explicit dates (verbatim)
// > incremental. The incremental base is last_modified_time when the
// previous run recorded one, else last_sync_time, shifted earlier by the
// lookback buffer: platforms restate yesterday's metrics for hours after
// midnight, and the idempotent upserts make the redundant re-fetch cheap.
func DeriveWindow(wm Watermark, ov Overrides, now time.Time, fullWindow time.Duration) Window {
	if ov.Backfill {
		return Window{PageToken: resumeToken(wm, models.SyncTypeBackfill)}
	}
	if ov.ForceFull {
		since := now.Add(-fullWindow)
		return Window{ModifiedSince: &since}
	}
	if ov.StartDate != nil {
		return Window{ModifiedSince: ov.StartDate, ModifiedUntil: ov.EndDate}
	}
	base := wm.LastSyncTime
	if wm.LastModifiedTime != nil {
		base = *wm.LastModifiedTime
	}
	lookback := time.Duration(ov.LookbackHours)*time.Hour +
		time.Duration(ov.LookbackDays)*24*time.Hour
	since := base.Add(-lookback)
	return Window{ModifiedSince: &since, PageToken: resumeToken(wm, models.SyncTypeIncremental)}
}

// resumeToken yields the stored cursor only when the previous run used the
// same sync mode. A page cursor is valid only for the query that produced
// it; a cursor recorded under an unbounded backfill must not seed a
// filtered incremental window, or vice versa.
func resumeToken(wm Watermark, mode string) *string {
	if wm.LastSyncType != mode {
		return nil
	}
	return wm.NextPageToken
}
