package watermark

import (
	"context"
	"testing"
	"time"

	"adsync/internal/models"
	"adsync/internal/repository"
)

type stubRunStore struct {
	latest *models.SyncRun
	err    error
}

func (s *stubRunStore) CreateSyncRun(ctx context.Context, run *models.SyncRun, staleAfter time.Duration) error {
	return nil
}

func (s *stubRunStore) FinalizeSyncRun(ctx context.Context, id string, fin repository.RunFinalization) (bool, error) {
	return true, nil
}

func (s *stubRunStore) GetLatestCompletedRun(ctx context.Context, platform, entityType string) (*models.SyncRun, error) {
	return s.latest, s.err
}

func (s *stubRunStore) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	return nil, nil
}

func (s *stubRunStore) CountSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) (int64, error) {
	return 0, nil
}

func (s *stubRunStore) MarkStaleRunsFailed(ctx context.Context, runningSince time.Time) (int64, error) {
	return 0, nil
}

func TestGetWatermark_NoCompletedRun(t *testing.T) {
	tracker := &Tracker{Runs: &stubRunStore{}}
	before := time.Now().UTC().Add(-7 * 24 * time.Hour)
	wm, err := tracker.GetWatermark(context.Background(), "microsoft", "campaigns")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	after := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if wm.LastSyncTime.Before(before) || wm.LastSyncTime.After(after) {
		t.Fatalf("LastSyncTime=%v want ~now-7d", wm.LastSyncTime)
	}
	if wm.LastModifiedTime != nil {
		t.Fatalf("LastModifiedTime=%v want nil", wm.LastModifiedTime)
	}
}

func TestGetWatermark_FromCompletedRun(t *testing.T) {
	start := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	modified := start.Add(-30 * time.Minute)
	token := "page-4"
	tracker := &Tracker{Runs: &stubRunStore{latest: &models.SyncRun{
		Platform:      "meta",
		EntityType:    "ads",
		SyncType:      models.SyncTypeIncremental,
		StartTime:     start,
		WatermarkTS:   &modified,
		NextPageToken: &token,
	}}}
	wm, err := tracker.GetWatermark(context.Background(), "meta", "ads")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !wm.LastSyncTime.Equal(start) {
		t.Fatalf("LastSyncTime=%v want %v", wm.LastSyncTime, start)
	}
	if wm.LastSyncType != models.SyncTypeIncremental {
		t.Fatalf("LastSyncType=%q want incremental", wm.LastSyncType)
	}
	if wm.LastModifiedTime == nil || !wm.LastModifiedTime.Equal(modified) {
		t.Fatalf("LastModifiedTime=%v want %v", wm.LastModifiedTime, modified)
	}
	if wm.NextPageToken == nil || *wm.NextPageToken != token {
		t.Fatalf("NextPageToken=%v want %q", wm.NextPageToken, token)
	}
}

func TestDeriveWindow_IncrementalLookback(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	modified := now.Add(-1 * time.Hour)
	wm := Watermark{LastSyncTime: now.Add(-3 * time.Hour), LastModifiedTime: &modified}
	win := DeriveWindow(wm, Overrides{LookbackHours: 2}, now, 30*24*time.Hour)
	want := modified.Add(-2 * time.Hour)
	if win.ModifiedSince == nil || !win.ModifiedSince.Equal(want) {
		t.Fatalf("ModifiedSince=%v want %v", win.ModifiedSince, want)
	}
	if win.ModifiedUntil != nil {
		t.Fatalf("ModifiedUntil=%v want nil", win.ModifiedUntil)
	}
}

func TestDeriveWindow_IncrementalFallsBackToSyncTime(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	wm := Watermark{LastSyncTime: now.Add(-6 * time.Hour)}
	win := DeriveWindow(wm, Overrides{LookbackHours: 2, LookbackDays: 1}, now, 30*24*time.Hour)
	want := wm.LastSyncTime.Add(-26 * time.Hour)
	if win.ModifiedSince == nil || !win.ModifiedSince.Equal(want) {
		t.Fatalf("ModifiedSince=%v want %v", win.ModifiedSince, want)
	}
}

func TestDeriveWindow_ForceFullIgnoresWatermark(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	modified := now.Add(-1 * time.Hour)
	wm := Watermark{LastSyncTime: now.Add(-2 * time.Hour), LastModifiedTime: &modified}
	win := DeriveWindow(wm, Overrides{ForceFull: true}, now, 30*24*time.Hour)
	want := now.Add(-30 * 24 * time.Hour)
	if win.ModifiedSince == nil || !win.ModifiedSince.Equal(want) {
		t.Fatalf("ModifiedSince=%v want %v", win.ModifiedSince, want)
	}
}

func TestDeriveWindow_BackfillUnbounded(t *testing.T) {
	now := time.Now().UTC()
	token := "resume-here"
	wm := Watermark{
		LastSyncType:  models.SyncTypeBackfill,
		LastSyncTime:  now.Add(-time.Hour),
		NextPageToken: &token,
	}
	win := DeriveWindow(wm, Overrides{Backfill: true}, now, 30*24*time.Hour)
	if win.ModifiedSince != nil || win.ModifiedUntil != nil {
		t.Fatalf("window=%+v want unbounded", win)
	}
	if win.PageToken == nil || *win.PageToken != token {
		t.Fatalf("PageToken=%v want %q", win.PageToken, token)
	}
}

func TestDeriveWindow_CursorScopedToSyncMode(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	token := "backfill-page-9"
	wm := Watermark{
		LastSyncType:  models.SyncTypeBackfill,
		LastSyncTime:  now.Add(-3 * time.Hour),
		NextPageToken: &token,
	}

	// A backfill cursor must not be replayed under an incremental filter.
	win := DeriveWindow(wm, Overrides{LookbackHours: 2}, now, 30*24*time.Hour)
	if win.PageToken != nil {
		t.Fatalf("PageToken=%q want nil after mode change", *win.PageToken)
	}
	if win.ModifiedSince == nil {
		t.Fatalf("ModifiedSince=nil want incremental bound")
	}

	// An incremental cursor must not seed a backfill either.
	wm.LastSyncType = models.SyncTypeIncremental
	win = DeriveWindow(wm, Overrides{Backfill: true}, now, 30*24*time.Hour)
	if win.PageToken != nil {
		t.Fatalf("PageToken=%q want nil after mode change", *win.PageToken)
	}

	// Same mode keeps the cursor.
	win = DeriveWindow(wm, Overrides{LookbackHours: 2}, now, 30*24*time.Hour)
	if win.PageToken == nil || *win.PageToken != token {
		t.Fatalf("PageToken=%v want %q", win.PageToken, token)
	}
}

func TestDeriveWindow_ExplicitDatesVerbatim(t *testing.T) {
	now := time.Now().UTC()
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 15, 23, 59, 59, 0, time.UTC)
	modified := now.Add(-time.Hour)
	wm := Watermark{LastSyncTime: now.Add(-2 * time.Hour), LastModifiedTime: &modified}
	win := DeriveWindow(wm, Overrides{StartDate: &start, EndDate: &end, LookbackHours: 2}, now, 30*24*time.Hour)
	if win.ModifiedSince == nil || !win.ModifiedSince.Equal(start) {
		t.Fatalf("ModifiedSince=%v want %v", win.ModifiedSince, start)
	}
	if win.ModifiedUntil == nil || !win.ModifiedUntil.Equal(end) {
		t.Fatalf("ModifiedUntil=%v want %v", win.ModifiedUntil, end)
	}
}

func TestDeriveWindow_BackfillWinsOverForceFull(t *testing.T) {
	now := time.Now().UTC()
	win := DeriveWindow(Watermark{LastSyncTime: now}, Overrides{Backfill: true, ForceFull: true}, now, 30*24*time.Hour)
	if win.ModifiedSince != nil {
		t.Fatalf("ModifiedSince=%v want nil", win.ModifiedSince)
	}
}
