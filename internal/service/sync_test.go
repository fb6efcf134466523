package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"adsync/internal/models"
	"adsync/internal/repository"
	"adsync/internal/watermark"
)

type stubRuns struct {
	created     []*models.SyncRun
	finalized   map[string][]repository.RunFinalization
	latest      map[string]*models.SyncRun
	claimDenied map[string]bool
	reaped      int64
}

func newStubRuns() *stubRuns {
	return &stubRuns{
		finalized:   map[string][]repository.RunFinalization{},
		latest:      map[string]*models.SyncRun{},
		claimDenied: map[string]bool{},
	}
}

func pairKey(platform, entityType string) string {
	return platform + "/" + entityType
}

func (s *stubRuns) CreateSyncRun(ctx context.Context, run *models.SyncRun, staleAfter time.Duration) error {
	if s.claimDenied[pairKey(run.Platform, run.EntityType)] {
		return repository.ErrRunInProgress
	}
	copied := *run
	s.created = append(s.created, &copied)
	return nil
}

func (s *stubRuns) FinalizeSyncRun(ctx context.Context, id string, fin repository.RunFinalization) (bool, error) {
	s.finalized[id] = append(s.finalized[id], fin)
	return len(s.finalized[id]) == 1, nil
}

func (s *stubRuns) GetLatestCompletedRun(ctx context.Context, platform, entityType string) (*models.SyncRun, error) {
	return s.latest[pairKey(platform, entityType)], nil
}

func (s *stubRuns) ListSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) ([]models.SyncRun, error) {
	return nil, nil
}

func (s *stubRuns) CountSyncRuns(ctx context.Context, params repository.ListSyncRunsParams) (int64, error) {
	return 0, nil
}

func (s *stubRuns) MarkStaleRunsFailed(ctx context.Context, runningSince time.Time) (int64, error) {
	return s.reaped, nil
}

type stubTokens struct {
	cred *models.Credential
	err  error
}

func (s *stubTokens) GetValidToken(ctx context.Context, platform string) (*models.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.cred != nil {
		return s.cred, nil
	}
	return &models.Credential{Platform: platform, AccessToken: "test-token"}, nil
}

type stubExtractor struct {
	result  *ExtractResult
	err     error
	windows []watermark.Window
	tokens  []string
}

func (s *stubExtractor) Extract(ctx context.Context, accessToken, entityType string, window watermark.Window) (*ExtractResult, error) {
	s.windows = append(s.windows, window)
	s.tokens = append(s.tokens, accessToken)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newSyncService(runs *stubRuns, extractors map[string]Extractor) *SyncService {
	return &SyncService{
		Runs:       runs,
		Tokens:     &stubTokens{},
		Tracker:    &watermark.Tracker{Runs: runs},
		Batch:      &BatchUpserter{Store: &fakeBatchStore{}},
		Extractors: extractors,
	}
}

func TestSync_FirstRunUsesDefaultWindow(t *testing.T) {
	runs := newStubRuns()
	ext := &stubExtractor{result: &ExtractResult{Campaigns: campaignsNumbered("c1", "c2")}}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusCompleted {
		t.Fatalf("status=%q want completed", summary.Status)
	}
	if len(ext.windows) != 1 {
		t.Fatalf("extractions=%d want 1", len(ext.windows))
	}
	win := ext.windows[0]
	if win.ModifiedSince == nil {
		t.Fatalf("ModifiedSince nil, want ~now-7d-2h")
	}
	// Default window 7d plus the default 2h lookback.
	want := time.Now().UTC().Add(-7*24*time.Hour - 2*time.Hour)
	if diff := win.ModifiedSince.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("ModifiedSince=%v want ~%v", win.ModifiedSince, want)
	}
	if ext.tokens[0] != "test-token" {
		t.Fatalf("token=%q want test-token", ext.tokens[0])
	}
}

func TestSync_RunCreatedAndFinalizedOnce(t *testing.T) {
	runs := newStubRuns()
	ext := &stubExtractor{result: &ExtractResult{Campaigns: campaignsNumbered("c1", "c2", "c3")}}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(runs.created) != 1 {
		t.Fatalf("created=%d want 1", len(runs.created))
	}
	run := runs.created[0]
	if run.Status != models.RunStatusRunning || run.SyncType != models.SyncTypeIncremental {
		t.Fatalf("run=%+v want running/incremental", run)
	}
	fins := runs.finalized[run.ID]
	if len(fins) != 1 {
		t.Fatalf("finalizations=%d want 1", len(fins))
	}
	if fins[0].Status != models.RunStatusCompleted || fins[0].Processed != 3 || fins[0].Inserted != 3 {
		t.Fatalf("finalization=%+v want completed/3/3", fins[0])
	}
	if summary.RecordsProcessed != 3 {
		t.Fatalf("processed=%d want 3", summary.RecordsProcessed)
	}
}

func TestSync_WatermarkAdvancesToMaxModified(t *testing.T) {
	runs := newStubRuns()
	maxModified := time.Date(2026, 8, 22, 9, 30, 0, 0, time.UTC)
	ext := &stubExtractor{result: &ExtractResult{
		Campaigns:       campaignsNumbered("c1"),
		MaxModifiedTime: &maxModified,
	}}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})

	if _, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	}); err != nil {
		t.Fatalf("err=%v", err)
	}
	fin := runs.finalized[runs.created[0].ID][0]
	if fin.WatermarkTS == nil || !fin.WatermarkTS.Equal(maxModified) {
		t.Fatalf("WatermarkTS=%v want %v", fin.WatermarkTS, maxModified)
	}
}

func TestSync_ExtractionErrorFailsRun(t *testing.T) {
	runs := newStubRuns()
	ext := &stubExtractor{err: errors.New("quota exceeded")}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusFailed {
		t.Fatalf("status=%q want failed", summary.Status)
	}
	fin := runs.finalized[runs.created[0].ID][0]
	if fin.Status != models.RunStatusFailed {
		t.Fatalf("finalization status=%q want failed", fin.Status)
	}
	if fin.ErrorMessage == nil || *fin.ErrorMessage != "quota exceeded" {
		t.Fatalf("ErrorMessage=%v want quota exceeded", fin.ErrorMessage)
	}
}

func TestSync_PartialWhenChunksFail(t *testing.T) {
	runs := newStubRuns()
	ext := &stubExtractor{result: &ExtractResult{Campaigns: makeCampaigns(1000)}}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})
	svc.Batch = &BatchUpserter{
		Store:     &fakeBatchStore{failCalls: map[int]bool{1: true}},
		ChunkSize: 500,
	}

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusPartial {
		t.Fatalf("status=%q want partial", summary.Status)
	}
	if summary.RecordsInserted != 500 || summary.RecordsFailed != 500 {
		t.Fatalf("summary=%+v want 500/500", summary)
	}
}

func TestSync_ClaimConflictSkipsExtraction(t *testing.T) {
	runs := newStubRuns()
	runs.claimDenied[pairKey("microsoft", "campaigns")] = true
	ext := &stubExtractor{result: &ExtractResult{}}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusFailed {
		t.Fatalf("status=%q want failed", summary.Status)
	}
	if len(ext.windows) != 0 {
		t.Fatalf("extractions=%d want 0", len(ext.windows))
	}
	if len(runs.created) != 0 {
		t.Fatalf("created=%d want 0", len(runs.created))
	}
}

func TestSync_UnsupportedPairSkipped(t *testing.T) {
	runs := newStubRuns()
	msExt := &stubExtractor{result: &ExtractResult{}}
	metaExt := &stubExtractor{result: &ExtractResult{
		CreativeAssets: []models.CreativeAsset{{Platform: models.PlatformMeta, AssetID: "cr1"}},
	}}
	svc := newSyncService(runs, map[string]Extractor{
		models.PlatformMicrosoft: msExt,
		models.PlatformMeta:      metaExt,
	})

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "all",
		Entities: []string{"creatives"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	// Microsoft has no creative library; only the Meta pair runs.
	if len(summary.Runs) != 1 || summary.Runs[0].Platform != models.PlatformMeta {
		t.Fatalf("runs=%+v want one meta run", summary.Runs)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0] != "microsoft/creatives" {
		t.Fatalf("skipped=%v want [microsoft/creatives]", summary.Skipped)
	}
	if len(msExt.windows) != 0 {
		t.Fatalf("microsoft extractions=%d want 0", len(msExt.windows))
	}
}

func TestSync_AllExpandsToEveryPair(t *testing.T) {
	runs := newStubRuns()
	msExt := &stubExtractor{result: &ExtractResult{}}
	metaExt := &stubExtractor{result: &ExtractResult{}}
	svc := newSyncService(runs, map[string]Extractor{
		models.PlatformMicrosoft: msExt,
		models.PlatformMeta:      metaExt,
	})

	summary, err := svc.Sync(context.Background(), SyncRequest{Platform: "all"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	// microsoft: campaigns, ads, performance; meta: + creatives.
	if len(summary.Runs) != 7 {
		t.Fatalf("runs=%d want 7", len(summary.Runs))
	}
	if len(msExt.windows) != 3 || len(metaExt.windows) != 4 {
		t.Fatalf("extractions=%d/%d want 3/4", len(msExt.windows), len(metaExt.windows))
	}
}

func TestSync_ValidationBeforeAnyRun(t *testing.T) {
	runs := newStubRuns()
	svc := newSyncService(runs, map[string]Extractor{})

	_, err := svc.Sync(context.Background(), SyncRequest{Platform: "yandex"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v want ValidationError", err)
	}
	if verr.Field != "platform" {
		t.Fatalf("field=%q want platform", verr.Field)
	}
	if len(runs.created) != 0 {
		t.Fatalf("created=%d want 0", len(runs.created))
	}

	_, err = svc.Sync(context.Background(), SyncRequest{Platform: "meta", Mode: "hourly"})
	if !errors.As(err, &verr) || verr.Field != "mode" {
		t.Fatalf("err=%v want mode ValidationError", err)
	}

	_, err = svc.Sync(context.Background(), SyncRequest{Platform: "meta", Entities: []string{"keywords"}})
	if !errors.As(err, &verr) || verr.Field != "entity" {
		t.Fatalf("err=%v want entity ValidationError", err)
	}
}

func TestSync_AggregateStatusFolding(t *testing.T) {
	cases := []struct {
		name string
		runs []RunResult
		want string
	}{
		{"empty", nil, models.RunStatusCompleted},
		{"all completed", []RunResult{{Status: models.RunStatusCompleted}, {Status: models.RunStatusCompleted}}, models.RunStatusCompleted},
		{"all failed", []RunResult{{Status: models.RunStatusFailed}, {Status: models.RunStatusFailed}}, models.RunStatusFailed},
		{"mixed", []RunResult{{Status: models.RunStatusCompleted}, {Status: models.RunStatusFailed}}, models.RunStatusPartial},
		{"partial member", []RunResult{{Status: models.RunStatusCompleted}, {Status: models.RunStatusPartial}}, models.RunStatusPartial},
	}
	for _, tc := range cases {
		if got := foldStatus(tc.runs); got != tc.want {
			t.Fatalf("%s: foldStatus=%q want %q", tc.name, got, tc.want)
		}
	}
}

func TestSync_TokenFailureFailsRun(t *testing.T) {
	runs := newStubRuns()
	ext := &stubExtractor{result: &ExtractResult{}}
	svc := newSyncService(runs, map[string]Extractor{models.PlatformMicrosoft: ext})
	svc.Tokens = &stubTokens{err: errors.New("credential error for microsoft: refresh_failed")}

	summary, err := svc.Sync(context.Background(), SyncRequest{
		Platform: "microsoft",
		Entities: []string{"campaigns"},
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if summary.Status != models.RunStatusFailed {
		t.Fatalf("status=%q want failed", summary.Status)
	}
	if len(ext.windows) != 0 {
		t.Fatalf("extractions=%d want 0", len(ext.windows))
	}
	fin := runs.finalized[runs.created[0].ID][0]
	if fin.Status != models.RunStatusFailed || fin.ErrorMessage == nil {
		t.Fatalf("finalization=%+v want failed with message", fin)
	}
}

func TestReapStaleRuns(t *testing.T) {
	runs := newStubRuns()
	runs.reaped = 2
	svc := newSyncService(runs, nil)
	count, err := svc.ReapStaleRuns(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d want 2", count)
	}
}
