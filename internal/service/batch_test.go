package service

import (
	"context"
	"errors"
	"testing"

	"adsync/internal/models"
)

// fakeBatchStore records chunk sizes and can fail selected calls. When keyed
// is set it also simulates conflict-key upserts over campaign rows.
type fakeBatchStore struct {
	failCalls  map[int]bool
	keyed      bool
	campaigns  map[string]models.Campaign
	chunkSizes []int
}

func (s *fakeBatchStore) UpsertRows(ctx context.Context, rows any, conflictColumns []string) (int64, error) {
	call := len(s.chunkSizes)
	var n int
	switch typed := rows.(type) {
	case []models.Campaign:
		n = len(typed)
		if s.keyed {
			if s.campaigns == nil {
				s.campaigns = map[string]models.Campaign{}
			}
			for _, row := range typed {
				s.campaigns[row.Platform+"/"+row.CampaignID] = row
			}
		}
	case []models.Ad:
		n = len(typed)
	case []models.CreativeAsset:
		n = len(typed)
	case []models.AdPerformance:
		n = len(typed)
	default:
		return 0, errors.New("unexpected row type")
	}
	s.chunkSizes = append(s.chunkSizes, n)
	if s.failCalls[call] {
		return 0, errors.New("store rejected chunk")
	}
	return int64(n), nil
}

func makeCampaigns(n int) []models.Campaign {
	out := make([]models.Campaign, n)
	for i := range out {
		out[i] = models.Campaign{
			Platform:   models.PlatformMicrosoft,
			CampaignID: string(rune('a' + i%26)),
		}
	}
	return out
}

func campaignsNumbered(ids ...string) []models.Campaign {
	out := make([]models.Campaign, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Campaign{Platform: models.PlatformMicrosoft, CampaignID: id})
	}
	return out
}

func TestUpsertChunked_EmptyInputNoop(t *testing.T) {
	store := &fakeBatchStore{}
	e := &BatchUpserter{Store: store}
	out := UpsertChunked(context.Background(), e, "ad_campaigns", []models.Campaign{}, []string{"platform", "campaign_id"})
	if out.Processed() != 0 {
		t.Fatalf("processed=%d want 0", out.Processed())
	}
	if len(store.chunkSizes) != 0 {
		t.Fatalf("calls=%d want 0", len(store.chunkSizes))
	}
}

func TestUpsertChunked_SplitsAtChunkSize(t *testing.T) {
	store := &fakeBatchStore{}
	e := &BatchUpserter{Store: store, ChunkSize: 400}
	out := UpsertChunked(context.Background(), e, "ad_campaigns", makeCampaigns(1000), []string{"platform", "campaign_id"})
	if out.Inserted != 1000 || out.Failed != 0 {
		t.Fatalf("outcome=%+v want 1000 inserted", out)
	}
	want := []int{400, 400, 200}
	if len(store.chunkSizes) != len(want) {
		t.Fatalf("chunks=%v want %v", store.chunkSizes, want)
	}
	for i, size := range want {
		if store.chunkSizes[i] != size {
			t.Fatalf("chunks=%v want %v", store.chunkSizes, want)
		}
	}
}

func TestUpsertChunked_FailedChunkIsolated(t *testing.T) {
	store := &fakeBatchStore{failCalls: map[int]bool{1: true}}
	e := &BatchUpserter{Store: store, ChunkSize: 500}
	out := UpsertChunked(context.Background(), e, "ad_campaigns", makeCampaigns(1000), []string{"platform", "campaign_id"})
	if out.Inserted != 500 || out.Failed != 500 {
		t.Fatalf("outcome=%+v want 500 inserted, 500 failed", out)
	}
	if out.Processed() != 1000 {
		t.Fatalf("processed=%d want 1000", out.Processed())
	}
	if len(store.chunkSizes) != 2 {
		t.Fatalf("calls=%d want 2 (no abort after failure)", len(store.chunkSizes))
	}
}

func TestUpsertChunked_ExactBoundary(t *testing.T) {
	store := &fakeBatchStore{}
	e := &BatchUpserter{Store: store, ChunkSize: 500}
	out := UpsertChunked(context.Background(), e, "ad_campaigns", makeCampaigns(500), []string{"platform", "campaign_id"})
	if out.Inserted != 500 {
		t.Fatalf("outcome=%+v want 500 inserted", out)
	}
	if len(store.chunkSizes) != 1 {
		t.Fatalf("calls=%d want 1", len(store.chunkSizes))
	}
}

func TestUpsertChunked_IdempotentReplay(t *testing.T) {
	store := &fakeBatchStore{keyed: true}
	e := &BatchUpserter{Store: store}
	rows := campaignsNumbered("c1", "c2", "c3")
	first := UpsertChunked(context.Background(), e, "ad_campaigns", rows, []string{"platform", "campaign_id"})
	second := UpsertChunked(context.Background(), e, "ad_campaigns", rows, []string{"platform", "campaign_id"})
	if first.Processed() != 3 || second.Processed() != 3 {
		t.Fatalf("processed=%d/%d want 3/3", first.Processed(), second.Processed())
	}
	if len(store.campaigns) != 3 {
		t.Fatalf("stored=%d want 3 (replay must not duplicate)", len(store.campaigns))
	}
}

func TestUpsertChunked_ChunkSizeClamped(t *testing.T) {
	e := &BatchUpserter{ChunkSize: 10000}
	if e.chunkSize() != maxChunkSize {
		t.Fatalf("chunkSize=%d want %d", e.chunkSize(), maxChunkSize)
	}
	e = &BatchUpserter{}
	if e.chunkSize() != defaultChunkSize {
		t.Fatalf("chunkSize=%d want %d", e.chunkSize(), defaultChunkSize)
	}
}
