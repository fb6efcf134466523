package msads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adsync/internal/models"
	"adsync/internal/service"
	"adsync/internal/watermark"
)

func TestExtractCampaigns_PagesAndMapping(t *testing.T) {
	pages := map[string]string{
		"": `{"items":[
			{"id":"100","name":"Search A","status":"Active","campaignType":"Search","dailyBudget":"25.50","lastModifiedTime":"2026-08-20T10:00:00Z"},
			{"id":"101","name":"Shopping B","status":"Paused","lastModifiedTime":"2026-08-21T09:00:00Z"}
		],"nextPageToken":"p2"}`,
		"p2": `{"items":[
			{"id":"102","name":"Display C","status":"Active","lastModifiedTime":"2026-08-19T08:00:00Z"}
		]}`,
	}
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/campaigns" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
			t.Fatalf("Authorization=%q", auth)
		}
		gotSince = r.URL.Query().Get("modifiedSince")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(pages[r.URL.Query().Get("pageToken")]))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), ClientConfig{BaseURL: srv.URL})
	since := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	result, err := client.Extract(context.Background(), "test-token", service.EntityCampaigns,
		watermark.Window{ModifiedSince: &since})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if gotSince != "2026-08-18T00:00:00Z" {
		t.Fatalf("modifiedSince=%q", gotSince)
	}
	if len(result.Campaigns) != 3 {
		t.Fatalf("campaigns=%d want 3", len(result.Campaigns))
	}
	first := result.Campaigns[0]
	if first.Platform != models.PlatformMicrosoft || first.CampaignID != "100" {
		t.Fatalf("first=%+v", first)
	}
	if first.Status != "active" {
		t.Fatalf("status=%q want active", first.Status)
	}
	if first.DailyBudget == nil || first.DailyBudget.String() != "25.5" {
		t.Fatalf("DailyBudget=%v want 25.5", first.DailyBudget)
	}
	if first.Channel == nil || *first.Channel != "Search" {
		t.Fatalf("Channel=%v want Search", first.Channel)
	}
	want := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	if result.MaxModifiedTime == nil || !result.MaxModifiedTime.Equal(want) {
		t.Fatalf("MaxModifiedTime=%v want %v", result.MaxModifiedTime, want)
	}
	if result.NextPageToken != nil {
		t.Fatalf("NextPageToken=%v want nil after final page", result.NextPageToken)
	}
}

func TestExtract_APIErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"throttled"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), ClientConfig{BaseURL: srv.URL})
	_, err := client.Extract(context.Background(), "tok", service.EntityAds, watermark.Window{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err=%v want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", apiErr.Status)
	}
}

func TestExtractPerformance_BothLevels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reports/performance" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		level := r.URL.Query().Get("level")
		row := map[string]any{
			"entityId":    "e-" + level,
			"campaignId":  "100",
			"date":        "2026-08-22",
			"impressions": 1000,
			"clicks":      37,
			"spend":       "12.34",
			"conversions": "2",
			"revenue":     "99.99",
		}
		json.NewEncoder(w).Encode(map[string]any{"rows": []any{row}})
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), ClientConfig{BaseURL: srv.URL})
	result, err := client.Extract(context.Background(), "tok", service.EntityPerformance, watermark.Window{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(result.Performance) != 2 {
		t.Fatalf("performance=%d want 2 (campaign + ad level)", len(result.Performance))
	}
	row := result.Performance[0]
	if row.Level != models.PerfLevelCampaign || row.EntityID != "e-campaign" {
		t.Fatalf("row=%+v want campaign level", row)
	}
	if row.Spend.String() != "12.34" || row.ConversionValue.String() != "99.99" {
		t.Fatalf("row=%+v want spend 12.34, value 99.99", row)
	}
	if !row.StatDate.Equal(time.Date(2026, 8, 22, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("StatDate=%v", row.StatDate)
	}
}

func TestExtract_UnsupportedEntity(t *testing.T) {
	client := NewClient(nil, ClientConfig{})
	if _, err := client.Extract(context.Background(), "tok", "creatives", watermark.Window{}); err == nil {
		t.Fatalf("expected error for unsupported entity")
	}
}

func TestReportRange_Defaults(t *testing.T) {
	now := time.Date(2026, 8, 23, 15, 30, 0, 0, time.UTC)
	start, end := reportRange(watermark.Window{}, now)
	if !end.Equal(time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("end=%v want today", end)
	}
	if !start.Equal(end.AddDate(0, 0, -30)) {
		t.Fatalf("start=%v want end-30d", start)
	}
}
