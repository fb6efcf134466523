package service

import (
	"errors"
	"testing"
	"time"
)

func TestBuildPlan_DefaultsToIncrementalAllEntities(t *testing.T) {
	plan, err := buildPlan(SyncRequest{Platform: "meta"}, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if plan.Mode != ModeIncremental {
		t.Fatalf("mode=%q want incremental", plan.Mode)
	}
	if len(plan.Pairs) != 4 {
		t.Fatalf("pairs=%v want all 4 meta entities", plan.Pairs)
	}
	if plan.Overrides.LookbackHours != 2 || plan.Overrides.LookbackDays != 0 {
		t.Fatalf("overrides=%+v want default lookback", plan.Overrides)
	}
}

func TestBuildPlan_CallerLookbackOverridesDefault(t *testing.T) {
	hours := 6
	days := 1
	plan, err := buildPlan(SyncRequest{
		Platform:      "microsoft",
		LookbackHours: &hours,
		LookbackDays:  &days,
	}, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if plan.Overrides.LookbackHours != 6 || plan.Overrides.LookbackDays != 1 {
		t.Fatalf("overrides=%+v want 6h/1d", plan.Overrides)
	}
}

func TestBuildPlan_NegativeLookbackRejected(t *testing.T) {
	hours := -1
	_, err := buildPlan(SyncRequest{Platform: "meta", LookbackHours: &hours}, 2, 0)
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBuildPlan_DateParsing(t *testing.T) {
	start := "2026-08-01"
	end := "2026-08-15"
	plan, err := buildPlan(SyncRequest{
		Platform:  "meta",
		StartDate: &start,
		EndDate:   &end,
	}, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	wantStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if plan.Overrides.StartDate == nil || !plan.Overrides.StartDate.Equal(wantStart) {
		t.Fatalf("StartDate=%v want %v", plan.Overrides.StartDate, wantStart)
	}
	// End date covers the whole day.
	if plan.Overrides.EndDate == nil || plan.Overrides.EndDate.Day() != 15 ||
		plan.Overrides.EndDate.Hour() != 23 {
		t.Fatalf("EndDate=%v want end of Aug 15", plan.Overrides.EndDate)
	}
}

func TestBuildPlan_BadDateRejected(t *testing.T) {
	bad := "08/01/2026"
	_, err := buildPlan(SyncRequest{Platform: "meta", StartDate: &bad}, 2, 0)
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestBuildPlan_InvertedDateRangeRejected(t *testing.T) {
	start := "2026-08-15"
	end := "2026-08-01"
	_, err := buildPlan(SyncRequest{Platform: "meta", StartDate: &start, EndDate: &end}, 2, 0)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err=%v want ValidationError", err)
	}
	if vErr.Field != "start_date" {
		t.Fatalf("field=%q want start_date", vErr.Field)
	}
}

func TestBuildPlan_ModeFlags(t *testing.T) {
	plan, err := buildPlan(SyncRequest{Platform: "meta", Mode: "backfill"}, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !plan.Overrides.Backfill || plan.Overrides.ForceFull {
		t.Fatalf("overrides=%+v want backfill only", plan.Overrides)
	}
	plan, err = buildPlan(SyncRequest{Platform: "meta", Mode: "full"}, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if plan.Overrides.Backfill || !plan.Overrides.ForceFull {
		t.Fatalf("overrides=%+v want force-full only", plan.Overrides)
	}
}

func TestBuildPlan_NormalizesCaseAndDuplicates(t *testing.T) {
	plan, err := buildPlan(SyncRequest{
		Platform: " Meta ",
		Entities: []string{"Campaigns", "campaigns", "ADS"},
	}, 2, 0)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(plan.Pairs) != 2 {
		t.Fatalf("pairs=%v want campaigns+ads", plan.Pairs)
	}
}
