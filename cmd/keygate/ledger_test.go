package main

import (
	"testing"
	"time"
)

func TestBuildLedgerQuery(t *testing.T) {
	orig := ledgerFlags
	defer func() { ledgerFlags = orig }()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	ledgerFlags.kind = "exhausted"
	ledgerFlags.tier = "fast"
	ledgerFlags.since = 2 * time.Hour
	ledgerFlags.end = "2026-05-01T11:00:00Z"
	ledgerFlags.order = "asc"

	q, err := buildLedgerQuery(now)
	if err != nil {
		t.Fatalf("buildLedgerQuery failed: %v", err)
	}
	if string(q.Kind) != "exhausted" || q.Tier != "fast" || q.SortOrder != "asc" {
		t.Errorf("Unexpected filters %+v", q)
	}
	if q.StartTime == nil || !q.StartTime.Equal(now.Add(-2*time.Hour)) {
		t.Errorf("Expected start two hours ago, got %v", q.StartTime)
	}
	if q.EndTime == nil || q.EndTime.Hour() != 11 {
		t.Errorf("Expected end at 11:00, got %v", q.EndTime)
	}
}

func TestBuildLedgerQuery_Errors(t *testing.T) {
	orig := ledgerFlags
	defer func() { ledgerFlags = orig }()

	ledgerFlags.since = time.Hour
	ledgerFlags.start = "2026-05-01T00:00:00Z"
	if _, err := buildLedgerQuery(time.Now()); err == nil {
		t.Error("Expected error for --since with --start")
	}

	ledgerFlags.since = 0
	ledgerFlags.start = "yesterday"
	if _, err := buildLedgerQuery(time.Now()); err == nil {
		t.Error("Expected error for invalid start")
	}
}
