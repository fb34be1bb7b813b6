package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	limits := Limits{Default: 50, Max: 500}

	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{name: "empty", query: Query{}},
		{name: "valid range", query: Query{StartTime: &earlier, EndTime: &now}},
		{name: "inverted range", query: Query{StartTime: &now, EndTime: &earlier}, wantErr: true},
		{name: "negative limit", query: Query{Limit: -1}, wantErr: true},
		{name: "limit over max", query: Query{Limit: 501}, wantErr: true},
		{name: "negative offset", query: Query{Offset: -2}, wantErr: true},
		{name: "bad sort", query: Query{SortOrder: "sideways"}, wantErr: true},
		{name: "unknown kind", query: Query{Kind: "teleported"}, wantErr: true},
		{name: "known kind", query: Query{Kind: KindReconciled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.query, limits)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var qe *QueryError
				if !errors.As(err, &qe) {
					t.Errorf("Expected QueryError, got %T", err)
				}
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	q := Query{}
	ApplyDefaults(&q, Limits{Default: 25, Max: 100})
	if q.Limit != 25 || q.SortOrder != "desc" {
		t.Errorf("Expected limit 25 desc, got %d %s", q.Limit, q.SortOrder)
	}

	q = Query{Limit: 5, SortOrder: "asc"}
	ApplyDefaults(&q, DefaultLimits())
	if q.Limit != 5 || q.SortOrder != "asc" {
		t.Errorf("Expected explicit values kept, got %d %s", q.Limit, q.SortOrder)
	}
}

func TestQueryMatches(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &Event{Kind: KindCompleted, Time: at, Tier: "fast", CredentialID: "c1", ReservationID: "r1"}

	if !(&Query{}).Matches(e) {
		t.Error("Expected empty query to match")
	}
	if (&Query{Tier: "lite"}).Matches(e) {
		t.Error("Expected tier filter to reject")
	}
	end := at.Add(-time.Second)
	if (&Query{EndTime: &end}).Matches(e) {
		t.Error("Expected end time filter to reject")
	}
	if !(&Query{EndTime: &at, Kind: KindCompleted, ReservationID: "r1"}).Matches(e) {
		t.Error("Expected inclusive end time to match")
	}
}
