package window

import (
	"testing"
	"time"

	"campuscore/keygate/pkg/vault"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func usageAt(minuteStart, dayStart time.Time) vault.Usage {
	return vault.Usage{
		RPMUsed:           5,
		TPMUsed:           9000,
		RPDUsed:           120,
		MinuteWindowStart: minuteStart,
		DayWindowStart:    dayStart,
		TotalRequests:     300,
		TotalTokens:       1_000_000,
	}
}

func TestReclaim(t *testing.T) {
	tests := []struct {
		name       string
		usage      vault.Usage
		now        time.Time
		wantMinute bool
		wantDay    bool
	}{
		{"fresh windows", usageAt(t0, t0), t0.Add(30 * time.Second), false, false},
		{"minute boundary is inclusive", usageAt(t0, t0), t0.Add(time.Minute), true, false},
		{"minute stale only", usageAt(t0, t0), t0.Add(5 * time.Minute), true, false},
		{"day stale only", usageAt(t0.Add(24*time.Hour), t0), t0.Add(24*time.Hour + 10*time.Second), false, true},
		{"both stale", usageAt(t0, t0), t0.Add(25 * time.Hour), true, true},
		{"zero windows are stale", vault.Usage{RPMUsed: 1}, t0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, res := Reclaim(tt.usage, tt.now)

			if res.MinuteReset != tt.wantMinute {
				t.Errorf("Expected MinuteReset=%v, got %v", tt.wantMinute, res.MinuteReset)
			}
			if res.DayReset != tt.wantDay {
				t.Errorf("Expected DayReset=%v, got %v", tt.wantDay, res.DayReset)
			}

			if tt.wantMinute {
				if got.RPMUsed != 0 || got.TPMUsed != 0 {
					t.Errorf("Expected minute counters zeroed, got rpm=%d tpm=%d", got.RPMUsed, got.TPMUsed)
				}
				if !got.MinuteWindowStart.Equal(tt.now) {
					t.Errorf("Expected minute window start %v, got %v", tt.now, got.MinuteWindowStart)
				}
			} else if got.RPMUsed != tt.usage.RPMUsed || got.TPMUsed != tt.usage.TPMUsed {
				t.Error("Expected minute counters untouched")
			}

			if tt.wantDay {
				if got.RPDUsed != 0 {
					t.Errorf("Expected RPD zeroed, got %d", got.RPDUsed)
				}
				if !got.DayWindowStart.Equal(tt.now) {
					t.Errorf("Expected day window start %v, got %v", tt.now, got.DayWindowStart)
				}
			} else if got.RPDUsed != tt.usage.RPDUsed {
				t.Error("Expected RPD untouched")
			}

			if got.TotalRequests != tt.usage.TotalRequests || got.TotalTokens != tt.usage.TotalTokens {
				t.Error("Expected lifetime totals untouched")
			}
		})
	}
}

func TestReclaim_Idempotent(t *testing.T) {
	now := t0.Add(25 * time.Hour)

	once, _ := Reclaim(usageAt(t0, t0), now)
	twice, res := Reclaim(once, now)

	if res.Changed() {
		t.Error("Expected second reclaim at the same instant to change nothing")
	}
	if once != twice {
		t.Errorf("Expected identical usage, got %+v and %+v", once, twice)
	}
}

func TestReclaim_WindowStartsNeverMoveBackwards(t *testing.T) {
	u := usageAt(t0, t0)
	for i := 0; i < 200; i++ {
		now := t0.Add(time.Duration(i) * 17 * time.Minute)
		next, _ := Reclaim(u, now)
		if next.MinuteWindowStart.Before(u.MinuteWindowStart) {
			t.Fatalf("minute window moved backwards at step %d", i)
		}
		if next.DayWindowStart.Before(u.DayWindowStart) {
			t.Fatalf("day window moved backwards at step %d", i)
		}
		u = next
	}
}

func TestRemaining(t *testing.T) {
	u := usageAt(t0, t0)

	if got := MinuteRemaining(u, t0.Add(20*time.Second)); got != 40*time.Second {
		t.Errorf("Expected 40s, got %v", got)
	}
	if got := MinuteRemaining(u, t0.Add(2*time.Minute)); got != 0 {
		t.Errorf("Expected 0 for stale window, got %v", got)
	}
	if got := DayRemaining(u, t0.Add(23*time.Hour)); got != time.Hour {
		t.Errorf("Expected 1h, got %v", got)
	}
	if !Stale(u, t0.Add(time.Minute)) {
		t.Error("Expected window to be stale at the boundary")
	}
}
