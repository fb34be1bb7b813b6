// Package window implements the fixed-window reclamation shared by the
// admission path and the periodic sweep.
//
// Each credential tracks two independent windows: a minute window for RPM and
// TPM, and a day window for RPD. A window whose start is at least its length
// in the past is stale; reclaiming it zeroes its counters and restarts it at
// now. Reclaim is pure, so the lazy path (inside admission) and the batch
// path (the sweep) always agree.
package window

import (
	"time"

	"campuscore/keygate/pkg/vault"
)

const (
	// Minute is the length of the RPM/TPM window.
	Minute = time.Minute

	// Day is the length of the RPD window.
	Day = 24 * time.Hour
)

// Result reports which windows Reclaim restarted.
type Result struct {
	MinuteReset bool
	DayReset    bool
}

// Changed reports whether any window was restarted.
func (r Result) Changed() bool {
	return r.MinuteReset || r.DayReset
}

// Reclaim returns u with every stale window restarted at now.
// Lifetime totals are never touched. Applying Reclaim twice with the same now
// gives the same result as applying it once.
func Reclaim(u vault.Usage, now time.Time) (vault.Usage, Result) {
	var res Result

	if now.Sub(u.MinuteWindowStart) >= Minute {
		u.RPMUsed = 0
		u.TPMUsed = 0
		u.MinuteWindowStart = now
		res.MinuteReset = true
	}
	if now.Sub(u.DayWindowStart) >= Day {
		u.RPDUsed = 0
		u.DayWindowStart = now
		res.DayReset = true
	}

	return u, res
}

// Stale reports whether Reclaim at now would change u.
func Stale(u vault.Usage, now time.Time) bool {
	_, res := Reclaim(u, now)
	return res.Changed()
}

// MinuteRemaining is the time until the minute window of u closes.
// It is zero when the window is already stale.
func MinuteRemaining(u vault.Usage, now time.Time) time.Duration {
	return remaining(u.MinuteWindowStart.Add(Minute), now)
}

// DayRemaining is the time until the day window of u closes.
// It is zero when the window is already stale.
func DayRemaining(u vault.Usage, now time.Time) time.Duration {
	return remaining(u.DayWindowStart.Add(Day), now)
}

func remaining(end, now time.Time) time.Duration {
	if d := end.Sub(now); d > 0 {
		return d
	}
	return 0
}
