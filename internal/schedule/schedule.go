// Package schedule keeps periodic sync cycles out of configured quiet hours.
package schedule

import (
	"time"
)

// QuietHours is a set of UTC hours (0-23).
type QuietHours []int

// Contains reports whether t falls in a quiet hour.
func (q QuietHours) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	for _, v := range q {
		if v == h { return true }
	}
	return false
}

// NextWindow returns the first time at or after now that is not quiet. If
// every hour is quiet, now is returned.
func (q QuietHours) NextWindow(now time.Time) time.Time {
	if !q.Contains(now) {
		return now
	}
	next := now.UTC().Truncate(time.Hour)
	for i := 1; i <= 24; i++ { // one full day is enough
		cand := next.Add(time.Duration(i) * time.Hour)
		if !q.Contains(cand) {
			return cand
		}
	}
	return now
}

// Valid drops hours outside 0-23.
func Valid(hours []int) QuietHours {
	var out QuietHours
	for _, h := range hours {
		if h >= 0 && h <= 23 { out = append(out, h) }
	}
	return out
}
