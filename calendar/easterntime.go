// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package calendar

import "time"

// NYSE uses ET, which can be either EST or EDT.
// The host timezone database is deliberately not used here: hosts with
// different or outdated tzdata must still classify the same instant
// identically, so the daylight saving rule is computed explicitly.
var (
	easternStandard = time.FixedZone("EST", -5*60*60)
	easternDaylight = time.FixedZone("EDT", -4*60*60)
)

// US daylight saving time runs from the second Sunday of March until the
// first Sunday of November, switching at 02:00 local time.
// 02:00 EST is 07:00 UTC, 02:00 EDT is 06:00 UTC.
func isEasternDaylight(t time.Time) bool {
	year := t.UTC().Year()
	start := time.Date(year, time.March, nthSunday(year, time.March, 2), 7, 0, 0, 0, time.UTC)
	end := time.Date(year, time.November, nthSunday(year, time.November, 1), 6, 0, 0, 0, time.UTC)
	return !t.Before(start) && t.Before(end)
}

func easternZone(t time.Time) *time.Location {
	if isEasternDaylight(t) {
		return easternDaylight
	}
	return easternStandard
}

func nthSunday(year int, month time.Month, n int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (7 - int(first.Weekday())) % 7
	return 1 + offset + (n-1)*7
}
