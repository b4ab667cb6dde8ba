// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package calendar

import "time"

// Session classifies an instant of the trading day.
type Session int

const (
	SessionClosed Session = iota
	SessionPreMarket
	SessionLive
	SessionAfterHours
)

func (s Session) String() string {
	switch s {
	case SessionPreMarket:
		return "pre-market"
	case SessionLive:
		return "live"
	case SessionAfterHours:
		return "after-hours"
	default:
		return "closed"
	}
}

type marketTime struct {
	hours   int
	minutes int
}

func (m marketTime) minutesOfDay() int {
	return m.hours*60 + m.minutes
}

// sessionOfDay maps a local wall-clock time to its session band. Weekends and
// holidays are not considered here; anything outside the three bands is
// closed, so newly introduced bands cannot be silently misclassified.
func (c MarketCalendar) sessionOfDay(local time.Time) Session {
	m := local.Hour()*60 + local.Minute()
	switch {
	case m >= c.preOpenTime.minutesOfDay() && m < c.openTime.minutesOfDay():
		return SessionPreMarket
	case m >= c.openTime.minutesOfDay() && m < c.closeTime.minutesOfDay():
		return SessionLive
	case m >= c.closeTime.minutesOfDay() && m < c.extCloseTime.minutesOfDay():
		return SessionAfterHours
	default:
		return SessionClosed
	}
}
