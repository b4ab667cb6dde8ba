// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package calendar

import (
	"fmt"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/aa"
	"github.com/rickar/cal/v2/us"
)

const dateKeyLayout = "2006-01-02"

// Timestamps above this magnitude cannot be a millisecond epoch and are
// treated as nanoseconds. Some provider fields are milliseconds, others
// nanoseconds, so every timestamp goes through ToMilliseconds first.
const nanosecondThreshold = int64(100_000_000_000_000)

// MarketCalendar maps absolute instants to exchange-local calendar fields,
// trading days and market sessions. It is a pure value type; all methods are
// deterministic functions of their arguments.
type MarketCalendar struct {
	calendar     *cal.BusinessCalendar
	preOpenTime  marketTime
	openTime     marketTime
	closeTime    marketTime
	extCloseTime marketTime
}

func NewUSMarketCalendar() MarketCalendar {
	c := cal.NewBusinessCalendar()
	// NYSE trading holidays. Unlike the federal bank holidays, Columbus Day
	// and Veterans Day are regular trading days, and Good Friday is closed.
	// Fixed-date holidays are observed on the adjacent weekday when they
	// fall on a weekend; the library carries those observance rules.
	c.AddHoliday(
		us.NewYear,
		us.MlkDay,
		us.PresidentsDay,
		aa.GoodFriday,
		us.MemorialDay,
		us.Juneteenth,
		us.IndependenceDay,
		us.LaborDay,
		us.ThanksgivingDay,
		us.ChristmasDay,
	)
	c.Cacheable = true
	return MarketCalendar{
		calendar:     c,
		preOpenTime:  marketTime{hours: 4, minutes: 0},
		openTime:     marketTime{hours: 9, minutes: 30},
		closeTime:    marketTime{hours: 16, minutes: 0},
		extCloseTime: marketTime{hours: 20, minutes: 0},
	}
}

// LocalTime converts an instant to exchange-local wall-clock time.
func (c MarketCalendar) LocalTime(t time.Time) time.Time {
	return t.In(easternZone(t))
}

// DateKey returns the exchange-local calendar date as "YYYY-MM-DD".
func (c MarketCalendar) DateKey(t time.Time) string {
	return c.LocalTime(t).Format(dateKeyLayout)
}

// ParseDateKey is the inverse of DateKey, returning midnight local time of
// the encoded date. Malformed input is a hard error, never a guessed date.
func (c MarketCalendar) ParseDateKey(key string) (time.Time, error) {
	parsed, err := time.Parse(dateKeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
	}
	return c.localMidnight(parsed.Year(), parsed.Month(), parsed.Day()), nil
}

func (c MarketCalendar) IsWeekend(t time.Time) bool {
	wd := c.LocalTime(t).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (c MarketCalendar) IsHoliday(t time.Time) bool {
	actual, observed, _ := c.calendar.IsHoliday(c.LocalTime(t))
	return actual || observed
}

func (c MarketCalendar) IsTradingDay(t time.Time) bool {
	return !c.IsWeekend(t) && !c.IsHoliday(t)
}

// DetectSession classifies an instant into a market session. Weekends and
// holidays are always closed; on trading days the local time-of-day bands are
// pre-market [04:00, 09:30), live [09:30, 16:00), after-hours [16:00, 20:00).
func (c MarketCalendar) DetectSession(t time.Time) Session {
	if c.IsWeekend(t) || c.IsHoliday(t) {
		return SessionClosed
	}
	return c.sessionOfDay(c.LocalTime(t))
}

// IsWithinSessionWindow reports whether a millisecond timestamp falls on the
// same exchange-local calendar date as the reference instant and inside the
// band of the given session. The same-day requirement keeps yesterday's
// after-hours prints from passing as today's pre-market data.
func (c MarketCalendar) IsWithinSessionWindow(tsMillis int64, s Session, reference time.Time) bool {
	if s == SessionClosed {
		return false
	}
	ts := time.UnixMilli(tsMillis)
	if c.DateKey(ts) != c.DateKey(reference) {
		return false
	}
	return c.sessionOfDay(c.LocalTime(ts)) == s
}

// TradingDayFor returns the trading day an instant belongs to: the instant's
// own local date if the exchange trades that day, otherwise the closest
// earlier trading day. Midnight local time.
func (c MarketCalendar) TradingDayFor(t time.Time) time.Time {
	local := c.LocalTime(t)
	day := c.localMidnight(local.Year(), local.Month(), local.Day())
	for !c.IsTradingDay(day) {
		day = c.previousDay(day)
	}
	return day
}

// LastTradingDay returns the last trading day strictly before the instant's
// local date.
func (c MarketCalendar) LastTradingDay(before time.Time) time.Time {
	local := c.LocalTime(before)
	day := c.previousDay(c.localMidnight(local.Year(), local.Month(), local.Day()))
	for !c.IsTradingDay(day) {
		day = c.previousDay(day)
	}
	return day
}

// NextMarketOpen returns the next 09:30 local open at or after the instant.
func (c MarketCalendar) NextMarketOpen(t time.Time) time.Time {
	local := c.LocalTime(t)
	day := c.localMidnight(local.Year(), local.Month(), local.Day())
	if open := c.openOn(day); c.IsTradingDay(day) && t.Before(open) {
		return open
	}
	day = c.nextDay(day)
	for !c.IsTradingDay(day) {
		day = c.nextDay(day)
	}
	return c.openOn(day)
}

// ToMilliseconds normalizes a provider timestamp, which may be expressed in
// milliseconds or nanoseconds, to milliseconds.
func ToMilliseconds(ts int64) int64 {
	if ts > nanosecondThreshold {
		return ts / int64(time.Millisecond)
	}
	return ts
}

// localMidnight builds midnight of the given local calendar date. The zone is
// picked at noon of that date, so DST switch days resolve to the offset valid
// during trading hours.
func (c MarketCalendar) localMidnight(year int, month time.Month, day int) time.Time {
	zone := easternZone(time.Date(year, month, day, 12, 0, 0, 0, easternStandard))
	return time.Date(year, month, day, 0, 0, 0, 0, zone)
}

func (c MarketCalendar) openOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.openTime.hours, c.openTime.minutes, 0, 0, day.Location())
}

func (c MarketCalendar) previousDay(day time.Time) time.Time {
	return c.localMidnight(day.Year(), day.Month(), day.Day()-1)
}

func (c MarketCalendar) nextDay(day time.Time) time.Time {
	return c.localMidnight(day.Year(), day.Month(), day.Day()+1)
}
