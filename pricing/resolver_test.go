// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricing

import (
	"testing"
	"time"

	"marketpulse/calendar"
	"marketpulse/stockval"

	"github.com/ericlagergren/decimal"
	"github.com/stretchr/testify/assert"
)

var (
	edt = time.FixedZone("EDT", -4*60*60)
	est = time.FixedZone("EST", -5*60*60)
)

func d(s string) *decimal.Big {
	v, ok := new(decimal.Big).SetString(s)
	if !ok {
		panic("invalid test decimal " + s)
	}
	return v
}

// Wednesday 2023-08-09, regular trading day.
func liveInstant() time.Time {
	return time.Date(2023, 8, 9, 10, 0, 0, 0, edt)
}

func TestResolveZeroGuardAllSessions(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := liveInstant()
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("0"), Timestamp: now.UnixMilli()},
		LastTrade: &stockval.TradeObservation{Price: d("0"), Timestamp: now.UnixNano()},
		LastQuote: &stockval.QuoteObservation{BidPrice: d("0"), AskPrice: d("-1"), Timestamp: now.UnixNano()},
		Day:       &stockval.DayBar{Close: d("0")},
		PrevDay:   &stockval.DayBar{Close: d("-3")},
	}
	sessions := []calendar.Session{
		calendar.SessionPreMarket,
		calendar.SessionLive,
		calendar.SessionAfterHours,
		calendar.SessionClosed,
	}
	for _, s := range sessions {
		assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: s, Now: now}))
		assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: s, Now: now, Force: true}))
	}
}

func TestResolveLiveLastTrade(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := liveInstant()
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		LastTrade: &stockval.TradeObservation{Price: d("155.50"), Timestamp: now.UnixNano()},
		Day:       &stockval.DayBar{Close: d("155.00")},
		PrevDay:   &stockval.DayBar{Close: d("150.00")},
	}
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionLive, Now: now})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceLastTrade, ep.Source)
	assert.Equal(t, 0, ep.Price.Cmp(d("155.50")))
	assert.False(t, ep.IsStale)
	assert.Equal(t, now.UnixMilli(), ep.Timestamp)

	res := PercentChange(ep.Price, calendar.SessionLive, snap.PrevDay.Close, snap.Day.Close)
	assert.Equal(t, RefPreviousClose, res.Reference.Used)
	assert.Equal(t, 0, stockval.RoundPercentage(res.ChangePct).Cmp(d("3.67")))
}

func TestResolveLiveSameDayEnforcement(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := liveInstant()
	// Trade printed during yesterday's live session.
	yesterday := time.Date(2023, 8, 8, 15, 30, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		LastTrade: &stockval.TradeObservation{Price: d("154.00"), Timestamp: yesterday.UnixNano()},
	}
	assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionLive, Now: now}))

	// Force accepts the off-session trade but marks it stale.
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionLive, Now: now, Force: true})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceLastTrade, ep.Source)
	assert.True(t, ep.IsStale)
	assert.NotEmpty(t, ep.StaleReason)
}

func TestResolveLiveDayCloseBeforeOffDayMinuteBar(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := liveInstant()
	yesterday := time.Date(2023, 8, 8, 15, 59, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("154.20"), Timestamp: yesterday.UnixMilli()},
		Day:       &stockval.DayBar{Close: d("155.00")},
	}
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionLive, Now: now})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceDayClose, ep.Source)
	assert.False(t, ep.IsStale)
}

func TestResolveLiveSameDayMinuteBar(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := liveInstant()
	bar := time.Date(2023, 8, 9, 9, 59, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("154.80"), Timestamp: bar.UnixMilli()},
	}
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionLive, Now: now})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceMinuteBar, ep.Source)
	assert.Equal(t, bar.UnixMilli(), ep.Timestamp)
}

func TestResolveFrozenPrecedence(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	frozen := &stockval.FrozenPrice{Price: d("151.25"), Timestamp: time.Date(2023, 8, 4, 16, 0, 0, 0, edt).UnixMilli()}
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		LastTrade: &stockval.TradeObservation{Price: d("160.00"), Timestamp: time.Now().UnixNano()},
		Day:       &stockval.DayBar{Close: d("0")},
	}
	// Saturday and weekday overnight both serve the frozen price verbatim.
	saturday := time.Date(2023, 8, 5, 12, 0, 0, 0, edt)
	overnight := time.Date(2023, 8, 9, 22, 0, 0, 0, edt)
	for _, now := range []time.Time{saturday, overnight} {
		ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionClosed, Now: now, Frozen: frozen})
		assert.NotNil(t, ep)
		assert.Equal(t, stockval.SourceFrozen, ep.Source)
		assert.Equal(t, 0, ep.Price.Cmp(frozen.Price))
		assert.Equal(t, frozen.Timestamp, ep.Timestamp)
		assert.False(t, ep.IsStale)
	}
}

func TestResolveOvernightWithoutFrozen(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	overnight := time.Date(2023, 8, 9, 22, 0, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol: "AAPL",
		Day:    &stockval.DayBar{Close: d("155.00")},
	}
	// No price yet, not an error; the snapshot is never consulted overnight.
	assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionClosed, Now: overnight}))
}

func TestResolveWeekendCatchUp(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	saturday := time.Date(2023, 8, 12, 12, 0, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("154.90"), Timestamp: time.Date(2023, 8, 11, 15, 59, 0, 0, edt).UnixMilli()},
		Day:       &stockval.DayBar{Close: d("155.00")},
	}
	// Without force the weekend refuses to ingest.
	assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionClosed, Now: saturday}))

	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionClosed, Now: saturday, Force: true})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceDayClose, ep.Source)
	assert.True(t, ep.IsStale)

	// Zero day close falls through to the minute bar.
	snap.Day = &stockval.DayBar{Close: d("0")}
	ep = ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionClosed, Now: saturday, Force: true})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceMinuteBar, ep.Source)
	assert.True(t, ep.IsStale)
}

func TestResolvePreMarketPriorities(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := time.Date(2023, 8, 9, 8, 0, 0, 0, edt)
	bar := time.Date(2023, 8, 9, 7, 58, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("153.10"), Timestamp: bar.UnixMilli()},
		LastTrade: &stockval.TradeObservation{Price: d("153.20"), Timestamp: bar.UnixNano()},
		PrevDay:   &stockval.DayBar{Close: d("150.00")},
	}
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionPreMarket, Now: now})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceMinuteBar, ep.Source)
	assert.False(t, ep.IsStale)

	// Without the minute bar the trade wins.
	snap.MinuteBar = nil
	ep = ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionPreMarket, Now: now})
	assert.Equal(t, stockval.SourceLastTrade, ep.Source)
}

func TestResolvePreMarketPreviousCloseFallback(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := time.Date(2023, 8, 9, 5, 0, 0, 0, edt)
	// Trade is from yesterday's after-hours: same-day check rejects it.
	staleTrade := time.Date(2023, 8, 8, 18, 0, 0, 0, edt)
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		LastTrade: &stockval.TradeObservation{Price: d("154.40"), Timestamp: staleTrade.UnixNano()},
		PrevDay:   &stockval.DayBar{Close: d("150.00")},
	}
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionPreMarket, Now: now})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourcePreviousClose, ep.Source)
	assert.True(t, ep.IsStale)
	assert.NotEmpty(t, ep.StaleReason)
	// Timestamp is borrowed from the trade observation.
	assert.Equal(t, staleTrade.UnixMilli(), ep.Timestamp)

	// No usable fallback at all.
	snap.PrevDay = &stockval.DayBar{Close: d("0")}
	assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionPreMarket, Now: now}))
}

func TestResolveAfterHoursSelection(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := time.Date(2023, 8, 9, 17, 0, 0, 0, edt)
	fresh := time.Date(2023, 8, 9, 16, 58, 0, 0, edt)
	stale := time.Date(2023, 8, 9, 16, 10, 0, 0, edt)

	// A fresh quote beats a stale minute bar despite lower priority.
	snap := stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("156.00"), Timestamp: stale.UnixMilli()},
		LastQuote: &stockval.QuoteObservation{BidPrice: d("156.40"), AskPrice: d("156.60"), Timestamp: fresh.UnixNano()},
	}
	ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionAfterHours, Now: now})
	assert.NotNil(t, ep)
	assert.Equal(t, stockval.SourceLastQuote, ep.Source)
	assert.Equal(t, 0, ep.Price.Cmp(d("156.50")))
	assert.False(t, ep.IsStale)

	// Equal staleness: the newer timestamp wins.
	later := time.Date(2023, 8, 9, 16, 59, 0, 0, edt)
	snap.LastTrade = &stockval.TradeObservation{Price: d("156.70"), Timestamp: later.UnixNano()}
	ep = ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionAfterHours, Now: now})
	assert.Equal(t, stockval.SourceLastTrade, ep.Source)

	// Identical timestamps: stable priority prefers the minute bar.
	snap = stockval.Snapshot{
		Symbol:    "AAPL",
		MinuteBar: &stockval.MinuteBar{Close: d("156.00"), Timestamp: fresh.UnixMilli()},
		LastTrade: &stockval.TradeObservation{Price: d("156.10"), Timestamp: fresh.UnixNano()},
	}
	ep = ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionAfterHours, Now: now})
	assert.Equal(t, stockval.SourceMinuteBar, ep.Source)

	// Daily closes are never used after hours.
	snap = stockval.Snapshot{
		Symbol:  "AAPL",
		Day:     &stockval.DayBar{Close: d("155.00")},
		PrevDay: &stockval.DayBar{Close: d("150.00")},
	}
	assert.Nil(t, ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionAfterHours, Now: now}))
}

func TestResolveDaylightSwitchDates(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	// 09:30 local on both 2023 DST switch dates.
	march := time.Date(2023, 3, 12, 9, 30, 0, 0, edt)
	november := time.Date(2023, 11, 5, 9, 30, 0, 0, est)
	for _, now := range []time.Time{march, november} {
		snap := stockval.Snapshot{
			Symbol:    "AAPL",
			LastTrade: &stockval.TradeObservation{Price: d("155.50"), Timestamp: now.UnixNano()},
		}
		ep := ResolveEffectivePrice(cal, Input{Snapshot: snap, Session: calendar.SessionLive, Now: now})
		assert.NotNil(t, ep)
		assert.Equal(t, stockval.SourceLastTrade, ep.Source)
		assert.False(t, ep.IsStale)
	}
}

func TestResolveNanosecondNormalization(t *testing.T) {
	cal := calendar.NewUSMarketCalendar()
	now := liveInstant()
	trade := time.Date(2023, 8, 9, 9, 59, 30, 0, edt)

	nanos := stockval.Snapshot{
		Symbol:    "AAPL",
		LastTrade: &stockval.TradeObservation{Price: d("155.50"), Timestamp: trade.UnixNano()},
	}
	millis := stockval.Snapshot{
		Symbol:    "AAPL",
		LastTrade: &stockval.TradeObservation{Price: d("155.50"), Timestamp: trade.UnixMilli()},
	}
	fromNanos := ResolveEffectivePrice(cal, Input{Snapshot: nanos, Session: calendar.SessionLive, Now: now})
	fromMillis := ResolveEffectivePrice(cal, Input{Snapshot: millis, Session: calendar.SessionLive, Now: now})
	assert.NotNil(t, fromNanos)
	assert.NotNil(t, fromMillis)
	assert.Equal(t, fromNanos.Source, fromMillis.Source)
	assert.Equal(t, fromNanos.IsStale, fromMillis.IsStale)
	assert.Equal(t, fromNanos.Timestamp, fromMillis.Timestamp)
}
