// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricing

import (
	"fmt"
	"time"

	"marketpulse/calendar"
	"marketpulse/stockval"

	"github.com/ericlagergren/decimal"
)

// Freshness thresholds for staleness classification. Live trading moves
// fast, so it gets a tighter threshold than the extended sessions.
const (
	FreshThresholdLive     = time.Minute
	FreshThresholdExtended = 5 * time.Minute
)

// Input bundles one resolution request. All fields describe the same moment;
// Now is the ingestion instant the snapshot was taken at.
type Input struct {
	Snapshot stockval.Snapshot
	Session  calendar.Session
	Now      time.Time
	// Frozen is the last known-good price, if the store holds one.
	Frozen *stockval.FrozenPrice
	// Force relaxes same-day requirements for manual catch-up runs.
	Force bool
}

// ResolveEffectivePrice selects the single authoritative price from a noisy
// multi-field snapshot. A nil result means "no trustworthy price right now"
// and must be treated by callers as "leave the stored price untouched",
// never as a reset. The function is pure and never fails on well-formed
// input.
func ResolveEffectivePrice(cal calendar.MarketCalendar, in Input) *stockval.EffectivePrice {
	switch in.Session {
	case calendar.SessionPreMarket:
		return resolvePreMarket(cal, in)
	case calendar.SessionLive:
		return resolveLive(cal, in)
	case calendar.SessionAfterHours:
		return resolveAfterHours(cal, in)
	default:
		return resolveClosed(cal, in)
	}
}

type candidate struct {
	price  *decimal.Big
	ts     int64
	source stockval.PriceSource
}

func (c candidate) effective(now time.Time, threshold time.Duration) *stockval.EffectivePrice {
	age := time.Duration(now.UnixMilli()-c.ts) * time.Millisecond
	p := &stockval.EffectivePrice{Price: c.price, Source: c.source, Timestamp: c.ts}
	if age > threshold {
		p.IsStale = true
		p.StaleReason = fmt.Sprintf("%s is %s old", c.source, age.Round(time.Second))
	}
	return p
}

// sessionCandidates returns the sub-observations with a positive price whose
// timestamp falls on the reference day inside the current session's band, in
// stable priority order: minute bar, last trade, last quote.
func sessionCandidates(cal calendar.MarketCalendar, in Input) []candidate {
	snap := in.Snapshot
	var cands []candidate
	if snap.MinuteBar != nil && stockval.IsGreaterThanZero(snap.MinuteBar.Close) {
		ts := calendar.ToMilliseconds(snap.MinuteBar.Timestamp)
		if cal.IsWithinSessionWindow(ts, in.Session, in.Now) {
			cands = append(cands, candidate{snap.MinuteBar.Close, ts, stockval.SourceMinuteBar})
		}
	}
	if snap.LastTrade != nil && stockval.IsGreaterThanZero(snap.LastTrade.Price) {
		ts := calendar.ToMilliseconds(snap.LastTrade.Timestamp)
		if cal.IsWithinSessionWindow(ts, in.Session, in.Now) {
			cands = append(cands, candidate{snap.LastTrade.Price, ts, stockval.SourceLastTrade})
		}
	}
	if snap.LastQuote != nil {
		if mid := snap.LastQuote.Mid(); mid != nil {
			ts := calendar.ToMilliseconds(snap.LastQuote.Timestamp)
			if cal.IsWithinSessionWindow(ts, in.Session, in.Now) {
				cands = append(cands, candidate{mid, ts, stockval.SourceLastQuote})
			}
		}
	}
	return cands
}

// resolveClosed serves the frozen price if one exists. Overnight on a
// weekday, a missing frozen price means "no price yet". On weekends and
// holidays ingestion is refused unless forced; a forced run accepts the
// regular close or the last minute bar, both explicitly stale.
func resolveClosed(cal calendar.MarketCalendar, in Input) *stockval.EffectivePrice {
	if in.Frozen != nil {
		return &stockval.EffectivePrice{
			Price:     in.Frozen.Price,
			Source:    stockval.SourceFrozen,
			Timestamp: in.Frozen.Timestamp,
		}
	}
	if !cal.IsWeekend(in.Now) && !cal.IsHoliday(in.Now) {
		return nil
	}
	if !in.Force {
		return nil
	}
	snap := in.Snapshot
	if snap.Day != nil && stockval.IsGreaterThanZero(snap.Day.Close) {
		return &stockval.EffectivePrice{
			Price:       snap.Day.Close,
			Source:      stockval.SourceDayClose,
			Timestamp:   in.Now.UnixMilli(),
			IsStale:     true,
			StaleReason: "market closed, catch-up from regular close",
		}
	}
	if snap.MinuteBar != nil && stockval.IsGreaterThanZero(snap.MinuteBar.Close) {
		return &stockval.EffectivePrice{
			Price:       snap.MinuteBar.Close,
			Source:      stockval.SourceMinuteBar,
			Timestamp:   calendar.ToMilliseconds(snap.MinuteBar.Timestamp),
			IsStale:     true,
			StaleReason: "market closed, catch-up from last minute bar",
		}
	}
	return nil
}

func resolvePreMarket(cal calendar.MarketCalendar, in Input) *stockval.EffectivePrice {
	if cands := sessionCandidates(cal, in); len(cands) > 0 {
		return cands[0].effective(in.Now, FreshThresholdExtended)
	}
	// The provider has not posted any pre-market tick yet. Fall back to the
	// previous trading day's close, clearly marked stale so a multi-day-old
	// cached price is never shown as current.
	snap := in.Snapshot
	if snap.PrevDay != nil && stockval.IsGreaterThanZero(snap.PrevDay.Close) {
		return &stockval.EffectivePrice{
			Price:       snap.PrevDay.Close,
			Source:      stockval.SourcePreviousClose,
			Timestamp:   borrowedTimestamp(snap, in.Now),
			IsStale:     true,
			StaleReason: "no pre-market data yet, showing previous close",
		}
	}
	return nil
}

// borrowedTimestamp picks a best-effort timestamp from whichever
// sub-observation carries one, falling back to the ingestion instant.
func borrowedTimestamp(snap stockval.Snapshot, now time.Time) int64 {
	if snap.MinuteBar != nil && snap.MinuteBar.Timestamp > 0 {
		return calendar.ToMilliseconds(snap.MinuteBar.Timestamp)
	}
	if snap.LastTrade != nil && snap.LastTrade.Timestamp > 0 {
		return calendar.ToMilliseconds(snap.LastTrade.Timestamp)
	}
	if snap.LastQuote != nil && snap.LastQuote.Timestamp > 0 {
		return calendar.ToMilliseconds(snap.LastQuote.Timestamp)
	}
	return now.UnixMilli()
}

func resolveLive(cal calendar.MarketCalendar, in Input) *stockval.EffectivePrice {
	snap := in.Snapshot
	if snap.LastTrade != nil && stockval.IsGreaterThanZero(snap.LastTrade.Price) {
		ts := calendar.ToMilliseconds(snap.LastTrade.Timestamp)
		if cal.IsWithinSessionWindow(ts, calendar.SessionLive, in.Now) {
			return candidate{snap.LastTrade.Price, ts, stockval.SourceLastTrade}.effective(in.Now, FreshThresholdLive)
		}
	}
	if snap.Day != nil && stockval.IsGreaterThanZero(snap.Day.Close) {
		// Untimestamped daily aggregate, treated as fresh.
		return &stockval.EffectivePrice{
			Price:     snap.Day.Close,
			Source:    stockval.SourceDayClose,
			Timestamp: in.Now.UnixMilli(),
		}
	}
	if snap.MinuteBar != nil && stockval.IsGreaterThanZero(snap.MinuteBar.Close) {
		ts := calendar.ToMilliseconds(snap.MinuteBar.Timestamp)
		if in.Force || cal.DateKey(time.UnixMilli(ts)) == cal.DateKey(in.Now) {
			return candidate{snap.MinuteBar.Close, ts, stockval.SourceMinuteBar}.effective(in.Now, FreshThresholdLive)
		}
	}
	if in.Force && snap.LastTrade != nil && stockval.IsGreaterThanZero(snap.LastTrade.Price) {
		return &stockval.EffectivePrice{
			Price:       snap.LastTrade.Price,
			Source:      stockval.SourceLastTrade,
			Timestamp:   calendar.ToMilliseconds(snap.LastTrade.Timestamp),
			IsStale:     true,
			StaleReason: "off-session last trade accepted on override",
		}
	}
	return nil
}

// resolveAfterHours picks the best of all qualifying candidates: any
// non-stale candidate beats any stale one, newer timestamps beat older ones,
// and identical timestamps resolve by the stable candidate order (minute
// bar, last trade, last quote). No after-hours price is ever synthesized
// from daily closes.
func resolveAfterHours(cal calendar.MarketCalendar, in Input) *stockval.EffectivePrice {
	var best *stockval.EffectivePrice
	for _, c := range sessionCandidates(cal, in) {
		ep := c.effective(in.Now, FreshThresholdExtended)
		if best == nil ||
			(!ep.IsStale && best.IsStale) ||
			(ep.IsStale == best.IsStale && ep.Timestamp > best.Timestamp) {
			best = ep
		}
	}
	return best
}
