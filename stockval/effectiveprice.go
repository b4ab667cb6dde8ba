// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package stockval

import (
	"marketpulse/calendar"

	"github.com/ericlagergren/decimal"
)

// PriceSource tags which snapshot field an effective price was derived from.
type PriceSource int

const (
	SourceNone PriceSource = iota
	SourceMinuteBar
	SourceLastTrade
	SourceLastQuote
	SourceDayClose
	SourceFrozen
	SourcePreviousClose
)

func (s PriceSource) String() string {
	switch s {
	case SourceMinuteBar:
		return "minute-bar"
	case SourceLastTrade:
		return "last-trade"
	case SourceLastQuote:
		return "last-quote"
	case SourceDayClose:
		return "day-close"
	case SourceFrozen:
		return "frozen"
	case SourcePreviousClose:
		return "previous-close-fallback"
	default:
		return "none"
	}
}

// EffectivePrice is the single trustworthy price resolved from a snapshot.
// Price is always strictly positive; resolution that cannot produce a
// positive price yields no EffectivePrice at all. Never mutated after
// creation.
type EffectivePrice struct {
	Price     *decimal.Big
	Source    PriceSource
	Timestamp int64 // milliseconds
	IsStale   bool
	// StaleReason is a displayable explanation, set only when IsStale.
	StaleReason string
}

// FrozenPrice is a previously resolved price retained to serve through
// overnight, weekend and holiday states. It is only ever stored from a valid
// resolution, so its price is positive by construction.
type FrozenPrice struct {
	Price     *decimal.Big
	Timestamp int64 // milliseconds
}

// PriceRecord is the committed price for a ticker as held by the store.
type PriceRecord struct {
	Price     *decimal.Big
	Timestamp int64 // milliseconds
	Session   calendar.Session
}

// ReferencePrices are the percent-change denominators known for a ticker.
type ReferencePrices struct {
	// PreviousClose is the prior trading day's regular session close.
	PreviousClose *decimal.Big
	// RegularClose is the current day's regular session close, once known.
	RegularClose *decimal.Big
	// TradingDay is the DateKey the prices belong to.
	TradingDay string
}
