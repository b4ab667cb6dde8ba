// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package stockval

import (
	"github.com/ericlagergren/decimal"
)

// Snapshot is one read of a ticker's market data, as delivered by the
// upstream provider. Every sub-observation is optional and untrusted: fields
// may be absent, zero-valued or stale, and timestamps mix milliseconds and
// nanoseconds depending on the field. A snapshot is immutable once received.
type Snapshot struct {
	Symbol    string
	MinuteBar *MinuteBar
	LastTrade *TradeObservation
	LastQuote *QuoteObservation
	Day       *DayBar
	PrevDay   *DayBar
	// Updated is the provider's own snapshot timestamp, nanoseconds.
	Updated int64
}

// MinuteBar is the close of the most recent minute aggregate.
// Timestamp is the bar start, milliseconds.
type MinuteBar struct {
	Close     *decimal.Big
	Timestamp int64
}

// TradeObservation is the most recent trade. Timestamp is nanoseconds.
type TradeObservation struct {
	Price     *decimal.Big
	Timestamp int64
}

// QuoteObservation is the most recent NBBO quote. Timestamp is nanoseconds.
type QuoteObservation struct {
	BidPrice  *decimal.Big
	AskPrice  *decimal.Big
	Timestamp int64
}

// Mid returns the quote midpoint, or whichever side is present and positive
// if the other one is missing. Nil if the quote carries no usable price.
func (q *QuoteObservation) Mid() *decimal.Big {
	switch {
	case IsGreaterThanZero(q.BidPrice) && IsGreaterThanZero(q.AskPrice):
		return Midpoint(q.BidPrice, q.AskPrice)
	case IsGreaterThanZero(q.BidPrice):
		return q.BidPrice
	case IsGreaterThanZero(q.AskPrice):
		return q.AskPrice
	default:
		return nil
	}
}

// DayBar is an untimestamped daily aggregate close.
type DayBar struct {
	Close *decimal.Big
}
