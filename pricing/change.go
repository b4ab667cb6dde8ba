// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricing

import (
	"marketpulse/calendar"
	"marketpulse/stockval"

	"github.com/ericlagergren/decimal"
)

// Reference reports which denominator a percent change was computed against,
// so a caller can render "vs. previous close $150.00" without re-deriving
// the choice.
type Reference struct {
	Used  ReferenceKind
	Price *decimal.Big
}

type PercentChangeResult struct {
	ChangePct *decimal.Big
	Reference Reference
}

// PercentChange computes the session-dependent percent change. Pre-market
// and live sessions compare against the previous trading day's close.
// After-hours and closed sessions prefer the current day's regular close and
// only fall back to the previous close when no regular close is known yet;
// collapsing that asymmetry is the classic way to get this wrong. A missing
// or non-positive reference yields zero with reference "none", never a
// division artifact.
func PercentChange(current *decimal.Big, session calendar.Session, previousClose, regularClose *decimal.Big) PercentChangeResult {
	none := PercentChangeResult{ChangePct: new(decimal.Big)}
	if !stockval.IsGreaterThanZero(current) {
		return none
	}
	var ref *decimal.Big
	var used ReferenceKind
	switch session {
	case calendar.SessionPreMarket, calendar.SessionLive:
		if stockval.IsGreaterThanZero(previousClose) {
			ref, used = previousClose, RefPreviousClose
		}
	default:
		if stockval.IsGreaterThanZero(regularClose) {
			ref, used = regularClose, RefRegularClose
		} else if stockval.IsGreaterThanZero(previousClose) {
			ref, used = previousClose, RefPreviousClose
		}
	}
	if ref == nil {
		return none
	}
	return PercentChangeResult{
		ChangePct: stockval.CalculateDeltaPercentage(ref, current),
		Reference: Reference{Used: used, Price: ref},
	}
}
