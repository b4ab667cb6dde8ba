// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricing

import (
	"marketpulse/stockval"
)

// CanOverwrite decides whether a newly resolved price may replace the stored
// record. The frozen-state check must run before any price or timestamp
// comparison: a technically newer candidate observed during a frozen state is
// still rejected. Equal-or-older candidates never replace a valid existing
// value.
//
// The caller is responsible for evaluating existing and candidate under one
// consistent snapshot and for serializing the read-guard-write sequence per
// ticker; this function provides the decision only, not the atomicity.
func CanOverwrite(st State, existing *stockval.PriceRecord, candidate *stockval.EffectivePrice) bool {
	if !st.CanOverwrite {
		return false
	}
	if candidate == nil || !stockval.IsGreaterThanZero(candidate.Price) {
		return false
	}
	if existing == nil {
		return true
	}
	if !stockval.IsGreaterThanZero(existing.Price) {
		return true
	}
	return candidate.Timestamp > existing.Timestamp
}
