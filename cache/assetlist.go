// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package cache

import (
	"marketpulse/stockval"
	"strings"
)

// AssetList is a provider ticker list, sorted by symbol.
type AssetList []stockval.AssetData

// Find searches for matching entries with the following priorities:
// Exact symbol matches are always preferred
// Symbol prefix matches are next
// Company name prefix matches are next
// Company name substring matches are last
// An unambiguousLookup returns only an exact symbol match, which is what
// symbol resolution at startup needs.
func (l AssetList) Find(t string, maxNum int, unambiguousLookup bool) AssetList {
	if len(t) == 0 {
		return AssetList{}
	}
	t = stockval.NormalizeAssetName(t)
	var result AssetList
	// Exact symbol matches
	for _, a := range l {
		if a.Symbol == t {
			// exact match should be first result
			result = AssetList{a}
			break
		}
	}
	if unambiguousLookup {
		return result
	}
	// Symbol prefix matches
	for _, a := range l {
		if strings.HasPrefix(a.Symbol, t) {
			result = appendIfNotDuplicate(result, a, maxNum)
		}
	}
	// Company name prefix matches
	for _, a := range l {
		if strings.HasPrefix(a.CompanyNameNormalized, t) {
			result = appendIfNotDuplicate(result, a, maxNum)
		}
	}
	// Company name substring matches
	for _, a := range l {
		if strings.Contains(a.CompanyNameNormalized, t) {
			result = appendIfNotDuplicate(result, a, maxNum)
		}
	}
	return result
}

func appendIfNotDuplicate(l AssetList, a stockval.AssetData, maxNum int) AssetList {
	if maxNum > 0 && len(l) >= maxNum {
		return l
	}
	for _, o := range l {
		if o == a {
			return l
		}
	}
	return append(l, a)
}
