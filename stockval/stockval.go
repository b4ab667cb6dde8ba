// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package stockval

import (
	"regexp"
	"strings"
)

type AssetData struct {
	Symbol                string
	Currency              string
	CompanyName           string
	CompanyNameNormalized string `yaml:"-"`
	Tradable              bool   `yaml:",omitempty"`
}

type BrokerId string

var alphanumericRegex = regexp.MustCompile(`[^\p{L}\p{N}/ ]+`)

func NormalizeAssetName(n string) string {
	return strings.TrimSpace(strings.ToUpper(alphanumericRegex.ReplaceAllString(n, "")))
}

func IndexOf[T comparable](s []T, e T) int {
	for i, v := range s {
		if v == e {
			return i
		}
	}
	return -1
}
