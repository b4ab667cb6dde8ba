// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package stockval

import (
	"github.com/ericlagergren/decimal"
)

// Returns a new decimal containing the delta percentage value.
func CalculateDeltaPercentage(baseValue, currentValue *decimal.Big) *decimal.Big {
	percentage := new(decimal.Big)
	// Check for non-zero, see https://github.com/ericlagergren/decimal/pull/157
	if baseValue.Sign() != 0 {
		percentage.Quo(currentValue, baseValue)
		percentage.Sub(percentage, decimal.New(1, 0))
		percentage.Mul(percentage, decimal.New(100, 0))
	}
	return percentage
}

// RoundPercentage rounds percentage z to two digits after decimal point and returns z.
func RoundPercentage(z *decimal.Big) *decimal.Big {
	// Call Quantize twice, otherwise one digit may be missing, see https://github.com/ericlagergren/decimal/issues/151
	return z.Quantize(2).Quantize(2)
}

// Midpoint returns a new decimal halfway between a and b.
func Midpoint(a, b *decimal.Big) *decimal.Big {
	mid := new(decimal.Big).Add(a, b)
	return mid.Quo(mid, decimal.New(2, 0))
}

func IsGreaterThanZero(v *decimal.Big) bool {
	return v != nil && v.CmpTotal(new(decimal.Big)) > 0
}
