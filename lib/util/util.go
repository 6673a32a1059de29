// Package util contains helper functions used around the code.
package util

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// ToBaseUnit converts an amount in whole currency units to the chain's base unit (ie. wei for ethereum) using the
// currency's base factor. The fractional remainder below one base unit is truncated.
func ToBaseUnit(amount decimal.Decimal, baseFactor int64) *big.Int {
	return amount.Mul(decimal.NewFromInt(baseFactor)).Truncate(0).BigInt()
}

// FromBaseUnit converts an amount in the chain's base unit to whole currency units.
func FromBaseUnit(amount *big.Int, baseFactor int64) decimal.Decimal {
	return decimal.NewFromBigInt(amount, 0).Div(decimal.NewFromInt(baseFactor))
}
