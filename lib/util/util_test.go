package util

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIn(t *testing.T) {
	assert.True(t, In([]string{"a", "b"}, "b"))
	assert.False(t, In([]string{"a", "b"}, "c"))
	assert.False(t, In(nil, "a"))
}

func TestBaseUnitRoundTrip(t *testing.T) {
	const weiFactor = int64(1000000000000000000)

	wei := ToBaseUnit(decimal.RequireFromString("1.5"), weiFactor)
	assert.Equal(t, "1500000000000000000", wei.String())

	back := FromBaseUnit(wei, weiFactor)
	assert.True(t, back.Equal(decimal.RequireFromString("1.5")))

	// below one base unit truncates to zero
	dust := ToBaseUnit(decimal.RequireFromString("0.0000000000000000001"), weiFactor)
	assert.Equal(t, "0", dust.String())

	sats := ToBaseUnit(decimal.RequireFromString("0.0001"), 100000000)
	assert.Equal(t, big.NewInt(10000).String(), sats.String())
}
