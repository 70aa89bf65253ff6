package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ScaleAmount converts a raw on-chain amount into human units by shifting
// the decimal point. The result is exact; no binary floating point is involved.
func ScaleAmount(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
