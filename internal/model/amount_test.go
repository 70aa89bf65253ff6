package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleAmountExact(t *testing.T) {
	raw, ok := new(big.Int).SetString("123000000000000000000", 10)
	require.True(t, ok)

	assert.Equal(t, "123", ScaleAmount(raw, 18).String())
	assert.Equal(t, "0.000000000000000001", ScaleAmount(big.NewInt(1), 18).String())
	assert.Equal(t, "0", ScaleAmount(big.NewInt(0), 18).String())
	assert.Equal(t, "0", ScaleAmount(nil, 18).String())
}

func TestScaleAmountSmallDecimals(t *testing.T) {
	// USDT-style 6 decimals.
	assert.Equal(t, "1.5", ScaleAmount(big.NewInt(1500000), 6).String())
	assert.Equal(t, "0.000001", ScaleAmount(big.NewInt(1), 6).String())
}
