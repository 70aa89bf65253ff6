package model

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBurnRecord(t *testing.T) {
	raw, ok := new(big.Int).SetString("123000000000000000000", 10)
	require.True(t, ok)

	transfer := RawTransfer{
		Token:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		From:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		To:          common.HexToAddress("0x3333333333333333333333333333333333333333"),
		RawAmount:   raw,
		TxHash:      common.HexToHash("0xabc1"),
		LogIndex:    2,
		BlockNumber: 1000,
		Timestamp:   1700000000,
	}

	rec := NewBurnRecord(transfer, 18)
	assert.Equal(t, "123000000000000000000", rec.RawAmount)
	assert.Equal(t, "123", rec.Amount.String())
	require.NotNil(t, rec.BlockNumber)
	assert.Equal(t, uint64(1000), *rec.BlockNumber)
	assert.Equal(t, int64(1700000000), rec.ObservedAt.Unix())
}

func TestNewBurnRecordPendingBlock(t *testing.T) {
	// A transfer derived from a submitted-not-yet-mined action has no block.
	rec := NewBurnRecord(RawTransfer{
		TxHash:    common.HexToHash("0xabc2"),
		RawAmount: big.NewInt(1),
	}, 18)
	assert.Nil(t, rec.BlockNumber)
	assert.False(t, rec.ObservedAt.IsZero())
}

func TestBurnRecordKeyCaseInsensitive(t *testing.T) {
	a := BurnRecord{TxHash: "0xABCDEF", LogIndex: 1}
	b := BurnRecord{TxHash: "0xabcdef", LogIndex: 1}
	c := BurnRecord{TxHash: "0xabcdef", LogIndex: 2}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, b.Key(), c.Key())
}
