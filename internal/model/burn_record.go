package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BurnRecord is the normalized representation of a recorded transfer-of-interest.
// The (TxHash, LogIndex) pair is globally unique; rows are written once and never
// updated or deleted.
type BurnRecord struct {
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	BlockNumber *uint64         `json:"block_number,omitempty"`
	Token       string          `json:"token"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	RawAmount   string          `json:"raw_amount"`
	Amount      decimal.Decimal `json:"amount"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// NewBurnRecord builds a BurnRecord from a decoded transfer. The block timestamp
// is used when the transfer carries one; otherwise the wall clock at recording.
func NewBurnRecord(t RawTransfer, decimals int32) BurnRecord {
	observed := time.Now().UTC()
	if t.Timestamp > 0 {
		observed = time.Unix(int64(t.Timestamp), 0).UTC()
	}

	rec := BurnRecord{
		TxHash:      t.TxHash.Hex(),
		LogIndex:    t.LogIndex,
		Token:       t.Token.Hex(),
		FromAddress: t.From.Hex(),
		ToAddress:   t.To.Hex(),
		RawAmount:   t.RawAmount.String(),
		Amount:      ScaleAmount(t.RawAmount, decimals),
		ObservedAt:  observed,
	}
	if t.BlockNumber > 0 {
		block := t.BlockNumber
		rec.BlockNumber = &block
	}
	return rec
}

// Key returns the natural uniqueness key of the record.
func (r BurnRecord) Key() string {
	return fmt.Sprintf("%s:%d", strings.ToLower(r.TxHash), r.LogIndex)
}
