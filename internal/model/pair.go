package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// WatchedPair is the immutable per-instance configuration of what to watch and
// how to react. One instance watches exactly one token and one pair.
type WatchedPair struct {
	Token     common.Address
	Source    common.Address
	Recipient common.Address
	Disposal  common.Address

	Decimals    int32
	MinToAct    decimal.Decimal
	SettleDelay time.Duration
}

// Matches reports whether a transfer is the exact (source, recipient) pair on
// the watched token. Address comparison is byte equality, which makes hex-case
// differences irrelevant.
func (p WatchedPair) Matches(t RawTransfer) bool {
	return t.Token == p.Token && t.From == p.Source && t.To == p.Recipient
}

// Inbound reports whether a transfer is addressed to the watched recipient.
func (p WatchedPair) Inbound(t RawTransfer) bool {
	return t.Token == p.Token && t.To == p.Recipient
}
