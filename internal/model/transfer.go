package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RawTransfer is a decoded ERC-20 Transfer observed on chain.
type RawTransfer struct {
	Token       common.Address
	From        common.Address
	To          common.Address
	RawAmount   *big.Int
	TxHash      common.Hash
	LogIndex    uint64
	BlockNumber uint64
	Timestamp   uint64
}
