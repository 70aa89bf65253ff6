package chain

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"burnScope/internal/model"
)

const erc20ABIJSON = `[
  {"inputs": [{"type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}, {"type": "uint256"}], "name": "transfer", "outputs": [{"type": "bool"}], "stateMutability": "nonpayable", "type": "function"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error

	// TransferTopic is topic0 of Transfer(address,address,uint256).
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func erc20ABIInstance() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// DecodeTransferLog decodes an ERC-20 Transfer log into a RawTransfer.
// Logs with a different topic0 or an indexed value slot (ERC-721) are rejected.
func DecodeTransferLog(lg types.Log) (model.RawTransfer, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return model.RawTransfer{}, fmt.Errorf("not an erc20 transfer log")
	}
	if len(lg.Data) != 32 {
		return model.RawTransfer{}, fmt.Errorf("unexpected transfer data length %d", len(lg.Data))
	}

	return model.RawTransfer{
		Token:       lg.Address,
		From:        common.BytesToAddress(lg.Topics[1].Bytes()),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()),
		RawAmount:   new(big.Int).SetBytes(lg.Data),
		TxHash:      lg.TxHash,
		LogIndex:    uint64(lg.Index),
		BlockNumber: lg.BlockNumber,
	}, nil
}
