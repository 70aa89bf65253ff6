package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"burnScope/internal/model"
)

const receiptPollInterval = 3 * time.Second

// Client wraps go-ethereum RPC and provides the provider capabilities the
// scanner, trigger engine, and supervisor consume.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	key    *ecdsa.PrivateKey
	sender common.Address

	mu      sync.RWMutex
	tsCache map[uint64]uint64
	chainID *big.Int
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// UseSigner configures the private key used to submit transfers.
func (c *Client) UseSigner(privateKeyHex string) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	c.key = key
	c.sender = crypto.PubkeyToAddress(key.PublicKey)
	return nil
}

// Sender returns the address derived from the configured signer key.
func (c *Client) Sender() common.Address {
	return c.sender
}

// HeadBlock returns the current head height.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// ChainID returns the chain ID, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	id := c.chainID
	c.mu.RUnlock()
	if id != nil {
		return id, nil
	}

	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.chainID = id
	c.mu.Unlock()
	return id, nil
}

// BlockTimestamp returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// FilterTransfers returns decoded Transfer logs of the token in [fromBlock, toBlock].
// Window-limit rejections are reported as ErrRangeTooWide so callers can subdivide.
func (c *Client) FilterTransfers(ctx context.Context, token common.Address, fromBlock, toBlock uint64) ([]model.RawTransfer, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferTopic}},
	}

	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		if isRangeTooWide(err) {
			return nil, fmt.Errorf("%w: %v", ErrRangeTooWide, err)
		}
		return nil, err
	}

	transfers := make([]model.RawTransfer, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		t, err := DecodeTransferLog(lg)
		if err != nil {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

// BalanceOf reads the token balance of holder at the current head.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	parsed, err := erc20ABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	data, err := parsed.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	values, err := parsed.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf return type %T", values[0])
	}
	return balance, nil
}

// SubmitTransfer signs and broadcasts an ERC-20 transfer of amount to the
// destination address. It returns the transaction hash once accepted by the
// provider; inclusion is confirmed separately via WaitForInclusion.
func (c *Client) SubmitTransfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, fmt.Errorf("no signer key configured")
	}

	parsed, err := erc20ABIInstance()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := parsed.Pack("transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack transfer: %w", err)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get chain id: %w", err)
	}
	nonce, err := c.ethClient.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}
	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := c.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From: c.sender,
		To:   &token,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &token,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transfer: %w", err)
	}
	if err := c.ethClient.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transfer: %w", err)
	}

	return signed.Hash(), nil
}

// WaitForInclusion polls for the receipt of a submitted transfer until the
// context expires. On success it returns the outgoing Transfer decoded from the
// receipt's own logs, so the recorded row carries the real log position and
// amount. A reverted transaction yields ErrActionRejected; a context deadline
// yields ErrInclusionTimeout, leaving the action unresolved.
func (c *Client) WaitForInclusion(ctx context.Context, txHash common.Hash) (model.RawTransfer, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.ethClient.TransactionReceipt(ctx, txHash)
		if err == nil {
			return c.transferFromReceipt(ctx, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) && ctx.Err() != nil {
			return model.RawTransfer{}, fmt.Errorf("%w: %v", ErrInclusionTimeout, ctx.Err())
		}

		select {
		case <-ctx.Done():
			return model.RawTransfer{}, fmt.Errorf("%w: %s", ErrInclusionTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}

func (c *Client) transferFromReceipt(ctx context.Context, receipt *types.Receipt) (model.RawTransfer, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.RawTransfer{}, fmt.Errorf("%w: %s", ErrActionRejected, receipt.TxHash.Hex())
	}

	for _, lg := range receipt.Logs {
		t, err := DecodeTransferLog(*lg)
		if err != nil {
			continue
		}
		if ts, err := c.BlockTimestamp(ctx, t.BlockNumber); err == nil {
			t.Timestamp = ts
		}
		return t, nil
	}
	return model.RawTransfer{}, fmt.Errorf("no transfer log in receipt %s", receipt.TxHash.Hex())
}

// TransferSubscription is a live Transfer log subscription. Err yields at most
// one error and is closed when the subscription ends.
type TransferSubscription struct {
	sub  ethereum.Subscription
	errs chan error
}

func (s *TransferSubscription) Err() <-chan error { return s.errs }

func (s *TransferSubscription) Unsubscribe() { s.sub.Unsubscribe() }

// SubscribeTransfers opens a live subscription for Transfer logs of the token
// addressed to recipient and forwards decoded transfers into out. Requires a
// websocket RPC endpoint.
func (c *Client) SubscribeTransfers(ctx context.Context, token, recipient common.Address, out chan<- model.RawTransfer) (*TransferSubscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{token},
		Topics: [][]common.Hash{
			{TransferTopic},
			nil,
			{common.BytesToHash(recipient.Bytes())},
		},
	}

	logs := make(chan types.Log, 64)
	sub, err := c.ethClient.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}

	ts := &TransferSubscription{sub: sub, errs: make(chan error, 1)}
	go func() {
		defer close(ts.errs)
		for {
			select {
			case err, ok := <-sub.Err():
				if ok && err != nil {
					ts.errs <- err
				}
				return
			case lg := <-logs:
				t, err := DecodeTransferLog(lg)
				if err != nil {
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ts, nil
}
