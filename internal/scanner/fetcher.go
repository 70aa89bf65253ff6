package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"burnScope/internal/chain"
	"burnScope/internal/model"
	"burnScope/internal/retry"
)

// Provider is the chain read capability the scanner consumes.
type Provider interface {
	HeadBlock(ctx context.Context) (uint64, error)
	FilterTransfers(ctx context.Context, token common.Address, fromBlock, toBlock uint64) ([]model.RawTransfer, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Fetcher retrieves matching transfers over a block interval, respecting the
// provider's window limit by pre-splitting and by halving on rejection.
type Fetcher struct {
	provider  Provider
	token     common.Address
	maxWindow uint64
	retry     retry.Policy
	logger    *zap.Logger
}

func NewFetcher(provider Provider, token common.Address, maxWindow uint64, policy retry.Policy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		provider:  provider,
		token:     token,
		maxWindow: maxWindow,
		retry:     policy,
		logger:    logger,
	}
}

// Fetch returns all Transfer events of the token in [from, to]. The windows
// issued to the provider cover the interval exactly, with no overlap and no gap.
func (f *Fetcher) Fetch(ctx context.Context, from, to uint64) ([]model.RawTransfer, error) {
	windows, err := SplitRange(from, to, f.maxWindow)
	if err != nil {
		return nil, err
	}

	out := make([]model.RawTransfer, 0)
	for _, w := range windows {
		transfers, err := f.fetchWindow(ctx, w.From, w.To)
		if err != nil {
			return nil, err
		}
		out = append(out, transfers...)
	}
	return out, nil
}

func (f *Fetcher) fetchWindow(ctx context.Context, from, to uint64) ([]model.RawTransfer, error) {
	transfers, err := f.filterWithRetry(ctx, from, to)
	if err == nil {
		return transfers, nil
	}

	// The provider's real limit can be narrower than maxWindow; halve and retry
	// the halves instead of failing the batch.
	if errors.Is(err, chain.ErrRangeTooWide) && to > from {
		mid := from + (to-from)/2
		f.logger.Debug("window rejected, splitting", zap.Uint64("from", from), zap.Uint64("to", to), zap.Uint64("mid", mid))

		left, err := f.fetchWindow(ctx, from, mid)
		if err != nil {
			return nil, err
		}
		right, err := f.fetchWindow(ctx, mid+1, to)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}

	return nil, fmt.Errorf("fetch [%d,%d]: %w", from, to, err)
}

func (f *Fetcher) filterWithRetry(ctx context.Context, from, to uint64) ([]model.RawTransfer, error) {
	var transfers []model.RawTransfer
	err := f.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		transfers, err = f.provider.FilterTransfers(ctx, f.token, from, to)
		if err != nil {
			if errors.Is(err, chain.ErrRangeTooWide) {
				return retry.Permanent(err)
			}
			f.logger.Warn("filter transfers failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
		}
		return err
	})
	return transfers, err
}
