package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"burnScope/internal/chain"
	"burnScope/internal/model"
	"burnScope/internal/retry"
)

var testToken = common.HexToAddress("0x1111111111111111111111111111111111111111")

// fakeProvider serves canned transfers and enforces an artificial window limit.
type fakeProvider struct {
	head      uint64
	maxWidth  uint64
	transfers []model.RawTransfer

	calls     []BlockRange
	transient int
}

func (p *fakeProvider) HeadBlock(_ context.Context) (uint64, error) {
	return p.head, nil
}

func (p *fakeProvider) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1700000000 + number, nil
}

func (p *fakeProvider) FilterTransfers(_ context.Context, token common.Address, from, to uint64) ([]model.RawTransfer, error) {
	p.calls = append(p.calls, BlockRange{From: from, To: to})
	if p.maxWidth > 0 && to-from+1 > p.maxWidth {
		return nil, fmt.Errorf("%w: span %d", chain.ErrRangeTooWide, to-from+1)
	}
	if p.transient > 0 {
		p.transient--
		return nil, errors.New("429 too many requests")
	}

	var out []model.RawTransfer
	for _, t := range p.transfers {
		if t.Token == token && t.BlockNumber >= from && t.BlockNumber <= to {
			out = append(out, t)
		}
	}
	return out, nil
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func mkTransfer(block uint64, from, to common.Address, amount int64, hash byte, index uint64) model.RawTransfer {
	return model.RawTransfer{
		Token:       testToken,
		From:        from,
		To:          to,
		RawAmount:   big.NewInt(amount),
		TxHash:      common.BytesToHash([]byte{hash}),
		LogIndex:    index,
		BlockNumber: block,
		Timestamp:   1700000000 + block,
	}
}

func TestFetcherSplitsToMaxWindow(t *testing.T) {
	provider := &fakeProvider{head: 200, maxWidth: 10}
	f := NewFetcher(provider, testToken, 10, fastRetry(1), nil)

	if _, err := f.Fetch(context.Background(), 100, 135); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 109},
		{From: 110, To: 119},
		{From: 120, To: 129},
		{From: 130, To: 135},
	}
	if len(provider.calls) != len(want) {
		t.Fatalf("calls mismatch: %+v", provider.calls)
	}
	for i, call := range provider.calls {
		if call != want[i] {
			t.Fatalf("call %d mismatch: %+v != %+v", i, call, want[i])
		}
	}
}

func TestFetcherHalvesOnRejection(t *testing.T) {
	// The provider's real limit is narrower than the configured window, so the
	// fetcher must discover it by halving.
	provider := &fakeProvider{head: 200, maxWidth: 10}
	f := NewFetcher(provider, testToken, 40, fastRetry(1), nil)

	if _, err := f.Fetch(context.Background(), 100, 135); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify the accepted windows cover [100,135] exactly, no overlap, no gap.
	next := uint64(100)
	for _, call := range provider.calls {
		if call.To-call.From+1 > provider.maxWidth {
			continue // rejected probe
		}
		if call.From != next {
			t.Fatalf("gap or overlap at %d: got window %+v", next, call)
		}
		next = call.To + 1
	}
	if next != 136 {
		t.Fatalf("windows end at %d, want 136", next)
	}
}

func TestFetcherRetriesTransient(t *testing.T) {
	provider := &fakeProvider{
		head:      200,
		transient: 2,
		transfers: []model.RawTransfer{
			mkTransfer(105, common.HexToAddress("0xaa"), common.HexToAddress("0xbb"), 10, 1, 0),
		},
	}
	f := NewFetcher(provider, testToken, 100, fastRetry(5), nil)

	got, err := f.Fetch(context.Background(), 100, 110)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(got))
	}
	if len(provider.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(provider.calls))
	}
}

func TestFetcherExhaustsRetries(t *testing.T) {
	provider := &fakeProvider{head: 200, transient: 10}
	f := NewFetcher(provider, testToken, 100, fastRetry(3), nil)

	if _, err := f.Fetch(context.Background(), 100, 110); err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if len(provider.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(provider.calls))
	}
}
