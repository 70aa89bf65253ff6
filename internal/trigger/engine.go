package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"burnScope/internal/chain"
	"burnScope/internal/metrics"
	"burnScope/internal/model"
	"burnScope/internal/retry"
	"burnScope/internal/storage"
)

// Provider is the chain capability the trigger engine consumes.
type Provider interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	SubmitTransfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error)
	WaitForInclusion(ctx context.Context, txHash common.Hash) (model.RawTransfer, error)
}

// Config holds runtime settings for the trigger engine.
type Config struct {
	Pair             model.WatchedPair
	InclusionTimeout time.Duration
	Retry            retry.Policy
}

// Engine converts qualifying inbound transfers into exactly one outgoing
// transfer of the recipient's balance to the disposal address, plus exactly one
// recorded outcome. A single worker goroutine drains the notification queue, so
// at most one act-and-confirm cycle is in flight per recipient.
//
// Acting is balance-based: after the settle delay the engine re-reads the live
// balance instead of trusting the notified amount, so rapid inbound transfers
// coalesce into one sweep and a cycle that already ran leaves nothing to act on.
type Engine struct {
	cfg           Config
	provider      Provider
	sink          storage.EventSink
	logger        *zap.Logger
	notifications chan model.RawTransfer
}

func New(cfg Config, provider Provider, sink storage.EventSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 5 * time.Minute
	}
	return &Engine{
		cfg:           cfg,
		provider:      provider,
		sink:          sink,
		logger:        logger,
		notifications: make(chan model.RawTransfer, 16),
	}
}

// Notify queues an inbound transfer for processing. Transfers not addressed to
// the watched recipient are ignored. A full queue drops the notification:
// acting is balance-based, so the amount is picked up by the cycle already
// queued or by the next sweep.
func (e *Engine) Notify(t model.RawTransfer) {
	if !e.cfg.Pair.Inbound(t) {
		return
	}
	select {
	case e.notifications <- t:
	default:
		e.logger.Warn("notification queue full, dropping", zap.String("tx_hash", t.TxHash.Hex()))
	}
}

// RequestSweep enqueues a balance-based cycle through the worker queue, keeping
// the serialization guarantee. Used for the startup sweep and the periodic
// reconciliation job.
func (e *Engine) RequestSweep(ctx context.Context) error {
	balance, err := e.balanceWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if balance.Sign() == 0 {
		return nil
	}
	e.Notify(model.RawTransfer{
		Token:     e.cfg.Pair.Token,
		To:        e.cfg.Pair.Recipient,
		RawAmount: balance,
	})
	return nil
}

// Sweep runs one cycle directly, for the one-shot sweep command where no
// worker is running. After a crash between submit and record the balance reads
// zero and nothing is resubmitted.
func (e *Engine) Sweep(ctx context.Context) error {
	balance, err := e.balanceWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	scaled := model.ScaleAmount(balance, e.cfg.Pair.Decimals)
	if balance.Sign() == 0 || scaled.LessThan(e.cfg.Pair.MinToAct) {
		e.logger.Info("balance below threshold, nothing to sweep", zap.String("balance", scaled.String()))
		return nil
	}
	e.act(ctx)
	return nil
}

// Run drains the notification queue until the context is canceled. A cycle in
// flight at shutdown finishes before Run returns; aborting between submit and
// record would leave an ambiguous on-chain state.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-e.notifications:
			e.process(ctx, t)
		}
	}
}

func (e *Engine) process(ctx context.Context, t model.RawTransfer) {
	amount := model.ScaleAmount(t.RawAmount, e.cfg.Pair.Decimals)
	if amount.LessThan(e.cfg.Pair.MinToAct) {
		e.logger.Debug("below threshold, skipping",
			zap.String("amount", amount.String()),
			zap.String("min_to_act", e.cfg.Pair.MinToAct.String()),
		)
		return
	}

	if !e.settle(ctx) {
		return
	}
	e.act(ctx)
}

// settle waits out the post-event delay, coalescing notifications that arrive
// meanwhile. Returns false when the context is canceled before anything was
// submitted.
func (e *Engine) settle(ctx context.Context) bool {
	if e.cfg.Pair.SettleDelay <= 0 {
		e.drain()
		return true
	}

	timer := time.NewTimer(e.cfg.Pair.SettleDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.notifications:
		case <-timer.C:
			return true
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case <-e.notifications:
		default:
			return
		}
	}
}

// act runs ACTING, CONFIRMING, and RECORDING on the live balance. It is
// detached from shutdown cancellation so a submitted transfer always resolves
// to a recorded outcome or an explicit failure log, never a silent drop.
func (e *Engine) act(ctx context.Context) {
	timer := prometheus.NewTimer(metrics.SweepDuration)
	defer timer.ObserveDuration()

	actCtx := context.WithoutCancel(ctx)

	balance, err := e.balanceWithRetry(actCtx)
	if err != nil {
		e.logger.Error("read balance failed", zap.Error(err))
		return
	}
	scaled := model.ScaleAmount(balance, e.cfg.Pair.Decimals)
	if balance.Sign() == 0 || scaled.LessThan(e.cfg.Pair.MinToAct) {
		e.logger.Info("balance below threshold, skipping", zap.String("balance", scaled.String()))
		return
	}

	txHash, err := e.provider.SubmitTransfer(actCtx, e.cfg.Pair.Token, e.cfg.Pair.Disposal, balance)
	if err != nil {
		e.logger.Error("submit transfer failed", zap.Error(err), zap.String("amount", scaled.String()))
		return
	}
	e.logger.Info("transfer submitted",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("amount", scaled.String()),
		zap.String("disposal", e.cfg.Pair.Disposal.Hex()),
	)

	waitCtx, cancel := context.WithTimeout(actCtx, e.cfg.InclusionTimeout)
	defer cancel()

	out, err := e.provider.WaitForInclusion(waitCtx, txHash)
	if err != nil {
		if errors.Is(err, chain.ErrInclusionTimeout) {
			metrics.ActionsUnresolved.Inc()
			e.logger.Error("action unresolved, manual reconciliation required",
				zap.String("tx_hash", txHash.Hex()), zap.Error(err))
			return
		}
		e.logger.Error("transfer not included", zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		return
	}

	outcome, err := e.sink.RecordIfAbsent(actCtx, model.NewBurnRecord(out, e.cfg.Pair.Decimals))
	if err != nil {
		// The transfer is on chain but unrecorded; the scanner backfills it
		// from the transaction's own log on its next pass.
		e.logger.Error("record outcome failed", zap.String("tx_hash", out.TxHash.Hex()), zap.Error(err))
		return
	}
	if outcome == storage.Inserted {
		metrics.EventsRecorded.WithLabelValues("trigger").Inc()
	}

	e.logger.Info("sweep complete",
		zap.String("tx_hash", out.TxHash.Hex()),
		zap.Uint64("block", out.BlockNumber),
		zap.String("amount", scaled.String()),
		zap.String("outcome", outcome.String()),
	)
}

func (e *Engine) balanceWithRetry(ctx context.Context) (*big.Int, error) {
	var balance *big.Int
	err := e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		balance, err = e.provider.BalanceOf(ctx, e.cfg.Pair.Token, e.cfg.Pair.Recipient)
		if err != nil {
			e.logger.Warn("balance fetch failed", zap.Error(err))
		}
		return err
	})
	return balance, err
}
