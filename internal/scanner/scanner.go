package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"burnScope/internal/metrics"
	"burnScope/internal/model"
	"burnScope/internal/retry"
	"burnScope/internal/storage"
)

// Config holds runtime settings for the cursor scanner.
type Config struct {
	Pair         model.WatchedPair
	BatchSize    uint64
	MaxWindow    uint64
	PollInterval time.Duration
	StartBlock   uint64
	Retry        retry.Policy
}

// Scanner advances a persistent cursor over the chain, records matching
// transfers, and moves the checkpoint only after a sub-batch is durably
// written. Re-scans after a crash are absorbed by the sink's uniqueness key.
type Scanner struct {
	cfg      Config
	provider Provider
	fetcher  *Fetcher
	store    storage.Store
	logger   *zap.Logger
	token    string
}

func New(cfg Config, provider Provider, store storage.Store, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWindow == 0 {
		cfg.MaxWindow = cfg.BatchSize
	}
	return &Scanner{
		cfg:      cfg,
		provider: provider,
		fetcher:  NewFetcher(provider, cfg.Pair.Token, cfg.MaxWindow, cfg.Retry, logger),
		store:    store,
		logger:   logger,
		token:    strings.ToLower(cfg.Pair.Token.Hex()),
	}
}

func (s *Scanner) validate() error {
	if s.provider == nil {
		return fmt.Errorf("provider is nil")
	}
	if s.store == nil {
		return fmt.Errorf("store is nil")
	}
	if s.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	return nil
}

// RunOnce catches up from the checkpoint to the head observed at entry, then
// returns. Used by the one-shot scan command and the reconciliation job.
func (s *Scanner) RunOnce(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	cursor, err := s.seedCursor(ctx)
	if err != nil {
		return err
	}
	head, err := s.headWithRetry(ctx)
	if err != nil {
		return err
	}
	if cursor >= head {
		s.logger.Info("nothing to sync", zap.Uint64("cursor", cursor), zap.Uint64("head", head))
		return nil
	}

	for cursor < head {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		upper := min(cursor+s.cfg.BatchSize, head)
		if err := s.processBatch(ctx, cursor+1, upper); err != nil {
			return err
		}
		cursor = upper
	}
	return nil
}

// Run catches up and then keeps polling for new heights until the context is
// canceled. Catch-up behavior re-engages whenever the head outruns the cursor
// by more than one sub-batch.
func (s *Scanner) Run(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	cursor, err := s.seedCursor(ctx)
	if err != nil {
		return err
	}

	pollInterval := s.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		head, err := s.headWithRetry(ctx)
		if err != nil {
			return err
		}

		if cursor < head {
			upper := min(cursor+s.cfg.BatchSize, head)
			if err := s.processBatch(ctx, cursor+1, upper); err != nil {
				return err
			}
			cursor = upper
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// seedCursor derives the scan origin: the stored checkpoint when present, else
// the configured start height, else the current head. The scanner never
// defaults to genesis.
func (s *Scanner) seedCursor(ctx context.Context) (uint64, error) {
	cp, ok, err := s.store.Checkpoint(ctx, s.token)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		s.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp))
		return cp, nil
	}

	if s.cfg.StartBlock > 0 {
		return s.cfg.StartBlock - 1, nil
	}

	head, err := s.headWithRetry(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("no checkpoint, starting at head", zap.Uint64("head", head))
	return head, nil
}

// processBatch records every matching transfer in [from, to] and advances the
// checkpoint to the upper bound. The checkpoint moves only after all events of
// the batch are durably written.
func (s *Scanner) processBatch(ctx context.Context, from, to uint64) error {
	s.logger.Info("fetch transfers", zap.Uint64("from", from), zap.Uint64("to", to))

	transfers, err := s.fetcher.Fetch(ctx, from, to)
	if err != nil {
		return err
	}

	matched := 0
	duplicates := 0
	for _, t := range transfers {
		if !s.cfg.Pair.Matches(t) {
			continue
		}

		if t.Timestamp == 0 {
			ts, err := s.timestampWithRetry(ctx, t.BlockNumber)
			if err != nil {
				return fmt.Errorf("block timestamp %d: %w", t.BlockNumber, err)
			}
			t.Timestamp = ts
		}

		outcome, err := s.store.RecordIfAbsent(ctx, model.NewBurnRecord(t, s.cfg.Pair.Decimals))
		if err != nil {
			return fmt.Errorf("record transfer %s: %w", t.TxHash.Hex(), err)
		}
		if outcome == storage.AlreadyPresent {
			duplicates++
			metrics.DuplicateEvents.Inc()
			continue
		}
		matched++
		metrics.EventsRecorded.WithLabelValues("scanner").Inc()
	}

	if err := s.store.SetCheckpoint(ctx, s.token, to); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	metrics.BatchesProcessed.Inc()

	s.logger.Info("batch complete",
		zap.Int("recorded", matched),
		zap.Int("duplicates", duplicates),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
	)
	return nil
}

func (s *Scanner) headWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		head, err = s.provider.HeadBlock(ctx)
		if err != nil {
			s.logger.Warn("head block fetch failed", zap.Error(err))
		}
		return err
	})
	return head, err
}

func (s *Scanner) timestampWithRetry(ctx context.Context, number uint64) (uint64, error) {
	var ts uint64
	err := s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		ts, err = s.provider.BlockTimestamp(ctx, number)
		if err != nil {
			s.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", number))
		}
		return err
	})
	return ts, err
}
