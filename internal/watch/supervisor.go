package watch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"burnScope/internal/metrics"
	"burnScope/internal/model"
)

// Subscription is a live transfer stream handle.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// DialFunc opens a subscription that forwards decoded transfers into out.
type DialFunc func(ctx context.Context, out chan<- model.RawTransfer) (Subscription, error)

// ProbeFunc checks provider liveness independent of event traffic.
type ProbeFunc func(ctx context.Context) error

// Config holds runtime settings for the supervisor.
type Config struct {
	ProbeInterval time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
}

// Supervisor owns the live subscription. It probes the transport periodically,
// and on any error, close, or probe failure tears the subscription down and
// rebuilds it with capped exponential backoff, re-attaching the same handler.
// Events during an outage window are missed by this path; the scanner's
// reconciliation passes close that gap.
type Supervisor struct {
	cfg     Config
	dial    DialFunc
	probe   ProbeFunc
	handler func(model.RawTransfer)
	logger  *zap.Logger
}

func NewSupervisor(cfg Config, dial DialFunc, probe ProbeFunc, handler func(model.RawTransfer), logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 15 * time.Second
	}
	return &Supervisor{
		cfg:     cfg,
		dial:    dial,
		probe:   probe,
		handler: handler,
		logger:  logger,
	}
}

// Run maintains the subscription until the context is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	events := make(chan model.RawTransfer, 64)
	delay := s.cfg.BackoffBase

	for {
		sub, err := s.dial(ctx, events)
		if err != nil {
			s.logger.Warn("subscribe failed", zap.Error(err), zap.Duration("retry_in", delay))
			if !s.sleep(ctx, delay) {
				return ctx.Err()
			}
			delay = s.nextDelay(delay)
			continue
		}
		delay = s.cfg.BackoffBase

		reason := s.watch(ctx, sub, events)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		metrics.Reconnects.Inc()
		s.logger.Warn("subscription lost, rebuilding", zap.Error(reason), zap.Duration("retry_in", delay))
		if !s.sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = s.nextDelay(delay)
	}
}

func (s *Supervisor) watch(ctx context.Context, sub Subscription, events <-chan model.RawTransfer) error {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return fmt.Errorf("subscription closed")
			}
			return err
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := s.probe(probeCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("liveness probe failed: %w", err)
			}
		case t := <-events:
			s.handler(t)
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > s.cfg.BackoffCap {
		d = s.cfg.BackoffCap
	}
	return d
}
