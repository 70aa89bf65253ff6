package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"burnScope/internal/chain"
	"burnScope/internal/config"
	"burnScope/internal/metrics"
	"burnScope/internal/model"
	"burnScope/internal/retry"
	"burnScope/internal/scanner"
	"burnScope/internal/storage"
	"burnScope/internal/storage/postgres"
	"burnScope/internal/trigger"
	"burnScope/internal/watch"
)

func main() {
	root := &cobra.Command{
		Use:          "burnscope",
		Short:        "ERC-20 burn watcher and sweeper",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the chain for matching transfers and record them",
		RunE:  runScan,
	}
	addCommonFlags(scanCmd)
	scanCmd.Flags().String("source", "", "source address of the watched pair")
	scanCmd.Flags().Uint64("batch-size", 1000, "blocks per scan sub-batch")
	scanCmd.Flags().Uint64("max-window", 1000, "max blocks per provider log query")
	scanCmd.Flags().Uint64("start-block", 0, "explicit scan origin when no checkpoint exists (0 means head)")
	scanCmd.Flags().Duration("poll-interval", 15*time.Second, "head poll interval in follow mode")
	scanCmd.Flags().Bool("follow", false, "keep polling for new blocks after catching up")
	root.AddCommand(scanCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch live transfers and sweep received tokens to the disposal address",
		RunE:  runWatch,
	}
	addCommonFlags(watchCmd)
	addTriggerFlags(watchCmd)
	watchCmd.Flags().String("ws-rpc", "", "websocket RPC URL for the live subscription (defaults to rpc)")
	watchCmd.Flags().String("source", "", "source address for the reconciliation scan (optional)")
	watchCmd.Flags().Uint64("batch-size", 1000, "blocks per reconciliation sub-batch")
	watchCmd.Flags().Uint64("max-window", 1000, "max blocks per provider log query")
	watchCmd.Flags().Uint64("start-block", 0, "reconciliation scan origin when no checkpoint exists")
	watchCmd.Flags().Duration("probe-interval", 30*time.Second, "subscription liveness probe interval")
	watchCmd.Flags().Bool("sweep-on-start", false, "run a balance sweep at startup")
	watchCmd.Flags().Duration("sweep-interval", 10*time.Minute, "periodic reconciliation interval")
	watchCmd.Flags().String("metrics-addr", "", "prometheus listen address (empty disables)")
	root.AddCommand(watchCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Sweep the recipient's current balance to the disposal address once",
		RunE:  runSweep,
	}
	addCommonFlags(sweepCmd)
	addTriggerFlags(sweepCmd)
	root.AddCommand(sweepCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("token", "", "token contract address")
	cmd.Flags().String("recipient", "", "watched recipient address")
	cmd.Flags().Int32("decimals", 18, "token decimal count")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (empty uses the local file store)")
	cmd.Flags().String("events-out", "./data/burn_events.jsonl", "events JSONL path for the file store")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint path for the file store")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", time.Second, "initial retry backoff")
	cmd.Flags().Duration("retry-backoff-cap", 15*time.Second, "maximum retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func addTriggerFlags(cmd *cobra.Command) {
	cmd.Flags().String("disposal", "", "disposal address receiving swept tokens")
	cmd.Flags().String("min-to-act", "0", "minimum human-scaled amount to act on")
	cmd.Flags().Duration("settle-delay", 30*time.Second, "delay between a notification and acting")
	cmd.Flags().String("private-key", "", "hex private key of the recipient account")
	cmd.Flags().Duration("inclusion-timeout", 5*time.Minute, "how long to wait for inclusion of a submitted transfer")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.RPCURL == "" {
		return config.Config{}, nil, fmt.Errorf("rpc url is required")
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	}
	store, err := storage.OpenFileStore(cfg.EventsPath, cfg.CheckpointPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open file store: %w", err)
	}
	return store, func() {}, nil
}

func retryPolicy(cfg config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBackoff,
		MaxDelay:    cfg.RetryBackoffCap,
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Source == "" {
		return fmt.Errorf("source address is required")
	}
	pair, err := cfg.Pair()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sc := scanner.New(scanner.Config{
		Pair:         pair,
		BatchSize:    cfg.BatchSize,
		MaxWindow:    cfg.MaxWindow,
		PollInterval: cfg.PollInterval,
		StartBlock:   cfg.StartBlock,
		Retry:        retryPolicy(cfg),
	}, client, store, logger)

	logger.Info("scan start",
		zap.String("token", pair.Token.Hex()),
		zap.String("source", pair.Source.Hex()),
		zap.String("recipient", pair.Recipient.Hex()),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Uint64("start_block", cfg.StartBlock),
	)

	follow, _ := cmd.Flags().GetBool("follow")
	if follow {
		return sc.Run(ctx)
	}
	return sc.RunOnce(ctx)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Disposal == "" {
		return fmt.Errorf("disposal address is required")
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	pair, err := cfg.Pair()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()
	if err := client.UseSigner(cfg.PrivateKey); err != nil {
		return err
	}

	wsClient := client
	if cfg.WSURL != "" && cfg.WSURL != cfg.RPCURL {
		wsClient, err = chain.NewClient(ctx, cfg.WSURL)
		if err != nil {
			return fmt.Errorf("connect ws rpc: %w", err)
		}
		defer wsClient.Close()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics.Serve(cfg.MetricsAddr, logger)

	eng := trigger.New(trigger.Config{
		Pair:             pair,
		InclusionTimeout: cfg.InclusionTimeout,
		Retry:            retryPolicy(cfg),
	}, client, store, logger)

	dial := func(ctx context.Context, out chan<- model.RawTransfer) (watch.Subscription, error) {
		return wsClient.SubscribeTransfers(ctx, pair.Token, pair.Recipient, out)
	}
	probe := func(ctx context.Context) error {
		_, err := wsClient.HeadBlock(ctx)
		return err
	}
	sup := watch.NewSupervisor(watch.Config{
		ProbeInterval: cfg.ProbeInterval,
		BackoffBase:   cfg.RetryBackoff,
		BackoffCap:    cfg.RetryBackoffCap,
	}, dial, probe, eng.Notify, logger)

	logger.Info("watch start",
		zap.String("token", pair.Token.Hex()),
		zap.String("recipient", pair.Recipient.Hex()),
		zap.String("disposal", pair.Disposal.Hex()),
		zap.String("min_to_act", pair.MinToAct.String()),
		zap.Duration("settle_delay", pair.SettleDelay),
	)

	sched, err := newReconciliationScheduler(ctx, cfg, pair, eng, client, store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Shutdown() }()
	sched.Start()

	if cfg.SweepOnStart {
		if err := eng.RequestSweep(ctx); err != nil {
			logger.Warn("startup sweep failed", zap.Error(err))
		}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- eng.Run(ctx) }()
	go func() { errCh <- sup.Run(ctx) }()

	err = <-errCh
	stop()
	<-errCh
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newReconciliationScheduler periodically re-reads the balance and, when a
// source is configured, re-scans the chain tail. This closes the data-loss
// window of subscription outages; without it the live path alone is unreliable.
func newReconciliationScheduler(
	ctx context.Context,
	cfg config.Config,
	pair model.WatchedPair,
	eng *trigger.Engine,
	client *chain.Client,
	store storage.Store,
	logger *zap.Logger,
) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(gocron.DurationJob(cfg.SweepInterval), gocron.NewTask(func() {
		if err := eng.RequestSweep(ctx); err != nil {
			logger.Warn("periodic sweep failed", zap.Error(err))
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("schedule sweep job: %w", err)
	}

	if cfg.Source != "" {
		sc := scanner.New(scanner.Config{
			Pair:       pair,
			BatchSize:  cfg.BatchSize,
			MaxWindow:  cfg.MaxWindow,
			StartBlock: cfg.StartBlock,
			Retry:      retryPolicy(cfg),
		}, client, store, logger)

		_, err = sched.NewJob(gocron.DurationJob(cfg.SweepInterval), gocron.NewTask(func() {
			if err := sc.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("reconciliation scan failed", zap.Error(err))
			}
		}))
		if err != nil {
			return nil, fmt.Errorf("schedule scan job: %w", err)
		}
	}

	return sched, nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Disposal == "" {
		return fmt.Errorf("disposal address is required")
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	pair, err := cfg.Pair()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer client.Close()
	if err := client.UseSigner(cfg.PrivateKey); err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := trigger.New(trigger.Config{
		Pair:             pair,
		InclusionTimeout: cfg.InclusionTimeout,
		Retry:            retryPolicy(cfg),
	}, client, store, logger)

	return eng.Sweep(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
