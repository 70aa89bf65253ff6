package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"burnScope/internal/model"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL string
	WSURL  string

	Token     string
	Source    string
	Recipient string
	Disposal  string
	Decimals  int32

	MinToAct    string
	SettleDelay time.Duration

	BatchSize    uint64
	MaxWindow    uint64
	PollInterval time.Duration
	StartBlock   uint64

	SweepOnStart  bool
	SweepInterval time.Duration

	PGDSN          string
	EventsPath     string
	CheckpointPath string

	PrivateKey string

	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffCap  time.Duration
	InclusionTimeout time.Duration
	ProbeInterval    time.Duration

	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BURNSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("batch-size", uint64(1000))
	v.SetDefault("max-window", uint64(1000))
	v.SetDefault("poll-interval", 15*time.Second)
	v.SetDefault("settle-delay", 30*time.Second)
	v.SetDefault("sweep-interval", 10*time.Minute)
	v.SetDefault("decimals", 18)
	v.SetDefault("min-to-act", "0")
	v.SetDefault("events-out", "./data/burn_events.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", time.Second)
	v.SetDefault("retry-backoff-cap", 15*time.Second)
	v.SetDefault("inclusion-timeout", 5*time.Minute)
	v.SetDefault("probe-interval", 30*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		WSURL:            v.GetString("ws-rpc"),
		Token:            v.GetString("token"),
		Source:           v.GetString("source"),
		Recipient:        v.GetString("recipient"),
		Disposal:         v.GetString("disposal"),
		Decimals:         v.GetInt32("decimals"),
		MinToAct:         v.GetString("min-to-act"),
		SettleDelay:      v.GetDuration("settle-delay"),
		BatchSize:        v.GetUint64("batch-size"),
		MaxWindow:        v.GetUint64("max-window"),
		PollInterval:     v.GetDuration("poll-interval"),
		StartBlock:       v.GetUint64("start-block"),
		SweepOnStart:     v.GetBool("sweep-on-start"),
		SweepInterval:    v.GetDuration("sweep-interval"),
		PGDSN:            v.GetString("pg-dsn"),
		EventsPath:       v.GetString("events-out"),
		CheckpointPath:   v.GetString("checkpoint"),
		PrivateKey:       v.GetString("private-key"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		RetryBackoffCap:  v.GetDuration("retry-backoff-cap"),
		InclusionTimeout: v.GetDuration("inclusion-timeout"),
		ProbeInterval:    v.GetDuration("probe-interval"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// Pair validates the address configuration and builds the watched pair.
// Misconfiguration is fatal at startup; there is no partial run.
func (c Config) Pair() (model.WatchedPair, error) {
	token, err := parseAddress("token", c.Token)
	if err != nil {
		return model.WatchedPair{}, err
	}
	recipient, err := parseAddress("recipient", c.Recipient)
	if err != nil {
		return model.WatchedPair{}, err
	}

	pair := model.WatchedPair{
		Token:       token,
		Recipient:   recipient,
		Decimals:    c.Decimals,
		SettleDelay: c.SettleDelay,
	}

	if c.Source != "" {
		pair.Source, err = parseAddress("source", c.Source)
		if err != nil {
			return model.WatchedPair{}, err
		}
	}
	if c.Disposal != "" {
		pair.Disposal, err = parseAddress("disposal", c.Disposal)
		if err != nil {
			return model.WatchedPair{}, err
		}
	}

	pair.MinToAct, err = decimal.NewFromString(c.MinToAct)
	if err != nil {
		return model.WatchedPair{}, fmt.Errorf("invalid min-to-act %q: %w", c.MinToAct, err)
	}

	return pair, nil
}

func parseAddress(name, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, input)
	}
	return common.HexToAddress(input), nil
}
