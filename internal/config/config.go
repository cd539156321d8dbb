// Package config loads and validates the mirror pipeline configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration, loaded from YAML with
// environment overrides for credentials.
type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Registry RegistryConfig `mapstructure:"registry"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Sizing   SizingConfig   `mapstructure:"sizing"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Position PositionConfig `mapstructure:"position"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Stop     StopConfig     `mapstructure:"emergency_stop"`
}

// ChainConfig holds chain endpoint settings.
type ChainConfig struct {
	WSEndpoint   string `mapstructure:"ws_endpoint"`
	HTTPEndpoint string `mapstructure:"http_endpoint"`
}

// VenueConfig holds swap-aggregator API settings. Credentials come from
// the environment (VENUE_API_KEY, VENUE_API_SECRET, VENUE_PASSPHRASE)
// and override any file values.
type VenueConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	APIKey        string  `mapstructure:"api_key"`
	APISecret     string  `mapstructure:"api_secret"`
	Passphrase    string  `mapstructure:"passphrase"`
	ChainID       string  `mapstructure:"chain_id"`
	WalletAddress string  `mapstructure:"wallet_address"`
	SlippagePct   float64 `mapstructure:"slippage_pct"`
}

// RegistryConfig locates the tracked-account file.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// FeedConfig tunes the pending-transaction subscription.
type FeedConfig struct {
	ReconnectBase time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
}

// ResolverConfig tunes transaction resolution batching.
type ResolverConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	BatchWindow time.Duration `mapstructure:"batch_window"`
	Concurrency int           `mapstructure:"concurrency"`
}

// SizingConfig controls mirror position sizing.
type SizingConfig struct {
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
	BaseFraction    float64 `mapstructure:"base_fraction"`  // of total capital
	CapMultiplier   float64 `mapstructure:"cap_multiplier"` // sizing function upper bound
	MinNotionalUSD  float64 `mapstructure:"min_notional_usd"`
	MinAmountInWei  string  `mapstructure:"min_amount_in_wei"`
}

// RiskConfig holds validator thresholds.
type RiskConfig struct {
	MaxPriceImpactPct float64       `mapstructure:"max_price_impact_pct"`
	MaxGasEstimate    int64         `mapstructure:"max_gas_estimate"`
	QuoteTTL          time.Duration `mapstructure:"quote_ttl"`
}

// ExecutorConfig tunes order submission and confirmation.
type ExecutorConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RetryMax       time.Duration `mapstructure:"retry_max"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// PositionConfig holds exit rules and capital limits.
type PositionConfig struct {
	TakeProfitMultiplier float64       `mapstructure:"take_profit_multiplier"`
	StopLossMultiplier   float64       `mapstructure:"stop_loss_multiplier"`
	MaxHold              time.Duration `mapstructure:"max_hold"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	CapitalUSD           float64       `mapstructure:"capital_usd"`
	MaxCapitalFraction   float64       `mapstructure:"max_capital_fraction"`
}

// PipelineConfig tunes stage queues and shutdown.
type PipelineConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	UseMemory   bool   `mapstructure:"use_memory"`
}

// NotifyConfig holds the outbound webhook. Empty disables notifications.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// StopConfig controls the emergency-stop flag.
type StopConfig struct {
	FlagPath string `mapstructure:"flag_path"`
	CloseAll bool   `mapstructure:"close_all"`
}

// Load reads the YAML config at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}

	// Credentials are never committed to the config file.
	v.BindEnv("venue.api_key", "VENUE_API_KEY")
	v.BindEnv("venue.api_secret", "VENUE_API_SECRET")
	v.BindEnv("venue.passphrase", "VENUE_PASSPHRASE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("venue.base_url", "https://www.okx.com")
	v.SetDefault("venue.chain_id", "1")
	v.SetDefault("venue.slippage_pct", 3.0)

	v.SetDefault("feed.reconnect_base", time.Second)
	v.SetDefault("feed.reconnect_max", 30*time.Second)

	v.SetDefault("resolver.batch_size", 50)
	v.SetDefault("resolver.batch_window", 100*time.Millisecond)
	v.SetDefault("resolver.concurrency", 10)

	v.SetDefault("sizing.confidence_floor", 0.7)
	v.SetDefault("sizing.base_fraction", 0.30)
	v.SetDefault("sizing.cap_multiplier", 1.5)
	v.SetDefault("sizing.min_notional_usd", 50.0)
	v.SetDefault("sizing.min_amount_in_wei", "100000000000000000") // 0.1 ETH

	v.SetDefault("risk.max_price_impact_pct", 3.0)
	v.SetDefault("risk.max_gas_estimate", 500000)
	v.SetDefault("risk.quote_ttl", 5*time.Second)

	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.retry_base", 500*time.Millisecond)
	v.SetDefault("executor.retry_max", 5*time.Second)
	v.SetDefault("executor.confirm_timeout", 5*time.Minute)
	v.SetDefault("executor.poll_interval", 10*time.Second)

	v.SetDefault("position.take_profit_multiplier", 5.0)
	v.SetDefault("position.stop_loss_multiplier", 0.2)
	v.SetDefault("position.max_hold", 24*time.Hour)
	v.SetDefault("position.tick_interval", 30*time.Second)
	v.SetDefault("position.capital_usd", 1000.0)
	v.SetDefault("position.max_capital_fraction", 0.30)

	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.shutdown_grace", 30*time.Second)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("emergency_stop.flag_path", "data/EMERGENCY_STOP")
	v.SetDefault("emergency_stop.close_all", false)
}

// validate rejects configurations that must abort startup. Missing
// credentials and malformed thresholds are fatal; nothing else may run.
func validate(cfg *Config) error {
	if cfg.Chain.WSEndpoint == "" {
		return fmt.Errorf("config: chain.ws_endpoint is required")
	}
	if cfg.Chain.HTTPEndpoint == "" {
		return fmt.Errorf("config: chain.http_endpoint is required")
	}
	if cfg.Registry.Path == "" {
		return fmt.Errorf("config: registry.path is required")
	}
	if cfg.Venue.APIKey == "" || cfg.Venue.APISecret == "" || cfg.Venue.Passphrase == "" {
		return fmt.Errorf("config: venue credentials missing (set VENUE_API_KEY, VENUE_API_SECRET, VENUE_PASSPHRASE)")
	}
	if cfg.Venue.WalletAddress == "" {
		return fmt.Errorf("config: venue.wallet_address is required")
	}
	if cfg.Sizing.ConfidenceFloor < 0 || cfg.Sizing.ConfidenceFloor > 1 {
		return fmt.Errorf("config: sizing.confidence_floor must be in [0,1], got %v", cfg.Sizing.ConfidenceFloor)
	}
	if cfg.Sizing.BaseFraction <= 0 || cfg.Sizing.BaseFraction > 1 {
		return fmt.Errorf("config: sizing.base_fraction must be in (0,1], got %v", cfg.Sizing.BaseFraction)
	}
	if cfg.Sizing.CapMultiplier < 1 {
		return fmt.Errorf("config: sizing.cap_multiplier must be >= 1, got %v", cfg.Sizing.CapMultiplier)
	}
	if cfg.Risk.MaxPriceImpactPct <= 0 {
		return fmt.Errorf("config: risk.max_price_impact_pct must be positive, got %v", cfg.Risk.MaxPriceImpactPct)
	}
	if cfg.Risk.MaxGasEstimate <= 0 {
		return fmt.Errorf("config: risk.max_gas_estimate must be positive, got %v", cfg.Risk.MaxGasEstimate)
	}
	if cfg.Position.TakeProfitMultiplier <= 1 {
		return fmt.Errorf("config: position.take_profit_multiplier must be > 1, got %v", cfg.Position.TakeProfitMultiplier)
	}
	if cfg.Position.StopLossMultiplier <= 0 || cfg.Position.StopLossMultiplier >= 1 {
		return fmt.Errorf("config: position.stop_loss_multiplier must be in (0,1), got %v", cfg.Position.StopLossMultiplier)
	}
	if cfg.Position.CapitalUSD <= 0 {
		return fmt.Errorf("config: position.capital_usd must be positive, got %v", cfg.Position.CapitalUSD)
	}
	if cfg.Position.MaxCapitalFraction <= 0 || cfg.Position.MaxCapitalFraction > 1 {
		return fmt.Errorf("config: position.max_capital_fraction must be in (0,1], got %v", cfg.Position.MaxCapitalFraction)
	}
	if !cfg.Storage.UseMemory && cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: storage.postgres_dsn is required unless storage.use_memory is set")
	}
	return nil
}
