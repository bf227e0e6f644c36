// Package config defines the top-level configuration for the swap router
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPROUTER_* environment variables.
type Config struct {
	Aggregator AggregatorConfig       `toml:"aggregator"`
	Optimizer  OptimizerConfig        `toml:"optimizer"`
	Plan       PlanConfig             `toml:"plan"`
	Oracle     OracleConfig           `toml:"oracle"`
	Breaker    BreakerConfig          `toml:"breaker"`
	MEV        MEVConfig              `toml:"mev"`
	Executor   ExecutorConfig         `toml:"executor"`
	Gateway    GatewayConfig          `toml:"gateway"`
	Venues     map[string]VenueConfig `toml:"venues"`
	Redis      RedisConfig            `toml:"redis"`
	Postgres   PostgresConfig         `toml:"postgres"`
	S3         S3Config               `toml:"s3"`
	Server     ServerConfig           `toml:"server"`
	Notify     NotifyConfig           `toml:"notify"`
	Mode       string                 `toml:"mode"`
	LogLevel   string                 `toml:"log_level"`
	LogFile    LogFileConfig          `toml:"log_file"`
	// SecretsPassword unlocks secrets stored with `swaprouter secret encrypt`.
	SecretsPassword string `toml:"secrets_password"`
}

// AggregatorConfig controls venue fan-out, caching and health tracking.
type AggregatorConfig struct {
	CallTimeout      duration `toml:"call_timeout"`
	MaxConcurrency   int      `toml:"max_concurrency"`
	CacheTTL         duration `toml:"cache_ttl"`
	SharedCache      bool     `toml:"shared_cache"`
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         duration `toml:"cooldown"`
	PriceEpsilon     float64  `toml:"price_epsilon"`
	// RatePerSecond is the default per-venue request rate; 0 disables limiting.
	RatePerSecond float64 `toml:"rate_per_second"`
	RateBurst     int     `toml:"rate_burst"`
}

// OptimizerConfig controls route search.
type OptimizerConfig struct {
	MaxRoutes        int      `toml:"max_routes"`
	MaxSplits        int      `toml:"max_splits"`
	EnableSplit      bool     `toml:"enable_split"`
	SplitIncrements  int      `toml:"split_increments"`
	SampleCount      int      `toml:"sample_count"`
	PrioritizeCLOB   bool     `toml:"prioritize_clob"`
	PriceEpsilon     float64  `toml:"price_epsilon"`
	TWAPTriggerRatio float64  `toml:"twap_trigger_ratio"`
	EnableTWAP       bool     `toml:"enable_twap"`
	TWAPMinSlices    int      `toml:"twap_min_slices"`
	TWAPMaxSlices    int      `toml:"twap_max_slices"`
	TWAPBaseInterval duration `toml:"twap_base_interval"`
	TWAPMaxInterval  duration `toml:"twap_max_interval"`
	// TWAPSlippageStepPct adds one slice per this much measured slippage.
	TWAPSlippageStepPct float64 `toml:"twap_slippage_step_pct"`
	// TWAPDoublingPct doubles the interval per this much measured slippage.
	TWAPDoublingPct float64 `toml:"twap_doubling_pct"`
}

// PlanConfig controls atomic plan construction and monitoring.
type PlanConfig struct {
	FallbackCount      int      `toml:"fallback_count"`
	QuoteValidity      duration `toml:"quote_validity"`
	DefaultSlippageBps float64  `toml:"default_slippage_bps"`
	MaxPriceDriftBps   float64  `toml:"max_price_drift_bps"`
	MinLiquidityRatio  float64  `toml:"min_liquidity_ratio"`
	MaxStaleness       duration `toml:"max_staleness"`
	MonitorInterval    duration `toml:"monitor_interval"`
}

// OracleConfig configures the dual oracle.
type OracleConfig struct {
	PrimaryURL         string   `toml:"primary_url"`
	PrimaryAPIKey      string   `toml:"primary_api_key"`
	CallTimeout        duration `toml:"call_timeout"`
	MaxAge             duration `toml:"max_age"`
	MaxConfidenceRatio float64  `toml:"max_confidence_ratio"`
	MaxDeviation       float64  `toml:"max_deviation"`
	// FeedURL seeds the push-oracle cache from an HTTP feed when set.
	FeedURL      string   `toml:"feed_url"`
	FeedInterval duration `toml:"feed_interval"`
	FeedAssets   []string `toml:"feed_assets"`
}

// BreakerConfig configures the process-wide circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	SuccessThreshold int      `toml:"success_threshold"`
	ResetTimeout     duration `toml:"reset_timeout"`
}

// MEVConfig configures bundle protection.
type MEVConfig struct {
	Enabled              bool     `toml:"enabled"`
	BlockEngineURL       string   `toml:"block_engine_url"`
	TipAccount           string   `toml:"tip_account"`
	NativeAsset          string   `toml:"native_asset"`
	TipBps               float64  `toml:"tip_bps"`
	LandingProbability   float64  `toml:"landing_probability"`
	MinTipLamports       uint64   `toml:"min_tip_lamports"`
	MaxTipLamports       uint64   `toml:"max_tip_lamports"`
	BasePriorityFee      uint64   `toml:"base_priority_fee"`
	PollInterval         duration `toml:"poll_interval"`
	ConfirmTimeout       duration `toml:"confirm_timeout"`
	MinRiskForProtection string   `toml:"min_risk_for_protection"`
}

// ExecutorConfig configures the swap executor.
type ExecutorConfig struct {
	AllowUnverified   bool     `toml:"allow_unverified"`
	TWAPSliceDelay    duration `toml:"twap_slice_delay"`
	TWAPMaxSlices     int      `toml:"twap_max_slices"`
	DedupTTL          duration `toml:"dedup_ttl"`
	LockTTL           duration `toml:"lock_ttl"`
	ArchiveReports    bool     `toml:"archive_reports"`
	RecordExecutions  bool     `toml:"record_executions"`
	PublishEvents     bool     `toml:"publish_events"`
	DistributedLocked bool     `toml:"distributed_lock"`
	// Wallet signs gateway-built transactions when a request names none.
	Wallet string `toml:"wallet"`
}

// GatewayConfig points at the transaction-building service.
type GatewayConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
	// APISecret signs gateway requests. APISecretFile holds the same secret
	// encrypted with SecretsPassword and is read when APISecret is empty.
	APISecret     string `toml:"api_secret"`
	APISecretFile string `toml:"api_secret_file"`
}

// VenueConfig describes one venue adapter plus its routing policy.
type VenueConfig struct {
	Enabled        bool     `toml:"enabled"`
	Kind           string   `toml:"kind"`
	URL            string   `toml:"url"`
	APIKey         string   `toml:"api_key"`
	APISecret      string   `toml:"api_secret"`
	FeeBps         float64  `toml:"fee_bps"`
	MinTradeSize   float64  `toml:"min_trade_size"`
	MaxSlippagePct float64  `toml:"max_slippage_pct"`
	TakerFeeBps    *float64 `toml:"taker_fee_bps"`
	RatePerSecond  float64  `toml:"rate_per_second"`
	RateBurst      int      `toml:"rate_burst"`
}

// Policy converts the venue entry to the routing policy type.
func (v VenueConfig) Policy() domain.VenueConfig {
	return domain.VenueConfig{
		Kind:           domain.VenueKind(strings.ToLower(v.Kind)),
		FeeBps:         v.FeeBps,
		MinTradeSize:   v.MinTradeSize,
		MaxSlippagePct: v.MaxSlippagePct,
		TakerFeeBps:    v.TakerFeeBps,
	}
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the swap result stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
	// PriceTTL expires push-oracle entries; zero keeps them until overwritten.
	PriceTTL duration `toml:"price_ttl"`
}

// PostgresConfig holds execution journal connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per RateWindow per client IP. It needs Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// SigningKey and SigningSecret enable HMAC request authentication.
	SigningKey        string `toml:"signing_key"`
	SigningSecret     string `toml:"signing_secret"`
	SigningSecretFile string `toml:"signing_secret_file"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogFileConfig enables rotating file output alongside stdout.
type LogFileConfig struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Aggregator: AggregatorConfig{
			CallTimeout:      duration{1500 * time.Millisecond},
			MaxConcurrency:   8,
			CacheTTL:         duration{2 * time.Second},
			FailureThreshold: 3,
			Cooldown:         duration{30 * time.Second},
			PriceEpsilon:     1e-6,
			RatePerSecond:    10,
			RateBurst:        5,
		},
		Optimizer: OptimizerConfig{
			MaxRoutes:           5,
			MaxSplits:           3,
			EnableSplit:         true,
			SplitIncrements:     20,
			SampleCount:         4,
			PrioritizeCLOB:      true,
			PriceEpsilon:        1e-6,
			TWAPTriggerRatio:    0.3,
			EnableTWAP:          true,
			TWAPMinSlices:       2,
			TWAPMaxSlices:       12,
			TWAPBaseInterval:    duration{5 * time.Second},
			TWAPMaxInterval:     duration{2 * time.Minute},
			TWAPSlippageStepPct: 0.5,
			TWAPDoublingPct:     1.0,
		},
		Plan: PlanConfig{
			FallbackCount:      2,
			QuoteValidity:      duration{15 * time.Second},
			DefaultSlippageBps: 50,
			MaxPriceDriftBps:   30,
			MinLiquidityRatio:  0.7,
			MaxStaleness:       duration{10 * time.Second},
			MonitorInterval:    duration{2500 * time.Millisecond},
		},
		Oracle: OracleConfig{
			CallTimeout:        duration{1 * time.Second},
			MaxAge:             duration{60 * time.Second},
			MaxConfidenceRatio: 0.02,
			MaxDeviation:       0.02,
			FeedInterval:       duration{5 * time.Second},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			ResetTimeout:     duration{30 * time.Second},
		},
		MEV: MEVConfig{
			Enabled:              false,
			NativeAsset:          "SOL",
			TipBps:               1.0,
			LandingProbability:   0.9,
			MinTipLamports:       10_000,
			MaxTipLamports:       5_000_000,
			BasePriorityFee:      5_000,
			PollInterval:         duration{500 * time.Millisecond},
			ConfirmTimeout:       duration{30 * time.Second},
			MinRiskForProtection: string(domain.MEVRiskMedium),
		},
		Executor: ExecutorConfig{
			TWAPSliceDelay:   duration{5 * time.Second},
			TWAPMaxSlices:    12,
			DedupTTL:         duration{10 * time.Minute},
			LockTTL:          duration{2 * time.Minute},
			RecordExecutions: true,
			PublishEvents:    true,
		},
		Gateway: GatewayConfig{
			Timeout: duration{10 * time.Second},
		},
		Venues: map[string]VenueConfig{},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			PriceTTL:     duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swaprouter",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swaprouter-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"swap_failed", "breaker_open"},
		},
		Mode:     "server",
		LogLevel: "info",
		LogFile: LogFileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validKinds = map[domain.VenueKind]bool{
	domain.VenueAMM:  true,
	domain.VenueCLOB: true,
	domain.VenueRFQ:  true,
}

// EnabledVenues returns enabled venue names in sorted order.
func (c *Config) EnabledVenues() []string {
	names := make([]string, 0, len(c.Venues))
	for name, v := range c.Venues {
		if v.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Aggregator
	if c.Aggregator.CallTimeout.Duration <= 0 {
		errs = append(errs, "aggregator: call_timeout must be positive")
	}
	if c.Aggregator.MaxConcurrency <= 0 {
		errs = append(errs, "aggregator: max_concurrency must be positive")
	}
	if c.Aggregator.FailureThreshold <= 0 {
		errs = append(errs, "aggregator: failure_threshold must be positive")
	}
	if c.Aggregator.SharedCache && !c.Redis.Enabled {
		errs = append(errs, "aggregator: shared_cache requires redis.enabled")
	}

	// Optimizer
	if c.Optimizer.MaxRoutes <= 0 {
		errs = append(errs, "optimizer: max_routes must be positive")
	}
	if c.Optimizer.MaxSplits <= 0 {
		errs = append(errs, "optimizer: max_splits must be positive")
	}
	if c.Optimizer.SplitIncrements <= 0 {
		errs = append(errs, "optimizer: split_increments must be positive")
	}
	if c.Optimizer.SampleCount <= 0 {
		errs = append(errs, "optimizer: sample_count must be positive")
	}
	if c.Optimizer.TWAPTriggerRatio <= 0 || c.Optimizer.TWAPTriggerRatio > 1 {
		errs = append(errs, "optimizer: twap_trigger_ratio must be in (0, 1]")
	}
	if c.Optimizer.TWAPMinSlices > c.Optimizer.TWAPMaxSlices {
		errs = append(errs, "optimizer: twap_min_slices must not exceed twap_max_slices")
	}

	// Plan
	if c.Plan.FallbackCount < 0 {
		errs = append(errs, "plan: fallback_count must not be negative")
	}
	if c.Plan.QuoteValidity.Duration <= 0 {
		errs = append(errs, "plan: quote_validity must be positive")
	}
	if c.Plan.DefaultSlippageBps < 0 || c.Plan.DefaultSlippageBps >= 10_000 {
		errs = append(errs, "plan: default_slippage_bps must be in [0, 10000)")
	}
	if c.Plan.MinLiquidityRatio < 0 || c.Plan.MinLiquidityRatio > 1 {
		errs = append(errs, "plan: min_liquidity_ratio must be in [0, 1]")
	}
	if c.Plan.MonitorInterval.Duration <= 0 {
		errs = append(errs, "plan: monitor_interval must be positive")
	}

	// Oracle
	if c.Oracle.MaxConfidenceRatio <= 0 {
		errs = append(errs, "oracle: max_confidence_ratio must be positive")
	}
	if c.Oracle.MaxDeviation <= 0 {
		errs = append(errs, "oracle: max_deviation must be positive")
	}
	if c.Oracle.MaxAge.Duration <= 0 {
		errs = append(errs, "oracle: max_age must be positive")
	}

	// Breaker
	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker: failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		errs = append(errs, "breaker: success_threshold must be positive")
	}
	if c.Breaker.ResetTimeout.Duration <= 0 {
		errs = append(errs, "breaker: reset_timeout must be positive")
	}

	// MEV
	if c.MEV.Enabled {
		if c.MEV.BlockEngineURL == "" {
			errs = append(errs, "mev: block_engine_url is required when enabled")
		}
		if c.MEV.TipAccount == "" {
			errs = append(errs, "mev: tip_account is required when enabled")
		}
		if c.MEV.LandingProbability <= 0 || c.MEV.LandingProbability >= 1 {
			errs = append(errs, "mev: landing_probability must be in (0, 1)")
		}
		if c.MEV.MaxTipLamports < c.MEV.MinTipLamports {
			errs = append(errs, "mev: max_tip_lamports must not be below min_tip_lamports")
		}
	}

	// Venues
	for _, name := range c.EnabledVenues() {
		v := c.Venues[name]
		if !validKinds[domain.VenueKind(strings.ToLower(v.Kind))] {
			errs = append(errs, fmt.Sprintf("venues.%s: kind must be amm, clob or rfq, got %q", name, v.Kind))
		}
		if v.URL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s: url must not be empty", name))
		}
		if v.MinTradeSize < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: min_trade_size must not be negative", name))
		}
	}
	if len(c.EnabledVenues()) == 0 {
		errs = append(errs, "venues: at least one venue must be enabled")
	}

	// Postgres
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Executor.ArchiveReports && !c.S3.Enabled {
		errs = append(errs, "executor: archive_reports requires s3.enabled")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}
	if c.Server.SigningKey != "" && c.Server.SigningSecret == "" && c.Server.SigningSecretFile == "" {
		errs = append(errs, "server: signing_key needs signing_secret or signing_secret_file")
	}

	// Modes that only feed the push oracle have nowhere to write without Redis.
	if strings.EqualFold(c.Mode, "monitor") && !c.Redis.Enabled {
		errs = append(errs, "mode monitor requires redis.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
