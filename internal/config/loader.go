package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPROUTER_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPROUTER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Per-venue API keys are read from SWAPROUTER_VENUE_<NAME>_API_KEY.
func applyEnvOverrides(cfg *Config) {
	// ── Aggregator ──
	setDuration(&cfg.Aggregator.CallTimeout, "SWAPROUTER_AGGREGATOR_CALL_TIMEOUT")
	setInt(&cfg.Aggregator.MaxConcurrency, "SWAPROUTER_AGGREGATOR_MAX_CONCURRENCY")
	setDuration(&cfg.Aggregator.CacheTTL, "SWAPROUTER_AGGREGATOR_CACHE_TTL")
	setBool(&cfg.Aggregator.SharedCache, "SWAPROUTER_AGGREGATOR_SHARED_CACHE")
	setInt(&cfg.Aggregator.FailureThreshold, "SWAPROUTER_AGGREGATOR_FAILURE_THRESHOLD")
	setDuration(&cfg.Aggregator.Cooldown, "SWAPROUTER_AGGREGATOR_COOLDOWN")
	setFloat64(&cfg.Aggregator.RatePerSecond, "SWAPROUTER_AGGREGATOR_RATE_PER_SECOND")

	// ── Optimizer ──
	setInt(&cfg.Optimizer.MaxRoutes, "SWAPROUTER_OPTIMIZER_MAX_ROUTES")
	setInt(&cfg.Optimizer.MaxSplits, "SWAPROUTER_OPTIMIZER_MAX_SPLITS")
	setBool(&cfg.Optimizer.EnableSplit, "SWAPROUTER_OPTIMIZER_ENABLE_SPLIT")
	setBool(&cfg.Optimizer.PrioritizeCLOB, "SWAPROUTER_OPTIMIZER_PRIORITIZE_CLOB")
	setFloat64(&cfg.Optimizer.TWAPTriggerRatio, "SWAPROUTER_OPTIMIZER_TWAP_TRIGGER_RATIO")
	setBool(&cfg.Optimizer.EnableTWAP, "SWAPROUTER_OPTIMIZER_ENABLE_TWAP")

	// ── Plan ──
	setInt(&cfg.Plan.FallbackCount, "SWAPROUTER_PLAN_FALLBACK_COUNT")
	setDuration(&cfg.Plan.QuoteValidity, "SWAPROUTER_PLAN_QUOTE_VALIDITY")
	setFloat64(&cfg.Plan.DefaultSlippageBps, "SWAPROUTER_PLAN_DEFAULT_SLIPPAGE_BPS")
	setFloat64(&cfg.Plan.MaxPriceDriftBps, "SWAPROUTER_PLAN_MAX_PRICE_DRIFT_BPS")
	setFloat64(&cfg.Plan.MinLiquidityRatio, "SWAPROUTER_PLAN_MIN_LIQUIDITY_RATIO")
	setDuration(&cfg.Plan.MaxStaleness, "SWAPROUTER_PLAN_MAX_STALENESS")
	setDuration(&cfg.Plan.MonitorInterval, "SWAPROUTER_PLAN_MONITOR_INTERVAL")

	// ── Oracle ──
	setStr(&cfg.Oracle.PrimaryURL, "SWAPROUTER_ORACLE_PRIMARY_URL")
	setStr(&cfg.Oracle.PrimaryAPIKey, "SWAPROUTER_ORACLE_PRIMARY_API_KEY")
	setDuration(&cfg.Oracle.MaxAge, "SWAPROUTER_ORACLE_MAX_AGE")
	setFloat64(&cfg.Oracle.MaxConfidenceRatio, "SWAPROUTER_ORACLE_MAX_CONFIDENCE_RATIO")
	setFloat64(&cfg.Oracle.MaxDeviation, "SWAPROUTER_ORACLE_MAX_DEVIATION")
	setStr(&cfg.Oracle.FeedURL, "SWAPROUTER_ORACLE_FEED_URL")
	setStringSlice(&cfg.Oracle.FeedAssets, "SWAPROUTER_ORACLE_FEED_ASSETS")

	// ── Breaker ──
	setInt(&cfg.Breaker.FailureThreshold, "SWAPROUTER_BREAKER_FAILURE_THRESHOLD")
	setInt(&cfg.Breaker.SuccessThreshold, "SWAPROUTER_BREAKER_SUCCESS_THRESHOLD")
	setDuration(&cfg.Breaker.ResetTimeout, "SWAPROUTER_BREAKER_RESET_TIMEOUT")

	// ── MEV ──
	setBool(&cfg.MEV.Enabled, "SWAPROUTER_MEV_ENABLED")
	setStr(&cfg.MEV.BlockEngineURL, "SWAPROUTER_MEV_BLOCK_ENGINE_URL")
	setStr(&cfg.MEV.TipAccount, "SWAPROUTER_MEV_TIP_ACCOUNT")
	setFloat64(&cfg.MEV.LandingProbability, "SWAPROUTER_MEV_LANDING_PROBABILITY")

	// ── Executor ──
	setBool(&cfg.Executor.AllowUnverified, "SWAPROUTER_EXECUTOR_ALLOW_UNVERIFIED")
	setDuration(&cfg.Executor.TWAPSliceDelay, "SWAPROUTER_EXECUTOR_TWAP_SLICE_DELAY")
	setBool(&cfg.Executor.ArchiveReports, "SWAPROUTER_EXECUTOR_ARCHIVE_REPORTS")
	setBool(&cfg.Executor.DistributedLocked, "SWAPROUTER_EXECUTOR_DISTRIBUTED_LOCK")
	setStr(&cfg.Executor.Wallet, "SWAPROUTER_EXECUTOR_WALLET")

	// ── Gateway ──
	setStr(&cfg.Gateway.URL, "SWAPROUTER_GATEWAY_URL")
	setStr(&cfg.Gateway.APIKey, "SWAPROUTER_GATEWAY_API_KEY")
	setStr(&cfg.Gateway.APISecret, "SWAPROUTER_GATEWAY_API_SECRET")
	setStr(&cfg.Gateway.APISecretFile, "SWAPROUTER_GATEWAY_API_SECRET_FILE")

	// ── Venues ──
	for name, v := range cfg.Venues {
		setStr(&v.APIKey, "SWAPROUTER_VENUE_"+envName(name)+"_API_KEY")
		setStr(&v.APISecret, "SWAPROUTER_VENUE_"+envName(name)+"_API_SECRET")
		setStr(&v.URL, "SWAPROUTER_VENUE_"+envName(name)+"_URL")
		cfg.Venues[name] = v
	}

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SWAPROUTER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SWAPROUTER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SWAPROUTER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPROUTER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPROUTER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPROUTER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPROUTER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPROUTER_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "SWAPROUTER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SWAPROUTER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SWAPROUTER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPROUTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPROUTER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPROUTER_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SWAPROUTER_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "SWAPROUTER_REDIS_PRICE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SWAPROUTER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SWAPROUTER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPROUTER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPROUTER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPROUTER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPROUTER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SWAPROUTER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SWAPROUTER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SWAPROUTER_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SWAPROUTER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SWAPROUTER_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "SWAPROUTER_SERVER_RATE_LIMIT")
	setStr(&cfg.Server.SigningKey, "SWAPROUTER_SERVER_SIGNING_KEY")
	setStr(&cfg.Server.SigningSecret, "SWAPROUTER_SERVER_SIGNING_SECRET")
	setStr(&cfg.Server.SigningSecretFile, "SWAPROUTER_SERVER_SIGNING_SECRET_FILE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SWAPROUTER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPROUTER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPROUTER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPROUTER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPROUTER_MODE")
	setStr(&cfg.LogLevel, "SWAPROUTER_LOG_LEVEL")
	setStr(&cfg.LogFile.Path, "SWAPROUTER_LOG_FILE")
	setStr(&cfg.SecretsPassword, "SWAPROUTER_SECRETS_PASSWORD")
}

// envName upper-cases a venue name and replaces separators with underscores.
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
