// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example DASHSCOPE_API_KEY becomes
// dashscope_api_key in YAML.
//
// With AI_MOCK_MODE=true the gateway starts with no vendor credentials at
// all and serves deterministic mock responses. Redis is optional — set
// HEALTH_CACHE_MODE=memory to use the built-in in-process cache with no
// external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// MockMode forces the registry to hold only mock providers. No vendor
	// credentials are required and no network calls leave the process.
	// Default: false.
	MockMode bool

	// DashScope powers both the qwen chat provider, the wanx image provider
	// and the aliyun TTS provider; one key enables all three.
	DashScope ProviderConfig
	DeepSeek  ProviderConfig
	Zhipu     ProviderConfig
	Jimeng    ProviderConfig

	// Kling uses an access-key/secret-key pair instead of a bearer key.
	Kling KlingConfig

	// VolcTTS is the Volcengine speech synthesis credential pair.
	VolcTTS VolcTTSConfig

	// Redis holds the connection URL for the Redis-backed health cache.
	// Required only when HealthCache.Mode is "redis".
	Redis RedisConfig

	// HealthCache controls health probe memoization.
	HealthCache HealthCacheConfig

	// CircuitBreaker controls per-provider circuit breaker thresholds.
	CircuitBreaker CircuitBreakerConfig

	// Timeouts controls per-call deadlines by workload shape.
	Timeouts TimeoutConfig
}

// ProviderConfig holds configuration for a single API-key provider.
type ProviderConfig struct {
	// APIKey is the provider API key. Leave empty to disable the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and development. Leave empty to use the default.
	BaseURL string
}

// KlingConfig holds the Kling video credential pair.
type KlingConfig struct {
	AccessKey string
	SecretKey string
}

// VolcTTSConfig holds Volcengine TTS credentials.
type VolcTTSConfig struct {
	AppID string
	Token string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// HealthCacheConfig controls memoization of provider health probes.
type HealthCacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Shared across replicas.
	//   "memory" — In-process TTL cache. No external deps.
	//   "none"   — Every health check hits the provider.
	// Default: "memory".
	Mode string

	// TTL is how long a probe verdict is trusted before re-probing.
	// Default: 60s.
	TTL time.Duration

	// ProbeTimeout bounds a single health probe. Default: 5s.
	ProbeTimeout time.Duration
}

// CircuitBreakerConfig controls per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	// ErrorThreshold is the number of errors within the window that trip the
	// breaker. Default: 5.
	ErrorThreshold int

	// Cooldown is how long the breaker stays open before allowing a single
	// trial request. Default: 60s.
	Cooldown time.Duration
}

// TimeoutConfig holds per-call deadlines.
type TimeoutConfig struct {
	// Call bounds chat and TTS calls. Default: 60s.
	Call time.Duration

	// Generation bounds image generation and video submission, which include
	// vendor-side polling. Default: 300s.
	Generation time.Duration
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// Unless AI_MOCK_MODE=true, at least one vendor credential must be set.
// REDIS_URL is only required when HEALTH_CACHE_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AI_MOCK_MODE", false)

	v.SetDefault("HEALTH_CACHE_MODE", "memory")
	v.SetDefault("HEALTH_CACHE_TTL", "60s")
	v.SetDefault("HEALTH_PROBE_TIMEOUT", "5s")

	v.SetDefault("CB_ERROR_THRESHOLD", 5)
	v.SetDefault("CB_COOLDOWN", "60s")

	v.SetDefault("CALL_TIMEOUT", "60s")
	v.SetDefault("GENERATION_TIMEOUT", "300s")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		MockMode: v.GetBool("AI_MOCK_MODE"),

		DashScope: ProviderConfig{APIKey: v.GetString("DASHSCOPE_API_KEY"), BaseURL: v.GetString("DASHSCOPE_BASE_URL")},
		DeepSeek:  ProviderConfig{APIKey: v.GetString("DEEPSEEK_API_KEY"), BaseURL: v.GetString("DEEPSEEK_BASE_URL")},
		Zhipu:     ProviderConfig{APIKey: v.GetString("ZHIPU_API_KEY"), BaseURL: v.GetString("ZHIPU_BASE_URL")},
		Jimeng:    ProviderConfig{APIKey: v.GetString("JIMENG_API_KEY"), BaseURL: v.GetString("JIMENG_BASE_URL")},

		Kling: KlingConfig{
			AccessKey: v.GetString("KLING_ACCESS_KEY"),
			SecretKey: v.GetString("KLING_SECRET_KEY"),
		},

		VolcTTS: VolcTTSConfig{
			AppID: v.GetString("VOLCENGINE_TTS_APP_ID"),
			Token: v.GetString("VOLCENGINE_TTS_TOKEN"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		HealthCache: HealthCacheConfig{
			Mode:         strings.ToLower(v.GetString("HEALTH_CACHE_MODE")),
			TTL:          v.GetDuration("HEALTH_CACHE_TTL"),
			ProbeTimeout: v.GetDuration("HEALTH_PROBE_TIMEOUT"),
		},

		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold: v.GetInt("CB_ERROR_THRESHOLD"),
			Cooldown:       v.GetDuration("CB_COOLDOWN"),
		},

		Timeouts: TimeoutConfig{
			Call:       v.GetDuration("CALL_TIMEOUT"),
			Generation: v.GetDuration("GENERATION_TIMEOUT"),
		},
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	// At least one real credential must be present unless mock mode is on.
	if !c.MockMode && !c.AtLeastOneCredential() {
		return fmt.Errorf(
			"config: at least one vendor credential is required " +
				"(DASHSCOPE_API_KEY, DEEPSEEK_API_KEY, ZHIPU_API_KEY, JIMENG_API_KEY, " +
				"KLING_ACCESS_KEY, or VOLCENGINE_TTS_APP_ID). " +
				"Set AI_MOCK_MODE=true to run with mock providers only.",
		)
	}

	// Redis URL is required when the health cache is Redis-backed.
	if c.HealthCache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when HEALTH_CACHE_MODE=redis; " +
				"set HEALTH_CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	switch c.HealthCache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid HEALTH_CACHE_MODE %q; must be one of: redis, memory, none",
			c.HealthCache.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.CircuitBreaker.ErrorThreshold < 1 {
		return fmt.Errorf("config: CB_ERROR_THRESHOLD must be ≥ 1, got %d", c.CircuitBreaker.ErrorThreshold)
	}
	if c.CircuitBreaker.Cooldown <= 0 {
		return fmt.Errorf("config: CB_COOLDOWN must be a positive duration")
	}
	if c.HealthCache.TTL <= 0 {
		return fmt.Errorf("config: HEALTH_CACHE_TTL must be a positive duration")
	}

	return nil
}

// AtLeastOneCredential returns true if at least one vendor is configured.
func (c *Config) AtLeastOneCredential() bool {
	return c.DashScope.APIKey != "" ||
		c.DeepSeek.APIKey != "" ||
		c.Zhipu.APIKey != "" ||
		c.Jimeng.APIKey != "" ||
		c.Kling.AccessKey != "" ||
		c.VolcTTS.AppID != ""
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
