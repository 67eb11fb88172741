package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is loaded once at
// process start and passed into constructors; nothing reads viper after
// Load returns.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Rails   RailsConfig   `yaml:"rails" mapstructure:"rails"`
	Jina    JinaConfig    `yaml:"jina" mapstructure:"jina"`
	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Expand  ExpandConfig  `yaml:"expand" mapstructure:"expand"`
	Policy  PolicyConfig  `yaml:"policy" mapstructure:"policy"`
	Pricing PricingConfig `yaml:"pricing" mapstructure:"pricing"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the local run-audit database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RailsConfig holds the backend CRM API settings.
type RailsConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LLMConfig configures the extraction model provider.
type LLMConfig struct {
	Provider              string          `yaml:"provider" mapstructure:"provider"`
	OpenAI                OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic             AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	MaxRetries            int             `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffSecs      int             `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	RateLimitCooldownSecs int             `yaml:"rate_limit_cooldown_secs" mapstructure:"rate_limit_cooldown_secs"`
	MaxAttempts           int             `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerMinute     int             `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	TimeoutSecs           int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OpenAIConfig holds OpenAI-compatible chat-completions settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ExpandConfig configures the expansion orchestrator.
type ExpandConfig struct {
	MaxLinks          int  `yaml:"max_links" mapstructure:"max_links"`
	MatchQuota        int  `yaml:"match_quota" mapstructure:"match_quota"`
	MaxInputTokens    int  `yaml:"max_input_tokens" mapstructure:"max_input_tokens"`
	MaxOutputTokens   int  `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	ConcurrentFetch   bool `yaml:"concurrent_fetch" mapstructure:"concurrent_fetch"`
	FetchConcurrency  int  `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	PageCacheTTLHours int  `yaml:"page_cache_ttl_hours" mapstructure:"page_cache_ttl_hours"`
}

// PolicyConfig configures the domain blocklist. File, when set, points at a
// YAML blocklist that overrides the inline lists.
type PolicyConfig struct {
	BlockedDomains    []string `yaml:"blocked_domains" mapstructure:"blocked_domains"`
	BlockedExtensions []string `yaml:"blocked_extensions" mapstructure:"blocked_extensions"`
	File              string   `yaml:"file" mapstructure:"file"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
	Jina   JinaPricing             `yaml:"jina" mapstructure:"jina"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaPricing holds Jina Reader pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EXPAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "expand.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("rails.timeout_secs", 30)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.timeout_secs", 30)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o")
	v.SetDefault("llm.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_backoff_secs", 5)
	v.SetDefault("llm.rate_limit_cooldown_secs", 10)
	v.SetDefault("llm.max_attempts", 10)
	v.SetDefault("llm.requests_per_minute", 60)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("expand.max_links", 10)
	v.SetDefault("expand.match_quota", 3)
	v.SetDefault("expand.max_input_tokens", 32000)
	v.SetDefault("expand.max_output_tokens", 1500)
	v.SetDefault("expand.concurrent_fetch", false)
	v.SetDefault("expand.fetch_concurrency", 2)
	v.SetDefault("expand.page_cache_ttl_hours", 24)
	v.SetDefault("policy.blocked_domains", []string{"www.investing.com", "investing.com"})
	v.SetDefault("policy.blocked_extensions", []string{".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx", ".zip"})
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.models", map[string]map[string]float64{
		"gpt-4o":                    {"input": 2.50, "output": 10.00},
		"gpt-4o-mini":               {"input": 0.15, "output": 0.60},
		"claude-haiku-4-5-20251001": {"input": 0.80, "output": 4.00},
	})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
