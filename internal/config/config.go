// Package config resolves the runtime settings from flags, the config file and
// the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/collect"
	"github.com/aegistrace/aegistrace/internal/enrich"
	"github.com/aegistrace/aegistrace/internal/pipeline"
	"github.com/aegistrace/aegistrace/internal/summarize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DefaultDBPath    = "./data/aegistrace.db"
	DefaultRedisURL  = ""
	DefaultUserAgent = collect.DefaultUserAgent

	// otxPlaceholderKey ships in sample env files and means no key.
	otxPlaceholderKey = "your_otx_key_here"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Log       LogConfig        `mapstructure:"log"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Keys      KeysConfig       `mapstructure:"keys"`
	Collect   CollectConfig    `mapstructure:"collect"`
	Enrich    EnrichConfig     `mapstructure:"enrich"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline"`
	Summarize summarize.Config `mapstructure:"summarize"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent" validate:"required"`
	// RPS paces feed requests across all adapters. Zero disables pacing.
	RPS float64 `mapstructure:"rps" validate:"gte=0"`
}

// KeysConfig holds the provider credentials; every key is optional.
type KeysConfig struct {
	OTX        string `mapstructure:"otx"`
	AbuseIPDB  string `mapstructure:"abuseipdb"`
	VirusTotal string `mapstructure:"virustotal"`
	Pulsedive  string `mapstructure:"pulsedive"`
}

type CollectConfig struct {
	RSSFeeds       []string          `mapstructure:"rss_feeds" validate:"dive,url"`
	BackfillOffset time.Duration     `mapstructure:"backfill_offset" validate:"gte=0"`
	Workers        int               `mapstructure:"workers" validate:"gte=1"`
	Endpoints      collect.Endpoints `mapstructure:"endpoints"`
}

type EnrichConfig struct {
	Enabled   bool             `mapstructure:"enabled"`
	Workers   int              `mapstructure:"workers" validate:"gte=1"`
	RPS       float64          `mapstructure:"rps" validate:"gte=0"`
	Burst     int              `mapstructure:"burst" validate:"gte=0"`
	CacheSize int              `mapstructure:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration    `mapstructure:"cache_ttl" validate:"gte=0"`
	Endpoints enrich.Endpoints `mapstructure:"endpoints"`
}

type PipelineConfig struct {
	MaxThreats int `mapstructure:"max_threats" validate:"gte=1"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("redis.url", DefaultRedisURL)
	v.SetDefault("log.level", "info")

	v.SetDefault("http.timeout", collect.DefaultHTTPTimeout)
	v.SetDefault("http.user_agent", DefaultUserAgent)
	v.SetDefault("http.rps", 0)

	v.SetDefault("collect.rss_feeds", collect.DefaultRSSFeeds)
	v.SetDefault("collect.backfill_offset", collect.DefaultBackfillOffset)
	v.SetDefault("collect.workers", collect.DefaultWorkers)

	v.SetDefault("enrich.enabled", true)
	v.SetDefault("enrich.workers", enrich.DefaultWorkers)
	v.SetDefault("enrich.rps", 0)
	v.SetDefault("enrich.burst", 1)
	v.SetDefault("enrich.cache_size", 1000)
	v.SetDefault("enrich.cache_ttl", 0)

	v.SetDefault("pipeline.max_threats", pipeline.DefaultMaxThreats)

	v.SetDefault("summarize.provider", "")
	v.SetDefault("summarize.endpoint", "")
	v.SetDefault("summarize.model", "")
	v.SetDefault("summarize.api_key", "")
	v.SetDefault("summarize.timeout", summarize.DefaultTimeout)
	v.SetDefault("summarize.workers", summarize.DefaultWorkers)
}

// BindEnv maps the conventional environment names onto config keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("keys.otx", "OTX_API_KEY")
	_ = v.BindEnv("keys.abuseipdb", "ABUSEIPDB_API_KEY")
	_ = v.BindEnv("keys.virustotal", "VIRUSTOTAL_API_KEY")
	_ = v.BindEnv("keys.pulsedive", "PULSEDIVE_API_KEY")
	_ = v.BindEnv("redis.url", "AEGISTRACE_REDIS_URL")
	_ = v.BindEnv("database.path", "AEGISTRACE_DB")
	_ = v.BindEnv("summarize.api_key", "OPENROUTER_API_KEY")
}

// Load builds the configuration from v, which must already have its config
// file and flags attached.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	// accept the loose spellings people put in .env files
	if raw, ok := os.LookupEnv("ENABLE_ENRICHMENT"); ok {
		v.Set("enrich.enabled", ParseSwitch(raw))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Keys.OTX == otxPlaceholderKey {
		cfg.Keys.OTX = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseSwitch reports whether s is one of 1, true or yes, case-insensitively.
func ParseSwitch(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// CollectSettings returns the feed settings for collect.DefaultSources.
func (c *Config) CollectSettings() collect.Settings {
	return collect.Settings{
		OTXKey:         c.Keys.OTX,
		RSSFeeds:       c.Collect.RSSFeeds,
		BackfillOffset: c.Collect.BackfillOffset,
		Endpoints:      c.Collect.Endpoints,
	}
}

// EnrichKeys returns the provider credentials.
func (c *Config) EnrichKeys() enrich.Keys {
	return enrich.Keys{
		AbuseIPDB:  c.Keys.AbuseIPDB,
		VirusTotal: c.Keys.VirusTotal,
		Pulsedive:  c.Keys.Pulsedive,
	}
}
