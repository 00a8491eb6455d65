// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/if001/search-scrape/internal/urlutil"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Search      SearchConfig      `mapstructure:"search"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Escalate    EscalateConfig    `mapstructure:"escalate"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Safety      SafetyConfig      `mapstructure:"safety"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SearchConfig tunes the search engine collaborator.
type SearchConfig struct {
	DefaultRegion string `mapstructure:"default_region"`
	DefaultLimit  int    `mapstructure:"default_limit"`
	MaxLimit      int    `mapstructure:"max_limit"`
}

// ConcurrencyConfig sizes the domain limiter.
type ConcurrencyConfig struct {
	Global     int     `mapstructure:"global"`
	PerHost    int     `mapstructure:"per_host"`
	PerHostQPS float64 `mapstructure:"per_host_qps"`
}

// FetchConfig governs the lightweight HTTP fetcher.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSec      int  `mapstructure:"nav_timeout_seconds"`
	ContentWaitSeconds int  `mapstructure:"content_wait_seconds"`
	RequireHTML        bool `mapstructure:"require_html"`
}

// EscalateConfig tunes the rendered-fetch promotion heuristic.
type EscalateConfig struct {
	MinHTMLBytes int `mapstructure:"min_html_bytes"`
}

// PipelineConfig tunes the orchestrator's quality gates.
type PipelineConfig struct {
	MinMarkdownChars int `mapstructure:"min_markdown_chars"`
}

// CacheConfig selects and sizes the negative-cache backend.
type CacheConfig struct {
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	DSN        string `mapstructure:"dsn"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
	MaxConns   int    `mapstructure:"max_conns"`
}

// SafetyConfig toggles the blocked address classes for fetch targets.
type SafetyConfig struct {
	BlockPrivate   bool `mapstructure:"block_private"`
	BlockLinkLocal bool `mapstructure:"block_link_local"`
	BlockLoopback  bool `mapstructure:"block_loopback"`
	BlockMulticast bool `mapstructure:"block_multicast"`
	BlockReserved  bool `mapstructure:"block_reserved"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEARCHSCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("search.default_region", "jp-jp")
	v.SetDefault("search.default_limit", 5)
	v.SetDefault("search.max_limit", 50)
	v.SetDefault("concurrency.global", 8)
	v.SetDefault("concurrency.per_host", 2)
	v.SetDefault("concurrency.per_host_qps", 0)
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.content_wait_seconds", 5)
	v.SetDefault("headless.require_html", true)
	v.SetDefault("escalate.min_html_bytes", 2000)
	v.SetDefault("pipeline.min_markdown_chars", 400)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.dir", ".negcache")
	v.SetDefault("cache.ttl_minutes", 30)
	v.SetDefault("cache.max_conns", 4)
	v.SetDefault("safety.block_private", true)
	v.SetDefault("safety.block_link_local", true)
	v.SetDefault("safety.block_loopback", true)
	v.SetDefault("safety.block_multicast", true)
	v.SetDefault("safety.block_reserved", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Concurrency.Global <= 0 {
		return fmt.Errorf("concurrency.global must be > 0")
	}
	if c.Concurrency.PerHost <= 0 {
		return fmt.Errorf("concurrency.per_host must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Cache.Backend {
	case "file":
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set for the file backend")
		}
	case "postgres":
		if c.Cache.DSN == "" {
			return fmt.Errorf("cache.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of file, postgres")
	}
	if c.Cache.TTLMinutes <= 0 {
		return fmt.Errorf("cache.ttl_minutes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout is the per-request budget for the lightweight fetcher.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout is the navigation budget for a rendered fetch.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// ContentWait bounds the opportunistic wait for a content container.
func (c Config) ContentWait() time.Duration {
	return time.Duration(c.Headless.ContentWaitSeconds) * time.Second
}

// CacheTTL is the lifetime of a negative-cache verdict.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// SafetyPolicy translates the config flags into a urlutil policy.
func (c Config) SafetyPolicy() urlutil.SafetyPolicy {
	return urlutil.SafetyPolicy{
		AllowedSchemes: []string{"http", "https"},
		MaxRedirects:   c.Fetch.MaxRedirects,
		BlockPrivate:   c.Safety.BlockPrivate,
		BlockLinkLocal: c.Safety.BlockLinkLocal,
		BlockLoopback:  c.Safety.BlockLoopback,
		BlockMulticast: c.Safety.BlockMulticast,
		BlockReserved:  c.Safety.BlockReserved,
	}
}
