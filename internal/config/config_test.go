package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Concurrency.Global != 8 || cfg.Concurrency.PerHost != 2 {
		t.Fatalf("expected default concurrency 8/2, got %d/%d",
			cfg.Concurrency.Global, cfg.Concurrency.PerHost)
	}
	if cfg.Cache.Backend != "file" {
		t.Fatalf("expected default cache backend file, got %q", cfg.Cache.Backend)
	}
	if got := cfg.CacheTTL(); got != 30*time.Minute {
		t.Fatalf("expected default cache TTL 30m, got %v", got)
	}
	if got := cfg.FetchTimeout(); got != 20*time.Second {
		t.Fatalf("expected default fetch timeout 20s, got %v", got)
	}
	if !cfg.Safety.BlockPrivate || !cfg.Safety.BlockLoopback {
		t.Fatalf("expected internal address classes blocked by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
search:
  default_region: us-en
  default_limit: 3
concurrency:
  global: 6
  per_host: 1
  per_host_qps: 0.5
fetch:
  timeout_seconds: 45
  user_agent: test-agent
  max_redirects: 3
headless:
  enabled: true
  max_parallel: 4
  nav_timeout_seconds: 30
  content_wait_seconds: 2
escalate:
  min_html_bytes: 512
pipeline:
  min_markdown_chars: 100
cache:
  backend: postgres
  dsn: postgres://localhost/scrape
  ttl_minutes: 10
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Search.DefaultRegion != "us-en" || cfg.Search.DefaultLimit != 3 {
		t.Fatalf("expected search overrides to apply: %+v", cfg.Search)
	}
	if cfg.Concurrency.PerHostQPS != 0.5 {
		t.Fatalf("expected per_host_qps 0.5, got %v", cfg.Concurrency.PerHostQPS)
	}
	if cfg.Cache.Backend != "postgres" || cfg.Cache.DSN == "" {
		t.Fatalf("expected postgres cache backend: %+v", cfg.Cache)
	}
	if got := cfg.NavTimeout(); got != 30*time.Second {
		t.Fatalf("expected nav timeout 30s, got %v", got)
	}
	if got := cfg.ContentWait(); got != 2*time.Second {
		t.Fatalf("expected content wait 2s, got %v", got)
	}
	if pol := cfg.SafetyPolicy(); pol.MaxRedirects != 3 {
		t.Fatalf("expected safety policy to carry max redirects 3, got %d", pol.MaxRedirects)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:      ServerConfig{Port: 8080},
		Concurrency: ConcurrencyConfig{Global: 8, PerHost: 2},
		Fetch:       FetchConfig{TimeoutSeconds: 20},
		Cache:       CacheConfig{Backend: "file", Dir: ".negcache", TTLMinutes: 30},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid global concurrency",
			cfg: func() Config {
				c := base
				c.Concurrency.Global = 0
				return c
			}(),
			want: "concurrency.global",
		},
		{
			name: "invalid per-host concurrency",
			cfg: func() Config {
				c := base
				c.Concurrency.PerHost = 0
				return c
			}(),
			want: "concurrency.per_host",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Fetch.TimeoutSeconds = 0
				return c
			}(),
			want: "fetch.timeout_seconds",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "unknown cache backend",
			cfg: func() Config {
				c := base
				c.Cache.Backend = "redis"
				return c
			}(),
			want: "cache.backend",
		},
		{
			name: "postgres backend without dsn",
			cfg: func() Config {
				c := base
				c.Cache.Backend = "postgres"
				c.Cache.DSN = ""
				return c
			}(),
			want: "cache.dsn",
		},
		{
			name: "invalid ttl",
			cfg: func() Config {
				c := base
				c.Cache.TTLMinutes = 0
				return c
			}(),
			want: "cache.ttl_minutes",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
