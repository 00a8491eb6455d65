// Package main wires together the search-scrape service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/if001/search-scrape/internal/api"
	"github.com/if001/search-scrape/internal/botwall"
	"github.com/if001/search-scrape/internal/config"
	"github.com/if001/search-scrape/internal/engine/ddg"
	"github.com/if001/search-scrape/internal/escalate"
	"github.com/if001/search-scrape/internal/extract"
	"github.com/if001/search-scrape/internal/fetcher"
	collyfetcher "github.com/if001/search-scrape/internal/fetcher/colly"
	headlessfetcher "github.com/if001/search-scrape/internal/fetcher/headless"
	"github.com/if001/search-scrape/internal/limiter"
	"github.com/if001/search-scrape/internal/logging"
	"github.com/if001/search-scrape/internal/metrics"
	"github.com/if001/search-scrape/internal/negcache"
	"github.com/if001/search-scrape/internal/pipeline"
	"github.com/if001/search-scrape/internal/scrape"
	"github.com/if001/search-scrape/internal/urlutil"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validator := urlutil.NewValidator(cfg.SafetyPolicy(), nil)

	limits, err := limiter.New(limiter.Config{
		Global:     int64(cfg.Concurrency.Global),
		PerHost:    int64(cfg.Concurrency.PerHost),
		PerHostQPS: cfg.Concurrency.PerHostQPS,
	})
	if err != nil {
		logger.Fatal("limiter init failed", zap.Error(err))
	}

	cache, err := buildCache(ctx, cfg)
	if err != nil {
		logger.Fatal("negative cache init failed", zap.Error(err))
	}

	engine := ddg.New(&http.Client{Timeout: cfg.FetchTimeout()})

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxRedirects: cfg.Fetch.MaxRedirects,
	}, validator)

	var browserFetcher scrape.PageFetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		chromeFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:        cfg.Headless.MaxParallel,
			UserAgent:          cfg.Fetch.UserAgent,
			NavigationTimeout:  cfg.NavTimeout(),
			ContentWaitTimeout: cfg.ContentWait(),
			RequireHTML:        cfg.Headless.RequireHTML,
		}, validator)
		if err != nil {
			logger.Warn("headless fetcher init failed, escalation disabled", zap.Error(err))
		} else {
			browserFetcher = chromeFetcher
		}
	}

	pipelineCfg := pipeline.Config{MinMarkdownChars: cfg.Pipeline.MinMarkdownChars}
	baseDeps := pipeline.Deps{
		Engine:    engine,
		Limiter:   limits,
		Cache:     cache,
		Detector:  botwall.New(botwall.Config{Treat403AsSuspect: true}),
		Heuristic: escalate.NewHeuristic(cfg.Escalate.MinHTMLBytes),
		Cleaner:   extract.NewCleaner(),
		Converter: extract.NewMarkdownConverter(),
	}

	// Two runners over the same limiter and cache: one escalates through the
	// browser, one never leaves the lightweight tier.
	browserDeps := baseDeps
	browserDeps.Fetcher = fetcher.NewHybrid(httpFetcher, browserFetcher)
	browserDeps.Logger = logger.Named("pipeline")
	browserRunner, err := pipeline.New(pipelineCfg, browserDeps)
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	httpOnlyDeps := baseDeps
	httpOnlyDeps.Fetcher = fetcher.NewHybrid(httpFetcher, headlessfetcher.NewNoop())
	httpOnlyDeps.Logger = logger.Named("pipeline.http_only")
	httpOnlyRunner, err := pipeline.New(pipelineCfg, httpOnlyDeps)
	if err != nil {
		logger.Fatal("pipeline init failed", zap.Error(err))
	}

	apiServer := api.NewServer(browserRunner, httpOnlyRunner, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildCache(ctx context.Context, cfg config.Config) (negcache.Store, error) {
	switch cfg.Cache.Backend {
	case "file":
		return negcache.NewFileStore(negcache.FileConfig{
			Dir: cfg.Cache.Dir,
			TTL: cfg.CacheTTL(),
		})
	case "postgres":
		return negcache.NewPostgresStore(ctx, negcache.PostgresConfig{
			DSN:      cfg.Cache.DSN,
			TTL:      cfg.CacheTTL(),
			MaxConns: int32(cfg.Cache.MaxConns),
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
