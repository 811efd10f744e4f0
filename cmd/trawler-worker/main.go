package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trawler/internal/cache"
	"trawler/internal/config"
	"trawler/internal/crawler"
	"trawler/internal/jobs"
	"trawler/internal/model"
	"trawler/internal/scraper"
	"trawler/internal/scrapeutil"
)

// The worker consumes the deep-scrape job queue: it claims the per-URL
// lock, drives the crawl, stores the result, and publishes progress.
// Multiple worker processes may run against the same queue.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Str("component", "worker").Logger()

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error().Err(err).Msg("unreadable redis url")
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	store := cache.FromConfig(cfg, rdb, logger)
	queue := jobs.NewQueue(rdb, cfg.Queue.Name, logger)

	initScripts, err := scraper.LoadInitScripts(cfg.Browser.ScriptsDir)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load init scripts")
		os.Exit(1)
	}

	renderer := scraper.NewRodRenderer(logger)
	defer renderer.Close()

	deepCrawler := crawler.New(crawler.Options{
		Renderer:       renderer,
		InitScripts:    initScripts,
		DefaultTimeout: time.Duration(cfg.Browser.TimeoutMs) * time.Millisecond,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		UserAgent:      cfg.Browser.UserAgent,
		RespectRobots:  cfg.Robots.Respect,
		Logger:         logger,
	})

	crawlFn := func(ctx context.Context, req model.CrawlRequest, progress func(model.Progress)) (*model.CrawlResult, []byte, error) {
		result, screenshot, err := deepCrawler.Run(ctx, req, progress)
		if err != nil {
			return nil, nil, err
		}
		result.ID = scrapeutil.Fingerprint(req.URL)
		result.ResultURI = "/result/" + result.ID
		if len(screenshot) > 0 {
			result.ScreenshotURI = "/screenshot/" + result.ID
		}
		return result, screenshot, nil
	}

	runner := jobs.NewRunner(jobs.RunnerOptions{
		Store:           queue,
		Results:         &resultWriter{store: store},
		Crawl:           crawlFn,
		LockTTL:         time.Duration(cfg.Queue.LockTTLSeconds) * time.Second,
		DequeueTimeout:  time.Duration(cfg.Queue.DequeueTimeoutSeconds) * time.Second,
		MaxConcurrent:   cfg.Browser.MaxContexts,
		CleanupInterval: time.Duration(cfg.Cache.CleanupIntervalMinutes) * time.Minute,
		Logger:          logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner.Start(ctx)
}

// resultWriter adapts the tiered cache to the runner's ResultWriter.
type resultWriter struct {
	store *cache.Tiered
}

func (w *resultWriter) StoreResult(ctx context.Context, result *model.CrawlResult) error {
	return w.store.StoreResult(ctx, result)
}

func (w *resultWriter) StoreScreenshot(key string, data []byte) error {
	return w.store.File().StoreScreenshot(key, data)
}

func (w *resultWriter) CleanupExpired(ctx context.Context) (int, error) {
	return w.store.CleanupExpired(ctx)
}
