package main

import (
	"flag"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trawler/internal/cache"
	"trawler/internal/config"
	"trawler/internal/crawler"
	server "trawler/internal/http"
	"trawler/internal/jobs"
	"trawler/internal/scraper"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Str("component", "api").Logger()

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("unreadable redis url")
		}
		rdb = redis.NewClient(opt)
	}

	store := cache.FromConfig(cfg, rdb, logger)

	initScripts, err := scraper.LoadInitScripts(cfg.Browser.ScriptsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load init scripts")
	}
	if len(initScripts) == 0 {
		logger.Warn().Str("dir", cfg.Browser.ScriptsDir).
			Msg("no init scripts found, article extraction will report every page unparseable")
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

	var queue *jobs.Queue
	if rdb != nil {
		queue = jobs.NewQueue(rdb, cfg.Queue.Name, logger)
	}

	s := server.NewServer(cfg, store, queue, deepCrawler, rdb, logger)
	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("api listening")
	if err := s.Listen(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
