package http

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trawler/internal/cache"
	"trawler/internal/config"
	"trawler/internal/crawler"
	"trawler/internal/jobs"
	"trawler/internal/metrics"
)

// Server is the HTTP façade over the crawl engine: the synchronous
// deep-scrape path, the async job endpoints, result delivery, and the
// progress stream.
type Server struct {
	app     *fiber.App
	config  *config.Config
	store   *cache.Tiered
	queue   *jobs.Queue
	crawler *crawler.Crawler
	// sem admits renderer sessions; one slot covers the entire crawl of
	// a synchronous request.
	sem    chan struct{}
	logger zerolog.Logger
}

func NewServer(cfg *config.Config, store *cache.Tiered, queue *jobs.Queue, deepCrawler *crawler.Crawler, rdb *redis.Client, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout: 30 * time.Second,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		store:   store,
		queue:   queue,
		crawler: deepCrawler,
		sem:     make(chan struct{}, cfg.Browser.MaxContexts),
		logger:  logger,
	}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Path(), status, latency.Milliseconds())

		logger.Info().
			Str("request_id", reqID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Int64("latency_ms", latency.Milliseconds()).
			Msg("request")

		return err
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		status := "ok"
		if cfg.Redis.Enabled && redisStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status": status,
			"redis":  redisStatus,
			"cache":  fmt.Sprintf("phase-%d", cfg.Redis.MigrationPhase),
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	// Health and metrics stay open; everything registered below passes
	// the credential gate and the rate limiter.
	app.Use(authMiddleware(cfg), rateLimitMiddleware(cfg, rdb))

	api := app.Group("/api")
	api.Get("/deep-scrape", s.deepScrapeHandler)
	api.Get("/deep-scrape/markdown", s.deepScrapeMarkdownHandler)
	api.Post("/deep-scrape/async", s.deepScrapeAsyncHandler)
	api.Get("/deep-scrape/status/:job_id", s.jobStatusHandler)
	api.Get("/deep-scrape/progress/:job_id", s.jobProgressHandler)
	api.Get("/deep-scrape/stream/:job_id", s.streamProgressHandler)
	api.Get("/cache/stats", s.cacheStatsHandler)
	api.Delete("/cache/:r_id", s.cacheDeleteHandler)

	app.Get("/result/:r_id", s.resultHandler)
	app.Get("/screenshot/:r_id", s.screenshotHandler)

	return s
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }
