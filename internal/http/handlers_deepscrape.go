package http

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"trawler/internal/cache"
	"trawler/internal/formats"
	"trawler/internal/metrics"
	"trawler/internal/model"
	"trawler/internal/scrapeutil"
)

// parseDeepScrapeQuery builds a validated CrawlRequest from the query
// string of the synchronous endpoints.
func parseDeepScrapeQuery(c *fiber.Ctx) (model.CrawlRequest, error) {
	var req model.CrawlRequest

	req.URL = strings.TrimSpace(c.Query("url"))
	if req.URL == "" {
		return req, fmt.Errorf("url parameter is required")
	}

	depth := c.QueryInt("depth", model.DefaultDepth)
	if depth < model.DepthMin || depth > model.DepthMax {
		return req, fmt.Errorf("depth must be between %d and %d", model.DepthMin, model.DepthMax)
	}

	maxURLs := c.QueryInt("max-urls-per-level", model.DefaultMaxURLsPerLevel)
	if maxURLs < model.MaxURLsPerLevelMin || maxURLs > model.MaxURLsPerLevelMax {
		return req, fmt.Errorf("max-urls-per-level must be between %d and %d",
			model.MaxURLsPerLevelMin, model.MaxURLsPerLevelMax)
	}

	delay := model.DefaultDelaySeconds
	if raw := c.Query("delay-between-requests"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("delay-between-requests is not a number")
		}
		delay = parsed
	}
	if delay < model.DelayMin || delay > model.DelayMax {
		return req, fmt.Errorf("delay-between-requests must be between %.1f and %.1f",
			model.DelayMin, model.DelayMax)
	}

	var excludes []string
	for _, pattern := range strings.Split(c.Query("exclude-patterns"), ",") {
		if pattern = strings.TrimSpace(pattern); pattern != "" {
			excludes = append(excludes, pattern)
		}
	}

	req.DeepScrape = model.DeepScrapeParams{
		Depth:                depth,
		MaxURLsPerLevel:      maxURLs,
		SameDomainOnly:       c.QueryBool("same-domain-only", true),
		DelayBetweenRequests: delay,
		ExcludePatterns:      excludes,
	}
	req.Common = model.CommonParams{
		Cache:       c.QueryBool("cache", true),
		Screenshot:  c.QueryBool("screenshot", false),
		FullContent: c.QueryBool("full-content", false),
	}
	req.Browser = model.BrowserParams{
		TimeoutMs:      c.QueryInt("timeout", 0),
		WaitUntil:      c.Query("wait-until"),
		ViewportWidth:  c.QueryInt("viewport-width", 0),
		ViewportHeight: c.QueryInt("viewport-height", 0),
		UserAgent:      c.Query("user-agent"),
		Proxy:          c.Query("proxy"),
	}
	req.Readability = model.ReadabilityParams{
		MaxElemsToParse: c.QueryInt("max-elems-to-parse", 0),
		NbTopCandidates: c.QueryInt("nb-top-candidates", 0),
		CharThreshold:   c.QueryInt("char-threshold", 0),
	}

	return req, nil
}

// queryMap snapshots the request's query parameters for the persisted
// result record.
func queryMap(c *fiber.Ctx) map[string][]string {
	out := make(map[string][]string)
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		k := string(key)
		out[k] = append(out[k], string(value))
	})
	return out
}

// executeDeepScrape runs a synchronous crawl under one browser-context
// slot and persists the decorated result. The crawl deliberately runs on
// a background context: an aborted client connection does not abort an
// in-flight crawl, and the result still lands in the cache.
func (s *Server) executeDeepScrape(hostURL, fingerprint string, query map[string][]string, req model.CrawlRequest) (*model.CrawlResult, error) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	result, screenshot, err := s.crawler.Run(context.Background(), req, nil)
	if err != nil {
		return nil, err
	}

	result.ID = fingerprint
	result.Query = query
	result.ResultURI = hostURL + "/result/" + fingerprint

	ctx := context.Background()
	if len(screenshot) > 0 {
		if err := s.store.File().StoreScreenshot(fingerprint, screenshot); err != nil {
			s.logger.Warn().Err(err).Str("result_id", fingerprint).Msg("failed to store screenshot")
		} else {
			result.ScreenshotURI = hostURL + "/screenshot/" + fingerprint
		}
	}

	if err := s.store.StoreResult(ctx, result); err != nil {
		s.logger.Error().Err(err).Str("result_id", fingerprint).Msg("failed to store crawl result")
		metrics.RecordCacheOp("store", "error")
	} else {
		metrics.RecordCacheOp("store", "ok")
	}

	return result, nil
}

// deepScrapeHandler is the synchronous path: crawl now, return the full
// result. Logically identical requests collapse onto the cached artifact.
func (s *Server) deepScrapeHandler(c *fiber.Ctx) error {
	req, err := parseDeepScrapeQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_PARAMS",
			Error:   err.Error(),
		})
	}

	fingerprint := scrapeutil.FingerprintRequest(c.OriginalURL())

	if req.Common.Cache {
		if cached, err := s.store.LoadResult(c.Context(), fingerprint); err == nil {
			metrics.RecordCacheOp("load", "hit")
			return c.JSON(cached)
		}
		metrics.RecordCacheOp("load", "miss")
	}

	result, err := s.executeDeepScrape(c.BaseURL(), fingerprint, queryMap(c), req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "CRAWL_FAILED",
			Error:   err.Error(),
		})
	}

	return c.JSON(result)
}

// deepScrapeMarkdownHandler runs (or serves from cache) the same crawl
// and returns one consolidated Markdown document.
func (s *Server) deepScrapeMarkdownHandler(c *fiber.Ctx) error {
	req, err := parseDeepScrapeQuery(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_PARAMS",
			Error:   err.Error(),
		})
	}

	fingerprint := scrapeutil.FingerprintRequest(c.OriginalURL())

	var result *model.CrawlResult
	if req.Common.Cache {
		if cached, loadErr := s.store.LoadResult(c.Context(), fingerprint); loadErr == nil {
			metrics.RecordCacheOp("load", "hit")
			result = cached
		}
	}
	if result == nil {
		result, err = s.executeDeepScrape(c.BaseURL(), fingerprint, queryMap(c), req)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "CRAWL_FAILED",
				Error:   err.Error(),
			})
		}
	}

	return c.JSON(MarkdownResponse{
		ID:            result.ID,
		BaseURL:       result.BaseURL,
		Domain:        result.Domain,
		Date:          result.Date,
		TotalPages:    result.TotalPages,
		Markdown:      formats.ConsolidatedMarkdown(result),
		ResultURI:     result.ResultURI,
		ScreenshotURI: result.ScreenshotURI,
	})
}

// deepScrapeAsyncHandler enqueues a crawl job, unless the fingerprint is
// already cached, in which case no job record is created at all.
func (s *Server) deepScrapeAsyncHandler(c *fiber.Ctx) error {
	var body AsyncDeepScrapeRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_BODY",
			Error:   "malformed request body: " + err.Error(),
		})
	}
	if strings.TrimSpace(body.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_PARAMS",
			Error:   "url is required",
		})
	}

	req, err := body.toCrawlRequest()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_PARAMS",
			Error:   err.Error(),
		})
	}

	fingerprint := scrapeutil.Fingerprint(body.URL)

	if req.Common.Cache {
		if _, err := s.store.LoadResult(c.Context(), fingerprint); err == nil {
			metrics.RecordCacheOp("load", "hit")
			return c.JSON(CacheHitResponse{
				Success:   true,
				FromCache: true,
				ResultID:  fingerprint,
				ResultURI: "/result/" + fingerprint,
				Message:   "Result served from cache.",
			})
		} else if err != cache.ErrNotFound {
			s.logger.Warn().Err(err).Msg("cache consult failed, enqueuing anyway")
		}
		metrics.RecordCacheOp("load", "miss")
	}

	if s.queue == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Success: false,
			Code:    "QUEUE_UNAVAILABLE",
			Error:   "async processing requires redis, which is disabled",
		})
	}

	jobID, err := s.queue.Enqueue(c.Context(), req)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "ENQUEUE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.JSON(AsyncEnqueueResponse{
		Success:   true,
		JobID:     jobID,
		StatusURL: c.BaseURL() + "/api/deep-scrape/status/" + jobID,
		Message:   "Job enqueued. Poll the status endpoint with the job_id.",
	})
}

// toCrawlRequest validates the async body against the same bounds as the
// query surface.
func (b *AsyncDeepScrapeRequest) toCrawlRequest() (model.CrawlRequest, error) {
	var req model.CrawlRequest

	depth := b.Depth
	if depth == 0 {
		depth = model.DefaultDepth
	}
	if depth < model.DepthMin || depth > model.DepthMax {
		return req, fmt.Errorf("depth must be between %d and %d", model.DepthMin, model.DepthMax)
	}

	maxURLs := b.MaxURLsPerLevel
	if maxURLs == 0 {
		maxURLs = model.DefaultMaxURLsPerLevel
	}
	if maxURLs < model.MaxURLsPerLevelMin || maxURLs > model.MaxURLsPerLevelMax {
		return req, fmt.Errorf("max_urls_per_level must be between %d and %d",
			model.MaxURLsPerLevelMin, model.MaxURLsPerLevelMax)
	}

	delay := b.DelayBetweenRequests
	if delay == 0 {
		delay = model.DefaultDelaySeconds
	}
	if delay < model.DelayMin || delay > model.DelayMax {
		return req, fmt.Errorf("delay_between_requests must be between %.1f and %.1f",
			model.DelayMin, model.DelayMax)
	}

	sameDomain := true
	if b.SameDomainOnly != nil {
		sameDomain = *b.SameDomainOnly
	}
	useCache := true
	if b.Cache != nil {
		useCache = *b.Cache
	}

	req = model.CrawlRequest{
		URL: b.URL,
		Common: model.CommonParams{
			Cache:       useCache,
			Screenshot:  b.Screenshot,
			FullContent: b.FullContent,
		},
		Browser: model.BrowserParams{
			TimeoutMs:      b.TimeoutSeconds * 1000,
			ViewportWidth:  b.ViewportWidth,
			ViewportHeight: b.ViewportHeight,
			UserAgent:      b.UserAgent,
			Proxy:          b.Proxy,
			ExtraHeaders:   b.ExtraHeaders,
			Cookies:        b.Cookies,
		},
		DeepScrape: model.DeepScrapeParams{
			Depth:                depth,
			MaxURLsPerLevel:      maxURLs,
			SameDomainOnly:       sameDomain,
			DelayBetweenRequests: delay,
			ExcludePatterns:      b.ExcludePatterns,
		},
	}
	return req, nil
}

// jobStatusHandler reports a job's lifecycle state.
func (s *Server) jobStatusHandler(c *fiber.Ctx) error {
	if s.queue == nil {
		return queueUnavailable(c)
	}

	jobID := c.Params("job_id")
	job, err := s.queue.GetStatus(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   fmt.Sprintf("Job %s not found.", jobID),
		})
	}

	return c.JSON(JobStatusResponse{
		Success:   true,
		JobID:     jobID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
		Error:     job.Error,
		ResultID:  job.ResultID,
	})
}

// jobProgressHandler reports the latest granular progress snapshot.
func (s *Server) jobProgressHandler(c *fiber.Ctx) error {
	if s.queue == nil {
		return queueUnavailable(c)
	}

	jobID := c.Params("job_id")
	progress, err := s.queue.GetProgress(c.Context(), jobID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if progress == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   fmt.Sprintf("No progress found for job %s.", jobID),
		})
	}

	return c.JSON(JobProgressResponse{
		Success:  true,
		JobID:    jobID,
		Progress: progress,
	})
}

func queueUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
		Success: false,
		Code:    "QUEUE_UNAVAILABLE",
		Error:   "job endpoints require redis, which is disabled",
	})
}
