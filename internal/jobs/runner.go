package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"trawler/internal/metrics"
	"trawler/internal/model"
)

// JobStore is the slice of the queue API the runner needs. *Queue
// implements it; tests substitute fakes.
type JobStore interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	SetStatus(ctx context.Context, jobID string, status Status, resultID, errMsg string) error
	SetProgress(ctx context.Context, jobID string, progress model.Progress) error
	PublishProgress(ctx context.Context, jobID string, progress model.Progress) error
	AcquireLock(ctx context.Context, url string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, url string)
}

// ResultWriter persists finished crawl results and their screenshots.
type ResultWriter interface {
	StoreResult(ctx context.Context, result *model.CrawlResult) error
	StoreScreenshot(key string, data []byte) error
	CleanupExpired(ctx context.Context) (int, error)
}

// CrawlFunc executes one deep crawl for a dequeued job. The runner owns
// status transitions and progress publication; the crawl just reports
// snapshots through the callback and hands back the finished result with
// its fingerprint already assigned.
type CrawlFunc func(ctx context.Context, req model.CrawlRequest, progress func(model.Progress)) (*model.CrawlResult, []byte, error)

// RunnerOptions configures the async worker loop.
type RunnerOptions struct {
	Store           JobStore
	Results         ResultWriter
	Crawl           CrawlFunc
	LockTTL         time.Duration
	DequeueTimeout  time.Duration
	MaxConcurrent   int
	CleanupInterval time.Duration
	Logger          zerolog.Logger
}

// Runner is the long-running worker: it dequeues jobs, claims the per-URL
// lock, drives the crawl, stores the result, and finalizes the job record
// with terminal progress. Multiple runner processes may consume the same
// queue; the FIFO pop and the URL lock keep them from duplicating work.
type Runner struct {
	store           JobStore
	results         ResultWriter
	crawl           CrawlFunc
	lockTTL         time.Duration
	dequeueTimeout  time.Duration
	maxConcurrent   int
	cleanupInterval time.Duration
	logger          zerolog.Logger
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.DequeueTimeout <= 0 {
		opts.DequeueTimeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	return &Runner{
		store:           opts.Store,
		results:         opts.Results,
		crawl:           opts.Crawl,
		lockTTL:         opts.LockTTL,
		dequeueTimeout:  opts.DequeueTimeout,
		maxConcurrent:   opts.MaxConcurrent,
		cleanupInterval: opts.CleanupInterval,
		logger:          opts.Logger,
	}
}

// Start runs the worker loop until ctx is canceled. The bounded dequeue
// timeout keeps the loop responsive to shutdown. One browser-context slot
// is held for the whole crawl of a job, not per page.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info().Msg("deep scrape worker started, waiting for jobs")

	sem := make(chan struct{}, r.maxConcurrent)
	lastCleanup := time.Now()

	for {
		if ctx.Err() != nil {
			r.logger.Info().Msg("worker shutting down")
			return
		}

		if time.Since(lastCleanup) >= r.cleanupInterval {
			if n, err := r.results.CleanupExpired(ctx); err == nil && n > 0 {
				r.logger.Info().Int("cleaned", n).Msg("expired cache entries removed")
			}
			lastCleanup = time.Now()
		}

		job, err := r.store.Dequeue(ctx, r.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(2 * time.Second)
			continue
		}
		if job == nil {
			continue
		}

		sem <- struct{}{}
		go func(job *Job) {
			defer func() { <-sem }()
			r.ProcessJob(ctx, job)
		}(job)
	}
}

// ProcessJob handles one dequeued job through its full lifecycle.
func (r *Runner) ProcessJob(ctx context.Context, job *Job) {
	url := job.Params.URL
	logger := r.logger.With().Str("job_id", job.JobID).Str("url", url).Logger()
	logger.Info().Msg("processing job")

	acquired, err := r.store.AcquireLock(ctx, url, r.lockTTL)
	if err != nil {
		logger.Error().Err(err).Msg("lock acquisition errored")
	}
	if !acquired {
		logger.Warn().Msg("url lock not acquired, skipping job")
		_ = r.store.SetStatus(ctx, job.JobID, StatusSkipped, "",
			"lock not acquired: another worker is processing this URL concurrently")
		metrics.RecordCrawlJob(string(StatusSkipped))
		return
	}
	defer r.store.ReleaseLock(ctx, url)

	if err := r.store.SetStatus(ctx, job.JobID, StatusRunning, "", ""); err != nil {
		logger.Error().Err(err).Msg("failed to mark job running")
	}

	progressFn := func(p model.Progress) {
		if err := r.store.SetProgress(ctx, job.JobID, p); err != nil {
			logger.Warn().Err(err).Msg("failed to persist progress")
		}
		_ = r.store.PublishProgress(ctx, job.JobID, p)
	}

	result, screenshot, err := r.crawl(ctx, job.Params, progressFn)
	if err != nil {
		logger.Error().Err(err).Msg("crawl failed")
		metrics.RecordCrawlJob(string(StatusError))
		_ = r.store.SetStatus(ctx, job.JobID, StatusError, "", err.Error())
		terminal := model.Progress{
			LastURL: url,
			Percent: 100,
			Status:  string(StatusError),
			Error:   err.Error(),
		}
		_ = r.store.SetProgress(ctx, job.JobID, terminal)
		_ = r.store.PublishProgress(ctx, job.JobID, terminal)
		return
	}

	if err := r.results.StoreResult(ctx, result); err != nil {
		logger.Error().Err(err).Str("result_id", result.ID).Msg("failed to store result")
		_ = r.store.SetStatus(ctx, job.JobID, StatusError, "", err.Error())
		terminal := model.Progress{
			LastURL: url,
			Percent: 100,
			Status:  string(StatusError),
			Error:   err.Error(),
		}
		_ = r.store.SetProgress(ctx, job.JobID, terminal)
		_ = r.store.PublishProgress(ctx, job.JobID, terminal)
		return
	}
	if len(screenshot) > 0 {
		if err := r.results.StoreScreenshot(result.ID, screenshot); err != nil {
			logger.Warn().Err(err).Msg("failed to store screenshot")
		}
	}

	metrics.RecordCrawlJob(string(StatusDone))
	_ = r.store.SetStatus(ctx, job.JobID, StatusDone, result.ID, "")
	terminal := model.Progress{
		CurrentLevel: job.Params.DeepScrape.Depth,
		TotalLevels:  job.Params.DeepScrape.Depth,
		TotalPages:   result.TotalPages,
		LastURL:      url,
		Percent:      100,
		Status:       string(StatusDone),
	}
	_ = r.store.SetProgress(ctx, job.JobID, terminal)
	_ = r.store.PublishProgress(ctx, job.JobID, terminal)

	logger.Info().Str("result_id", result.ID).Int("total_pages", result.TotalPages).Msg("job finished")
}
