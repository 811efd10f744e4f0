package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trawler/internal/model"
)

const jobKeyPrefix = "deep_scrape_job:"

// Job is the durable record of one async deep-scrape request. It is
// created by Enqueue, mutated only by the worker that dequeued it, and
// kept past terminal states so clients can poll afterwards.
type Job struct {
	JobID     string             `json:"job_id"`
	Status    Status             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
	Error     string             `json:"error,omitempty"`
	ResultID  string             `json:"result_id,omitempty"`
	Params    model.CrawlRequest `json:"params"`
	Progress  *model.Progress    `json:"progress,omitempty"`
}

// Queue is the redis-backed job system: a durable FIFO list of pending
// job IDs plus one JSON record per job. Pushes go to the head, the
// blocking pop takes from the tail, and the pop is atomic, so each
// enqueued ID reaches exactly one worker.
type Queue struct {
	rdb    *redis.Client
	name   string
	logger zerolog.Logger
}

func NewQueue(rdb *redis.Client, name string, logger zerolog.Logger) *Queue {
	return &Queue{rdb: rdb, name: name, logger: logger}
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// Enqueue writes a fresh pending job record and pushes its ID onto the
// FIFO. Returns the generated job ID.
func (q *Queue) Enqueue(ctx context.Context, params model.CrawlRequest) (string, error) {
	jobID := uuid.NewString()
	now := time.Now().UTC()
	job := Job{
		JobID:     jobID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Params:    params,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := q.rdb.Set(ctx, jobKey(jobID), data, 0).Err(); err != nil {
		return "", fmt.Errorf("write job record: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.name, jobID).Err(); err != nil {
		return "", fmt.Errorf("push job id: %w", err)
	}

	qlen, _ := q.rdb.LLen(ctx, q.name).Result()
	q.logger.Info().
		Str("job_id", jobID).
		Str("url", params.URL).
		Int64("queue_length", qlen).
		Msg("job enqueued")

	return jobID, nil
}

// Dequeue blocks on the FIFO tail for up to timeout and returns the next
// job, or nil when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop %s: %w", q.name, err)
	}
	if len(res) < 2 {
		return nil, nil
	}

	jobID := res[1]
	job, err := q.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		q.logger.Warn().Str("job_id", jobID).Msg("dequeued job id without record")
		return nil, nil
	}

	q.logger.Info().
		Str("job_id", jobID).
		Str("url", job.Params.URL).
		Msg("job dequeued")
	return job, nil
}

// SetStatus updates a job's status via read-modify-write. resultID and
// errMsg are applied when non-empty. The operation is idempotent: a
// retried transition just rewrites the same terminal state.
func (q *Queue) SetStatus(ctx context.Context, jobID string, status Status, resultID, errMsg string) error {
	return q.updateJob(ctx, jobID, func(job *Job) {
		job.Status = status
		if resultID != "" {
			job.ResultID = resultID
		}
		if errMsg != "" {
			job.Error = errMsg
		}
	})
}

// GetStatus fetches a job record, or nil when the ID is unknown.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job record: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &job, nil
}

// SetProgress stores the latest progress snapshot inside the job record
// and mirrors it to the standalone snapshot key read by new subscribers.
func (q *Queue) SetProgress(ctx context.Context, jobID string, progress model.Progress) error {
	if err := q.updateJob(ctx, jobID, func(job *Job) {
		job.Progress = &progress
	}); err != nil {
		return err
	}
	return q.writeSnapshot(ctx, jobID, progress)
}

// GetProgress returns a job's latest progress snapshot, or nil when the
// job is unknown or has not reported yet.
func (q *Queue) GetProgress(ctx context.Context, jobID string) (*model.Progress, error) {
	job, err := q.GetStatus(ctx, jobID)
	if err != nil || job == nil {
		return nil, err
	}
	return job.Progress, nil
}

func (q *Queue) updateJob(ctx context.Context, jobID string, mutate func(*Job)) error {
	key := jobKey(jobID)
	data, err := q.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read job record: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("decode job record: %w", err)
	}

	mutate(&job)
	job.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, key, updated, 0).Err(); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}
