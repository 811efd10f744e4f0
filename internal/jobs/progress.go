package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"trawler/internal/model"
)

// ProgressChannel is the broadcast topic carrying {job_id, progress}
// messages for every running job; subscribers filter by job ID.
const ProgressChannel = "deep_scrape_progress"

const progressKeyPrefix = "job_progress:"

func progressKey(jobID string) string {
	return progressKeyPrefix + jobID
}

// progressMessage is the wire format published on ProgressChannel.
type progressMessage struct {
	JobID    string         `json:"job_id"`
	Progress model.Progress `json:"progress"`
}

// writeSnapshot keeps the per-job snapshot key current so subscribers
// that attach late (or after completion) see the latest state on connect.
func (q *Queue) writeSnapshot(ctx context.Context, jobID string, progress model.Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, progressKey(jobID), data, 0).Err(); err != nil {
		return fmt.Errorf("write progress snapshot: %w", err)
	}
	return nil
}

// GetSnapshot reads the standalone snapshot key, or nil when the job has
// not reported progress yet.
func (q *Queue) GetSnapshot(ctx context.Context, jobID string) (*model.Progress, error) {
	data, err := q.rdb.Get(ctx, progressKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress snapshot: %w", err)
	}
	var progress model.Progress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

// PublishProgress fans a progress update out to every subscriber of the
// broadcast topic. Publish failures are logged, never fatal: progress
// delivery is at-least-once via the snapshot key.
func (q *Queue) PublishProgress(ctx context.Context, jobID string, progress model.Progress) error {
	msg, err := json.Marshal(progressMessage{JobID: jobID, Progress: progress})
	if err != nil {
		return err
	}
	if err := q.rdb.Publish(ctx, ProgressChannel, msg).Err(); err != nil {
		q.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to publish progress")
		return err
	}
	return nil
}

// SubscribeProgress attaches to the broadcast topic and delivers the
// snapshots for one job on the returned channel. The channel closes when
// ctx is canceled or a terminal snapshot (percent 100 with a status) has
// been delivered. Callers must invoke the returned cancel function.
func (q *Queue) SubscribeProgress(ctx context.Context, jobID string) (<-chan model.Progress, func()) {
	pubsub := q.rdb.Subscribe(ctx, ProgressChannel)
	out := make(chan model.Progress, 8)

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var pm progressMessage
				if err := json.Unmarshal([]byte(msg.Payload), &pm); err != nil {
					q.logger.Warn().Err(err).Msg("malformed progress message")
					continue
				}
				if pm.JobID != jobID {
					continue
				}
				select {
				case out <- pm.Progress:
				case <-ctx.Done():
					return
				}
				if pm.Progress.Percent >= 100 && pm.Progress.Status != "" {
					return
				}
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
