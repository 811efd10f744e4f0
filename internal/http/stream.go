package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"trawler/internal/model"
)

// streamProgressHandler streams a job's progress as server-sent events.
// The client first receives the latest snapshot (so late subscribers see
// current state immediately), then live updates from the broadcast
// topic. The stream closes after a terminal snapshot.
func (s *Server) streamProgressHandler(c *fiber.Ctx) error {
	if s.queue == nil {
		return queueUnavailable(c)
	}

	jobID := c.Params("job_id")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	queue := s.queue
	logger := s.logger

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Subscribe before replaying the snapshot so no update published
		// in between is lost; duplicates are fine, regressions are not.
		updates, unsubscribe := queue.SubscribeProgress(ctx, jobID)
		defer unsubscribe()

		snapshot, err := queue.GetSnapshot(ctx, jobID)
		if err != nil {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("snapshot read failed")
		}
		if snapshot != nil {
			if writeEvent(w, *snapshot) != nil {
				return
			}
			if terminalProgress(*snapshot) {
				return
			}
		}

		for progress := range updates {
			if writeEvent(w, progress) != nil {
				return
			}
			if terminalProgress(progress) {
				return
			}
		}
	}))

	return nil
}

func writeEvent(w *bufio.Writer, progress model.Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func terminalProgress(p model.Progress) bool {
	return p.Percent >= 100 && (p.Status == "done" || p.Status == "error")
}
