package http

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"

	"trawler/internal/metrics"
)

// resultHandler serves a stored crawl result by its fingerprint.
func (s *Server) resultHandler(c *fiber.Ctx) error {
	rID := c.Params("r_id")

	result, err := s.store.LoadResult(c.Context(), rID)
	if err != nil {
		metrics.RecordCacheOp("load", "miss")
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   fmt.Sprintf("Not found result with id: %s", rID),
		})
	}
	metrics.RecordCacheOp("load", "hit")
	return c.JSON(result)
}

// screenshotHandler serves the base-page screenshot for a result.
func (s *Server) screenshotHandler(c *fiber.Ctx) error {
	rID := c.Params("r_id")

	path := s.store.File().ScreenshotPath(rID)
	if _, err := os.Stat(path); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   fmt.Sprintf("Not found result with id: %s", rID),
		})
	}
	c.Type("png")
	return c.SendFile(path)
}

// cacheStatsHandler exposes the tiered cache's state.
func (s *Server) cacheStatsHandler(c *fiber.Ctx) error {
	stats, err := s.store.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	return c.JSON(stats)
}

// cacheDeleteHandler evicts a stored result from every tier.
func (s *Server) cacheDeleteHandler(c *fiber.Ctx) error {
	rID := c.Params("r_id")

	deleted, err := s.store.Delete(c.Context(), rID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   err.Error(),
		})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   fmt.Sprintf("Not found result with id: %s", rID),
		})
	}
	metrics.RecordCacheOp("delete", "ok")
	return c.JSON(fiber.Map{"success": true, "deleted": rID})
}
