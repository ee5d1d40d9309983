package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/extraction"
	"github.com/docsynth/backend/internal/ingestion"
	"github.com/docsynth/backend/internal/query"
	"github.com/docsynth/backend/pkg/logger"
)

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ingestion.ErrDocumentNotFound),
		errors.Is(err, query.ErrQueryNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ingestion.ErrInvalidTransition),
		errors.Is(err, query.ErrNoProcessedDocuments):
		return fiber.StatusConflict
	case errors.Is(err, ingestion.ErrFileNotAllowed),
		errors.Is(err, extraction.ErrUnsupportedFileType),
		errors.Is(err, query.ErrEmptyQuestion):
		return fiber.StatusBadRequest
	case errors.Is(err, ingestion.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Internal errors are logged and
// replaced by fallback so that storage details do not leak to clients.
func respondError(c *fiber.Ctx, err error, fallback string) error {
	status := StatusFor(err)
	if status == fiber.StatusInternalServerError {
		logger.Error(fallback, zap.String("path", c.Path()), zap.Error(err))
		return c.Status(status).JSON(fiber.Map{"error": fallback})
	}

	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return int64(id), nil
}
