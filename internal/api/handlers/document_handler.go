package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/extraction"
	"github.com/docsynth/backend/internal/ingestion"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
}

func NewDocumentHandler(processor *ingestion.Processor) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
	}
}

type uploadResult struct {
	Filename   string        `json:"filename"`
	DocumentID int64         `json:"document_id,omitempty"`
	Status     models.Status `json:"status,omitempty"`
	FileSize   string        `json:"file_size,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// UploadDocuments stores and processes every file of the multipart field
// "files". One failing file does not stop the others.
func (h *DocumentHandler) UploadDocuments(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid multipart form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files uploaded",
		})
	}

	results := make([]uploadResult, 0, len(files))
	processed := 0

	for _, fh := range files {
		result := uploadResult{Filename: fh.Filename}

		f, err := fh.Open()
		if err != nil {
			result.Error = "failed to read upload"
			results = append(results, result)
			continue
		}

		doc, err := h.processor.SaveUpload(c.Context(), fh.Filename, f)
		f.Close()
		if err != nil {
			logger.Warn("Upload rejected", zap.String("filename", fh.Filename), zap.Error(err))
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		result.DocumentID = doc.ID
		result.FileSize = extraction.HumanSize(doc.FileSize)

		if err := h.processor.ProcessDocument(c.Context(), doc.ID); err != nil {
			result.Status = models.StatusFailed
			result.Error = err.Error()
		} else {
			result.Status = models.StatusCompleted
			processed++
		}
		results = append(results, result)
	}

	return c.JSON(fiber.Map{
		"documents": results,
		"processed": processed,
		"total":     len(files),
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.processor.ListDocuments()
	if err != nil {
		return respondError(c, err, "Failed to list documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}

	return c.JSON(fiber.Map{
		"documents": docs,
		"total":     len(docs),
	})
}

func (h *DocumentHandler) GetDocumentStatus(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	doc, err := h.processor.GetDocument(id)
	if err != nil {
		return respondError(c, err, "Failed to get document")
	}

	return c.JSON(fiber.Map{
		"id":                doc.ID,
		"filename":          doc.OriginalFilename,
		"processing_status": doc.Status,
		"error_message":     doc.ErrorMessage,
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := h.processor.DeleteDocument(c.Context(), id); err != nil {
		return respondError(c, err, "Failed to delete document")
	}

	return c.JSON(fiber.Map{
		"message": "Document deleted",
		"id":      id,
	})
}

func (h *DocumentHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.processor.Stats(c.Context())
	if err != nil {
		return respondError(c, err, "Failed to get stats")
	}

	return c.JSON(stats)
}
