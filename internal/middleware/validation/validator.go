package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// QuestionKey is the fiber local holding the sanitised question of a query request.
const QuestionKey = "question"

var markupPatterns = []string{"<script", "<iframe", "javascript:", "onerror=", "onload=", "onclick="}

type Config struct {
	QueriesPath         string
	DocumentsPath       string
	MaxQuestionLength   int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.QueriesPath == "" {
		cfg.QueriesPath = "/api/v1/queries"
	}
	if cfg.DocumentsPath == "" {
		cfg.DocumentsPath = "/api/v1/documents"
	}
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedContentType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		switch strings.TrimSuffix(c.Path(), "/") {
		case cfg.QueriesPath:
			return validateQuestion(c, cfg)
		case cfg.DocumentsPath:
			if !strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Documents must be uploaded as multipart/form-data",
				})
			}
		}

		return c.Next()
	}
}

func validateQuestion(c *fiber.Ctx, cfg Config) error {
	var req struct {
		Question *string `json:"question"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	if req.Question == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required and must be a string",
		})
	}

	question := sanitizeString(*req.Question)
	if question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question must not be empty",
		})
	}
	if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question exceeds maximum length",
		})
	}
	if containsMarkup(question) {
		cfg.Logger.Warn("Rejected question containing markup",
			zap.String("ip", c.IP()),
			zap.String("question", question),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid question content",
		})
	}

	c.Locals(QuestionKey, question)
	return c.Next()
}

func allowedContentType(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.HasPrefix(contentType, a) {
			return true
		}
	}
	return false
}

func containsMarkup(input string) bool {
	lower := strings.ToLower(input)
	for _, p := range markupPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
