package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/docsynth/backend/internal/middleware/validation"
	"github.com/docsynth/backend/internal/query"
	"github.com/docsynth/backend/internal/storage/models"
)

type QueryHandler struct {
	queryEngine *query.Engine
}

func NewQueryHandler(queryEngine *query.Engine) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	question, ok := c.Locals(validation.QuestionKey).(string)
	if !ok {
		var req struct {
			Question string `json:"question"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		question = req.Question
	}

	response, err := h.queryEngine.ProcessQuery(c.Context(), question)
	if err != nil {
		return respondError(c, err, "Failed to process query")
	}

	return c.JSON(response)
}

func (h *QueryHandler) GetQuery(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	response, err := h.queryEngine.GetQuery(id)
	if err != nil {
		return respondError(c, err, "Failed to get query")
	}

	return c.JSON(response)
}

func (h *QueryHandler) RecentQueries(c *fiber.Ctx) error {
	records, err := h.queryEngine.RecentQueries(c.QueryInt("limit", query.RecentQueryLimit))
	if err != nil {
		return respondError(c, err, "Failed to list queries")
	}
	if records == nil {
		records = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"queries": records,
	})
}

func (h *QueryHandler) FollowUps(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	questions, err := h.queryEngine.FollowUps(c.Context(), id)
	if err != nil {
		return respondError(c, err, "Failed to generate follow-up questions")
	}

	return c.JSON(fiber.Map{
		"query_id":            id,
		"follow_up_questions": questions,
	})
}
