package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/docsynth/backend/internal/llm"
	"github.com/docsynth/backend/internal/storage/models"
)

const followUpSystemPrompt = "You are a helpful assistant that suggests insightful follow-up questions."

const followUpPrompt = `Suggest 3 to 5 follow-up questions that would help the user explore the themes below in more depth.

Original question: %s

Themes:
%s
Reply with a JSON object of this shape:
{"follow_up_questions": ["question 1", "question 2", "question 3"]}`

type FollowUpGenerator struct {
	model Completer
}

func NewFollowUpGenerator(model Completer) *FollowUpGenerator {
	return &FollowUpGenerator{model: model}
}

// Generate suggests follow-up questions for the themes of an answered query.
// No themes means no suggestions and no model call.
func (g *FollowUpGenerator) Generate(ctx context.Context, question string, themes []models.Theme) ([]string, error) {
	if len(themes) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	for _, t := range themes {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Title, t.Summary)
	}

	resp, err := g.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: followUpSystemPrompt,
		UserPrompt:   fmt.Sprintf(followUpPrompt, question, sb.String()),
		Temperature:  0.3,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate follow-up questions: %w", err)
	}

	var reply struct {
		Questions []string `json:"follow_up_questions"`
	}
	if err := decodeJSON(resp.Content, &reply); err != nil {
		return nil, fmt.Errorf("failed to parse follow-up questions: %w", err)
	}

	questions := make([]string, 0, len(reply.Questions))
	for _, q := range reply.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	return questions, nil
}
