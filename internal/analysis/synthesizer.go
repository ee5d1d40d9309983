package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/llm"
	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/pkg/logger"
)

const (
	// MinThemeConfidence gates which themes are surfaced.
	MinThemeConfidence = 0.7

	FallbackThemeTitle      = "Analysis Result"
	FallbackThemeConfidence = 0.8
)

const synthesizerSystemPrompt = "You are an expert thematic analyst who identifies patterns and synthesizes insights across multiple documents."

const synthesizerPrompt = `Identify the main themes shared by the answers below, which were extracted from different documents for the same question.

Question: %s

Answers:
%s
Available document references: %s

For every theme give a short title, a summary that synthesizes the evidence rather than repeating it, the document references that support it, and your confidence.
Only report themes backed by several sources or by one very strong source. Themes below 0.7 confidence will be discarded.

Reply with a JSON object of this shape:
{"themes": [{"title": "Theme title", "summary": "Synthesis", "supporting_documents": ["DOC001", "DOC002"], "confidence": 0.0 to 1.0}]}`

type rawTheme struct {
	Title               string   `json:"title"`
	Summary             string   `json:"summary"`
	SupportingDocuments []string `json:"supporting_documents"`
	Confidence          float64  `json:"confidence"`
}

type themeReply struct {
	Themes []rawTheme `json:"themes"`
}

type Synthesizer struct {
	model Completer
}

func NewSynthesizer(model Completer) *Synthesizer {
	return &Synthesizer{model: model}
}

// DocumentKey is the short reference the model uses for a document.
func DocumentKey(documentID int64) string {
	return fmt.Sprintf("DOC%03d", documentID)
}

// documentRefs maps document keys to their documents in first-seen order.
type documentRefs struct {
	keys []string
	docs map[string]models.SupportingDocument
}

func newDocumentRefs(answers []models.IndividualAnswer) documentRefs {
	refs := documentRefs{docs: make(map[string]models.SupportingDocument)}
	for _, a := range answers {
		key := DocumentKey(a.DocumentID)
		if _, ok := refs.docs[key]; ok {
			continue
		}
		refs.keys = append(refs.keys, key)
		refs.docs[key] = models.SupportingDocument{
			DocumentKey: key,
			Filename:    a.DocumentFilename,
			DocumentID:  a.DocumentID,
		}
	}
	return refs
}

// Synthesize groups answers into themes. Only themes with confidence of at
// least MinThemeConfidence are returned, in the order the model produced them.
// A failed model call yields no themes.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, answers []models.IndividualAnswer) []models.Theme {
	if len(answers) == 0 {
		return nil
	}

	refs := newDocumentRefs(answers)

	var sb strings.Builder
	for i, a := range answers {
		fmt.Fprintf(&sb, "Answer %d (from %s, %s): %s\n\n", i+1, a.DocumentFilename, DocumentKey(a.DocumentID), a.Answer)
	}

	resp, err := s.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: synthesizerSystemPrompt,
		UserPrompt:   fmt.Sprintf(synthesizerPrompt, question, sb.String(), strings.Join(refs.keys, ", ")),
		JSONMode:     true,
	})
	if err != nil {
		logger.Error("Theme synthesis failed", zap.Error(err), zap.Int("answers", len(answers)))
		return nil
	}

	var reply themeReply
	if err := decodeJSON(resp.Content, &reply); err != nil {
		if !errors.Is(err, errNotJSON) {
			logger.Warn("Discarding malformed theme reply", zap.Error(err))
			return nil
		}
		logger.Warn("Theme reply is not JSON, using raw text")
		reply.Themes = []rawTheme{{
			Title:      FallbackThemeTitle,
			Summary:    strings.TrimSpace(resp.Content),
			Confidence: FallbackThemeConfidence,
		}}
	}

	themes := make([]models.Theme, 0, len(reply.Themes))
	for _, rt := range reply.Themes {
		if rt.Confidence < MinThemeConfidence {
			logger.Debug("Discarding low confidence theme",
				zap.String("title", rt.Title),
				zap.Float64("confidence", rt.Confidence),
			)
			continue
		}

		theme := models.Theme{
			Title:               rt.Title,
			Summary:             rt.Summary,
			SupportingDocuments: []models.SupportingDocument{},
			Confidence:          clamp01(rt.Confidence),
		}
		seen := make(map[string]bool, len(rt.SupportingDocuments))
		for _, key := range rt.SupportingDocuments {
			key = strings.ToUpper(strings.TrimSpace(key))
			doc, ok := refs.docs[key]
			if !ok {
				logger.Debug("Dropping unknown document reference", zap.String("document_key", key))
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			theme.SupportingDocuments = append(theme.SupportingDocuments, doc)
		}

		metrics.ConfidenceScore.WithLabelValues("theme").Observe(theme.Confidence)
		themes = append(themes, theme)
	}

	metrics.ThemesSurfaced.Observe(float64(len(themes)))
	return themes
}
