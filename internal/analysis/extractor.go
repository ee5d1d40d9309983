package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/llm"
	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/internal/retrieval"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/pkg/logger"
)

const (
	NoAnswerText = "no relevant answer found"

	// FallbackAnswerConfidence is assigned when the reply is not JSON and the raw
	// text is used as the answer.
	FallbackAnswerConfidence = 0.5
)

const extractorSystemPrompt = "You are a precise document analyst that extracts specific answers from text."

const extractorPrompt = `Answer the question using only the document excerpt below.
If the excerpt does not answer it, reply with the answer "No relevant answer found" and relevant set to false.

Question: %s

Document excerpt:
%s

Reply with a JSON object of this shape:
{"answer": "the extracted answer", "confidence": 0.0 to 1.0, "relevant": true or false}`

type extraction struct {
	Answer     *string  `json:"answer"`
	Confidence *float64 `json:"confidence"`
	Relevant   bool     `json:"relevant"`
}

type Extractor struct {
	model Completer
}

func NewExtractor(model Completer) *Extractor {
	return &Extractor{model: model}
}

// Extract asks the model about every chunk in turn and returns the relevant
// answers ordered by confidence, then similarity. A chunk whose model call
// fails is skipped.
func (e *Extractor) Extract(ctx context.Context, question string, chunks []retrieval.ScoredChunk) []models.IndividualAnswer {
	answers := make([]models.IndividualAnswer, 0, len(chunks))

	for _, sc := range chunks {
		if err := ctx.Err(); err != nil {
			logger.Warn("Answer extraction cancelled", zap.Error(err))
			break
		}

		answer, ok, err := e.extractOne(ctx, question, sc)
		if err != nil {
			metrics.ChunkSkips.Inc()
			logger.Warn("Skipping chunk after answer extraction failed",
				zap.Int64("document_id", sc.Chunk.DocumentID),
				zap.Int("chunk_index", sc.Chunk.ChunkIndex),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}

		metrics.ConfidenceScore.WithLabelValues("answer").Observe(answer.Confidence)
		answers = append(answers, answer)
	}

	sort.SliceStable(answers, func(i, j int) bool {
		if answers[i].Confidence != answers[j].Confidence {
			return answers[i].Confidence > answers[j].Confidence
		}
		return answers[i].SimilarityScore > answers[j].SimilarityScore
	})

	return answers
}

func (e *Extractor) extractOne(ctx context.Context, question string, sc retrieval.ScoredChunk) (models.IndividualAnswer, bool, error) {
	resp, err := e.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: extractorSystemPrompt,
		UserPrompt:   fmt.Sprintf(extractorPrompt, question, sc.Chunk.Content),
		JSONMode:     true,
	})
	if err != nil {
		return models.IndividualAnswer{}, false, err
	}

	text, confidence, relevant, err := parseExtraction(resp.Content)
	if err != nil {
		return models.IndividualAnswer{}, false, err
	}
	if !relevant || strings.TrimSpace(text) == "" || isNoAnswer(text) {
		logger.Debug("Chunk holds no answer",
			zap.Int64("document_id", sc.Chunk.DocumentID),
			zap.Int("chunk_index", sc.Chunk.ChunkIndex),
		)
		return models.IndividualAnswer{}, false, nil
	}

	chunk := sc.Chunk
	return models.IndividualAnswer{
		DocumentID:       chunk.DocumentID,
		DocumentFilename: chunk.DocumentFilename,
		Answer:           text,
		Citation:         models.Citation(chunk.PageNumber, chunk.ParagraphNumber),
		Confidence:       confidence,
		SimilarityScore:  sc.Score,
		PageNumber:       chunk.PageNumber,
		ParagraphNumber:  chunk.ParagraphNumber,
	}, true, nil
}

// parseExtraction reads a model reply. A reply that is not JSON is taken
// verbatim as a relevant answer of middling confidence; JSON of any other shape
// is an error.
func parseExtraction(raw string) (answer string, confidence float64, relevant bool, err error) {
	var parsed extraction
	if err := decodeJSON(raw, &parsed); err != nil {
		if errors.Is(err, errNotJSON) {
			return strings.TrimSpace(raw), FallbackAnswerConfidence, true, nil
		}
		return "", 0, false, err
	}

	if parsed.Answer == nil {
		return "", 0, false, fmt.Errorf("reply has no answer field")
	}
	if parsed.Confidence != nil {
		confidence = clamp01(*parsed.Confidence)
	}

	return *parsed.Answer, confidence, parsed.Relevant, nil
}

func isNoAnswer(answer string) bool {
	return strings.ToLower(answer) == NoAnswerText
}
