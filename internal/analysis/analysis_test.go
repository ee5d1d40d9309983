package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsynth/backend/internal/llm"
	"github.com/docsynth/backend/internal/retrieval"
	"github.com/docsynth/backend/internal/storage/models"
)

// scriptedModel answers each call with the next reply. An entry in errs at the
// same position makes that call fail.
type scriptedModel struct {
	replies []string
	errs    map[int]error
	calls   []llm.CompletionRequest
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := len(m.calls)
	m.calls = append(m.calls, req)
	if err := m.errs[i]; err != nil {
		return nil, err
	}
	if i >= len(m.replies) {
		return nil, errors.New("unexpected call")
	}
	return &llm.CompletionResponse{Content: m.replies[i]}, nil
}

func scored(docID int64, idx, page, para int, content string, score float64) retrieval.ScoredChunk {
	return retrieval.ScoredChunk{
		Chunk: models.DocumentChunk{
			DocumentID:       docID,
			ChunkIndex:       idx,
			PageNumber:       page,
			ParagraphNumber:  para,
			Content:          content,
			DocumentFilename: "file" + string(rune('0'+docID)) + ".pdf",
		},
		Score: score,
	}
}

func TestExtract_FiltersAndOrders(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"answer": "Fine of 100 EUR", "confidence": 0.8, "relevant": true}`,
		`{"answer": "No relevant answer found", "confidence": 0.9, "relevant": true}`,
		`{"answer": "Something", "confidence": 0.9, "relevant": false}`,
		`{"answer": "Fine of 200 EUR", "confidence": 0.8, "relevant": true}`,
		`{"answer": "Late fees apply", "confidence": 0.95, "relevant": true}`,
	}}
	chunks := []retrieval.ScoredChunk{
		scored(1, 0, 1, 1, "penalty one", 0.7),
		scored(1, 1, 1, 2, "unrelated", 0.9),
		scored(2, 0, 1, 1, "other", 1.0),
		scored(2, 1, 1, 2, "penalty two", 1.0),
		scored(3, 4, 1, 5, "late fees", 0.75),
	}

	answers := NewExtractor(model).Extract(context.Background(), "What are the penalties?", chunks)

	require.Len(t, answers, 3)
	assert.Equal(t, "Late fees apply", answers[0].Answer)
	// equal confidence: higher similarity first
	assert.Equal(t, "Fine of 200 EUR", answers[1].Answer)
	assert.Equal(t, "Fine of 100 EUR", answers[2].Answer)

	assert.Equal(t, "Page 1, Para 5", answers[0].Citation)
	assert.Equal(t, int64(3), answers[0].DocumentID)
	assert.Equal(t, "file3.pdf", answers[0].DocumentFilename)
	assert.Equal(t, 0.75, answers[0].SimilarityScore)
	assert.Equal(t, 5, answers[0].ParagraphNumber)

	require.Len(t, model.calls, 5)
	assert.True(t, model.calls[0].JSONMode)
	assert.Contains(t, model.calls[0].UserPrompt, "What are the penalties?")
	assert.Contains(t, model.calls[0].UserPrompt, "penalty one")
}

func TestExtract_MalformedReplyKeepsRawText(t *testing.T) {
	model := &scriptedModel{replies: []string{"The penalty is a fine."}}

	answers := NewExtractor(model).Extract(context.Background(), "q", []retrieval.ScoredChunk{scored(1, 0, 1, 1, "c", 0.8)})

	require.Len(t, answers, 1)
	assert.Equal(t, "The penalty is a fine.", answers[0].Answer)
	assert.Equal(t, FallbackAnswerConfidence, answers[0].Confidence)
}

func TestExtract_CodeFencedReply(t *testing.T) {
	model := &scriptedModel{replies: []string{"```json\n{\"answer\": \"fenced\", \"confidence\": 0.9, \"relevant\": true}\n```"}}

	answers := NewExtractor(model).Extract(context.Background(), "q", []retrieval.ScoredChunk{scored(1, 0, 1, 1, "c", 0.8)})

	require.Len(t, answers, 1)
	assert.Equal(t, "fenced", answers[0].Answer)
	assert.Equal(t, 0.9, answers[0].Confidence)
}

func TestExtract_SkipsFailedChunks(t *testing.T) {
	model := &scriptedModel{
		replies: []string{
			"",
			`{"answer": "second", "confidence": 0.7, "relevant": true}`,
			`{"confidence": 0.7, "relevant": true}`,
		},
		errs: map[int]error{0: errors.New("timeout")},
	}
	chunks := []retrieval.ScoredChunk{
		scored(1, 0, 1, 1, "a", 1),
		scored(1, 1, 1, 2, "b", 1),
		scored(1, 2, 1, 3, "c", 1),
	}

	answers := NewExtractor(model).Extract(context.Background(), "q", chunks)

	require.Len(t, answers, 1)
	assert.Equal(t, "second", answers[0].Answer)
	assert.Len(t, model.calls, 3)
}

func TestExtract_WrongShapeJSONSkipsChunk(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"answer": 42, "confidence": 0.9, "relevant": true}`,
		`["x"]`,
		`{"answer": "maybe", "confidence": "high", "relevant": true}`,
		"```json\n{\"answer\": true}\n```",
		`{"answer": "kept", "confidence": 0.6, "relevant": true}`,
	}}
	chunks := []retrieval.ScoredChunk{
		scored(1, 0, 1, 1, "a", 1),
		scored(1, 1, 1, 2, "b", 1),
		scored(1, 2, 1, 3, "c", 1),
		scored(1, 3, 1, 4, "d", 1),
		scored(1, 4, 1, 5, "e", 1),
	}

	answers := NewExtractor(model).Extract(context.Background(), "q", chunks)

	require.Len(t, answers, 1)
	assert.Equal(t, "kept", answers[0].Answer)
	assert.Equal(t, 0.6, answers[0].Confidence)
	assert.Len(t, model.calls, 5)
}

func TestExtract_NoChunks(t *testing.T) {
	model := &scriptedModel{}
	assert.Empty(t, NewExtractor(model).Extract(context.Background(), "q", nil))
	assert.Empty(t, model.calls)
}

func answersFor(docs ...int64) []models.IndividualAnswer {
	var out []models.IndividualAnswer
	for _, d := range docs {
		out = append(out, models.IndividualAnswer{
			DocumentID:       d,
			DocumentFilename: "file" + string(rune('0'+d)) + ".pdf",
			Answer:           "answer from " + string(rune('0'+d)),
		})
	}
	return out
}

func TestSynthesize_ConfidenceGate(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"themes": [
		{"title": "Weak", "summary": "s1", "supporting_documents": ["DOC001"], "confidence": 0.65},
		{"title": "Strong", "summary": "s2", "supporting_documents": ["DOC002", "DOC001", "DOC999"], "confidence": 0.95},
		{"title": "Borderline", "summary": "s3", "supporting_documents": [], "confidence": 0.7}
	]}`}}

	themes := NewSynthesizer(model).Synthesize(context.Background(), "q", answersFor(1, 2, 1))

	require.Len(t, themes, 2)
	assert.Equal(t, "Strong", themes[0].Title)
	assert.Equal(t, 0.95, themes[0].Confidence)
	assert.Equal(t, []models.SupportingDocument{
		{DocumentKey: "DOC002", Filename: "file2.pdf", DocumentID: 2},
		{DocumentKey: "DOC001", Filename: "file1.pdf", DocumentID: 1},
	}, themes[0].SupportingDocuments)
	assert.Equal(t, "Borderline", themes[1].Title)
	assert.Empty(t, themes[1].SupportingDocuments)

	require.Len(t, model.calls, 1)
	prompt := model.calls[0].UserPrompt
	assert.Contains(t, prompt, "Answer 1 (from file1.pdf, DOC001): answer from 1")
	assert.Contains(t, prompt, "Answer 2 (from file2.pdf, DOC002)")
	assert.Contains(t, prompt, "DOC001, DOC002")
}

func TestSynthesize_EmptyAnswersSkipsModel(t *testing.T) {
	model := &scriptedModel{}

	assert.Empty(t, NewSynthesizer(model).Synthesize(context.Background(), "q", nil))
	assert.Empty(t, model.calls)
}

func TestSynthesize_MalformedReply(t *testing.T) {
	model := &scriptedModel{replies: []string{"Both contracts impose fines."}}

	themes := NewSynthesizer(model).Synthesize(context.Background(), "q", answersFor(1))

	require.Len(t, themes, 1)
	assert.Equal(t, FallbackThemeTitle, themes[0].Title)
	assert.Equal(t, "Both contracts impose fines.", themes[0].Summary)
	assert.Equal(t, FallbackThemeConfidence, themes[0].Confidence)
	assert.Empty(t, themes[0].SupportingDocuments)
}

func TestSynthesize_WrongShapeJSONYieldsNoThemes(t *testing.T) {
	replies := []string{
		`{"themes": [{"title": "Weak", "summary": "s", "supporting_documents": ["DOC001"], "confidence": "0.2"}]}`,
		`{"themes": "none"}`,
		`[{"title": "Listed", "confidence": 0.9}]`,
	}

	for _, reply := range replies {
		model := &scriptedModel{replies: []string{reply}}
		themes := NewSynthesizer(model).Synthesize(context.Background(), "q", answersFor(1))
		assert.Empty(t, themes, reply)
	}
}

func TestSynthesize_ModelErrorYieldsNoThemes(t *testing.T) {
	model := &scriptedModel{errs: map[int]error{0: errors.New("quota exceeded")}}

	assert.Empty(t, NewSynthesizer(model).Synthesize(context.Background(), "q", answersFor(1)))
}

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "DOC007", DocumentKey(7))
	assert.Equal(t, "DOC1234", DocumentKey(1234))
}

func TestFollowUps(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"follow_up_questions": ["How are fines calculated?", " ", "Who enforces them?"]}`}}
	themes := []models.Theme{{Title: "Penalties", Summary: "Fines apply."}}

	questions, err := NewFollowUpGenerator(model).Generate(context.Background(), "q", themes)
	require.NoError(t, err)
	assert.Equal(t, []string{"How are fines calculated?", "Who enforces them?"}, questions)
	assert.True(t, strings.Contains(model.calls[0].UserPrompt, "- Penalties: Fines apply."))
}

func TestFollowUps_NoThemes(t *testing.T) {
	model := &scriptedModel{}

	questions, err := NewFollowUpGenerator(model).Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, questions)
	assert.Empty(t, model.calls)
}

func TestFollowUps_Errors(t *testing.T) {
	themes := []models.Theme{{Title: "t"}}

	_, err := NewFollowUpGenerator(&scriptedModel{errs: map[int]error{0: errors.New("down")}}).Generate(context.Background(), "q", themes)
	assert.Error(t, err)

	_, err = NewFollowUpGenerator(&scriptedModel{replies: []string{"not json"}}).Generate(context.Background(), "q", themes)
	assert.Error(t, err)
}
