// Package query answers questions against the processed document set.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/analysis"
	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/internal/retrieval"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/internal/storage/sqlite"
	"github.com/docsynth/backend/pkg/config"
	"github.com/docsynth/backend/pkg/logger"
)

var (
	ErrEmptyQuestion        = errors.New("question must not be empty")
	ErrNoProcessedDocuments = errors.New("no processed documents available, upload and process documents first")
	ErrQueryNotFound        = errors.New("query not found")
)

// RecentQueryLimit is the number of queries RecentQueries returns by default.
const RecentQueryLimit = 5

type Stage string

const (
	StageRetrieving   Stage = "retrieving"
	StageExtracting   Stage = "extracting"
	StageSynthesizing Stage = "synthesizing"
	StageCompleted    Stage = "completed"
)

// ProgressFunc is told when the pipeline enters a stage. count is the number
// of items the stage starts with.
type ProgressFunc func(stage Stage, count int)

// Cache stores finished responses by question.
type Cache interface {
	GetQuery(ctx context.Context, question string, response any) (bool, error)
	SetQuery(ctx context.Context, question string, response any) error
}

type Engine struct {
	db          *sqlite.Client
	retriever   *retrieval.Coordinator
	extractor   *analysis.Extractor
	synthesizer *analysis.Synthesizer
	followUps   *analysis.FollowUpGenerator
	cache       Cache

	maxDocuments int
	threshold    float64
}

type Result struct {
	Answers []models.IndividualAnswer
	Themes  []models.Theme
}

type QueryResponse struct {
	QueryID           int64                     `json:"query_id"`
	Question          string                    `json:"question"`
	IndividualAnswers []models.IndividualAnswer `json:"individual_answers"`
	Themes            []models.Theme            `json:"themes"`
	ProcessingTime    float64                   `json:"processing_time"`
	UniqueDocuments   int                       `json:"unique_documents"`
	Cached            bool                      `json:"cached"`
}

// NewEngine wires the query pipeline. cache may be nil.
func NewEngine(
	db *sqlite.Client,
	retriever *retrieval.Coordinator,
	model analysis.Completer,
	cache Cache,
	processing config.ProcessingConfig,
) *Engine {
	return &Engine{
		db:           db,
		retriever:    retriever,
		extractor:    analysis.NewExtractor(model),
		synthesizer:  analysis.NewSynthesizer(model),
		followUps:    analysis.NewFollowUpGenerator(model),
		cache:        cache,
		maxDocuments: processing.MaxDocumentsPerQuery,
		threshold:    processing.SimilarityThreshold,
	}
}

// Answer runs retrieval, answer extraction and theme synthesis for question
// without touching query history.
func (e *Engine) Answer(ctx context.Context, question string, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(Stage, int) {}
	}

	progress(StageRetrieving, e.maxDocuments)
	start := time.Now()
	chunks, err := e.retriever.SearchSimilarChunks(ctx, question, e.maxDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	relevant := make([]retrieval.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= e.threshold {
			relevant = append(relevant, c)
		}
	}
	metrics.RetrievedChunks.Observe(float64(len(relevant)))
	metrics.QueryDuration.WithLabelValues("retrieval").Observe(time.Since(start).Seconds())

	logger.Debug("Chunks retrieved",
		zap.Int("candidates", len(chunks)),
		zap.Int("relevant", len(relevant)),
		zap.Float64("threshold", e.threshold),
	)

	progress(StageExtracting, len(relevant))
	start = time.Now()
	answers := e.extractor.Extract(ctx, question, relevant)
	metrics.QueryDuration.WithLabelValues("extraction").Observe(time.Since(start).Seconds())

	progress(StageSynthesizing, len(answers))
	start = time.Now()
	themes := e.synthesizer.Synthesize(ctx, question, answers)
	metrics.QueryDuration.WithLabelValues("synthesis").Observe(time.Since(start).Seconds())

	return &Result{Answers: answers, Themes: themes}, nil
}

func (e *Engine) ProcessQuery(ctx context.Context, question string) (*QueryResponse, error) {
	return e.ProcessQueryWithProgress(ctx, question, nil)
}

// ProcessQueryWithProgress answers question and records it in query history.
// Every call gets a new record; a cache hit copies the cached results into it.
// It fails with ErrNoProcessedDocuments before any model call when nothing has
// been processed yet.
func (e *Engine) ProcessQueryWithProgress(ctx context.Context, question string, progress ProgressFunc) (*QueryResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	counts, err := e.db.CountDocumentsByStatus()
	if err != nil {
		return nil, err
	}
	if counts.Completed == 0 {
		metrics.QueryTotal.WithLabelValues("no_documents").Inc()
		return nil, ErrNoProcessedDocuments
	}

	start := time.Now()
	record := &models.QueryRecord{Question: question, CreatedAt: start}
	if err := e.db.InsertQuery(record); err != nil {
		return nil, err
	}

	logger.Info("Processing query",
		zap.Int64("query_id", record.ID),
		zap.String("question", question),
	)

	if hit, ok := e.cached(ctx, question); ok {
		record.IndividualAnswers = hit.IndividualAnswers
		record.Themes = hit.Themes
		record.ProcessingTime = time.Since(start).Seconds()
		if err := e.db.UpdateQueryResults(record); err != nil {
			e.discard(record.ID)
			return nil, err
		}

		resp := newResponse(record)
		resp.Cached = true
		if progress != nil {
			progress(StageCompleted, len(resp.Themes))
		}
		return resp, nil
	}

	result, err := e.Answer(ctx, question, progress)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		e.discard(record.ID)
		return nil, err
	}

	record.IndividualAnswers = result.Answers
	record.Themes = result.Themes
	record.ProcessingTime = time.Since(start).Seconds()
	if err := e.db.UpdateQueryResults(record); err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		e.discard(record.ID)
		return nil, err
	}

	metrics.QueryTotal.WithLabelValues("success").Inc()
	metrics.QueryDuration.WithLabelValues("total").Observe(record.ProcessingTime)

	resp := newResponse(record)
	if progress != nil {
		progress(StageCompleted, len(resp.Themes))
	}

	logger.Info("Query processed",
		zap.Int64("query_id", record.ID),
		zap.Int("answers", len(resp.IndividualAnswers)),
		zap.Int("themes", len(resp.Themes)),
		zap.Float64("processing_time", record.ProcessingTime),
	)

	if e.cache != nil {
		if err := e.cache.SetQuery(ctx, question, resp); err != nil {
			logger.Warn("Failed to cache query result", zap.Error(err))
		}
	}

	return resp, nil
}

// discard removes a query record whose results could not be produced, so
// history only holds answered questions.
func (e *Engine) discard(id int64) {
	if err := e.db.DeleteQuery(id); err != nil {
		logger.Error("Failed to remove unanswered query record", zap.Int64("query_id", id), zap.Error(err))
	}
}

func (e *Engine) cached(ctx context.Context, question string) (*QueryResponse, bool) {
	if e.cache == nil {
		return nil, false
	}

	var resp QueryResponse
	hit, err := e.cache.GetQuery(ctx, question, &resp)
	if err != nil {
		logger.Warn("Query cache lookup failed", zap.Error(err))
		return nil, false
	}
	if !hit {
		return nil, false
	}

	metrics.QueryTotal.WithLabelValues("cached").Inc()
	resp.Cached = true
	return &resp, true
}

func newResponse(record *models.QueryRecord) *QueryResponse {
	answers := record.IndividualAnswers
	if answers == nil {
		answers = []models.IndividualAnswer{}
	}
	themes := record.Themes
	if themes == nil {
		themes = []models.Theme{}
	}

	return &QueryResponse{
		QueryID:           record.ID,
		Question:          record.Question,
		IndividualAnswers: answers,
		Themes:            themes,
		ProcessingTime:    record.ProcessingTime,
		UniqueDocuments:   record.UniqueDocumentCount(),
	}
}

func (e *Engine) GetQuery(id int64) (*QueryResponse, error) {
	record, err := e.db.GetQuery(id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrQueryNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return newResponse(record), nil
}

func (e *Engine) RecentQueries(limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = RecentQueryLimit
	}
	return e.db.RecentQueries(limit)
}

// FollowUps suggests further questions from the themes of a recorded query.
func (e *Engine) FollowUps(ctx context.Context, id int64) ([]string, error) {
	resp, err := e.GetQuery(id)
	if err != nil {
		return nil, err
	}

	questions, err := e.followUps.Generate(ctx, resp.Question, resp.Themes)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []string{}
	}
	return questions, nil
}
