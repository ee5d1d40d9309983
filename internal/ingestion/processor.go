// Package ingestion turns uploaded files into indexed, citation-tracked chunks.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/chunker"
	"github.com/docsynth/backend/internal/extraction"
	"github.com/docsynth/backend/internal/index"
	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/internal/storage/sqlite"
	"github.com/docsynth/backend/pkg/config"
	"github.com/docsynth/backend/pkg/logger"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidTransition = errors.New("document is not pending")
	ErrNoTextExtracted   = errors.New("no text could be extracted from the document")
	ErrFileNotAllowed    = errors.New("file type not allowed")
	ErrFileTooLarge      = errors.New("file exceeds the upload size limit")
)

// CacheInvalidator drops cached query results once the document set changes.
type CacheInvalidator interface {
	InvalidateDocumentCache(ctx context.Context) error
}

type Processor struct {
	// mu serialises every operation that mutates the index.
	mu sync.Mutex

	db        *sqlite.Client
	index     index.Index
	extractor *extraction.Extractor
	chunker   *chunker.Chunker
	cache     CacheInvalidator

	uploadDir         string
	maxFileSize       int64
	allowedExtensions []string
}

type SystemStats struct {
	Documents    models.DocumentCounts `json:"documents"`
	TotalQueries int                   `json:"total_queries"`
	Index        index.Stats           `json:"vector_store"`
}

// NewProcessor wires the ingestion pipeline. cache may be nil.
func NewProcessor(
	db *sqlite.Client,
	idx index.Index,
	extractor *extraction.Extractor,
	cache CacheInvalidator,
	processing config.ProcessingConfig,
	upload config.UploadConfig,
) *Processor {
	return &Processor{
		db:                db,
		index:             idx,
		extractor:         extractor,
		chunker:           chunker.New(processing.ChunkSize),
		cache:             cache,
		uploadDir:         upload.Dir,
		maxFileSize:       upload.MaxFileSize,
		allowedExtensions: processing.AllowedExtensions,
	}
}

// SaveUpload stores the content of r under a unique name in the upload
// directory and records a pending document for it.
func (p *Processor) SaveUpload(ctx context.Context, originalName string, r io.Reader) (*models.Document, error) {
	originalName = filepath.Base(originalName)
	if !extraction.AllowedFile(originalName, p.allowedExtensions) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotAllowed, originalName)
	}
	fileType, ok := extraction.FileTypeFor(originalName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", extraction.ErrUnsupportedFileType, originalName)
	}

	if err := os.MkdirAll(p.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	stored := extraction.StoredFilename(originalName)
	path := filepath.Join(p.uploadDir, stored)

	size, err := p.writeFile(path, r)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	doc := &models.Document{
		Filename:         stored,
		OriginalFilename: originalName,
		FilePath:         path,
		FileType:         fileType,
		FileSize:         size,
		UploadedAt:       time.Now(),
		Status:           models.StatusPending,
	}
	if err := p.db.InsertDocument(doc); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	logger.Info("Upload stored",
		zap.Int64("document_id", doc.ID),
		zap.String("filename", originalName),
		zap.String("size", extraction.HumanSize(size)),
	)

	return doc, nil
}

func (p *Processor) writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	src := r
	if p.maxFileSize > 0 {
		src = io.LimitReader(r, p.maxFileSize+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		return 0, fmt.Errorf("failed to write upload file: %w", err)
	}
	if p.maxFileSize > 0 && n > p.maxFileSize {
		return 0, fmt.Errorf("%w (%s)", ErrFileTooLarge, extraction.HumanSize(p.maxFileSize))
	}

	return n, f.Sync()
}

// IngestFile uploads a local file and processes it straight away.
func (p *Processor) IngestFile(ctx context.Context, path string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := p.SaveUpload(ctx, filepath.Base(path), f)
	if err != nil {
		return nil, err
	}

	if err := p.ProcessDocument(ctx, doc.ID); err != nil {
		return doc, err
	}

	return p.GetDocument(doc.ID)
}

// ProcessDocument extracts, chunks and indexes a pending document. Any failure
// after the document is claimed leaves it failed with the error message stored.
func (p *Processor) ProcessDocument(ctx context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.GetDocument(id)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusPending {
		return fmt.Errorf("%w: document %d is %s", ErrInvalidTransition, id, doc.Status)
	}

	if err := p.db.TransitionDocument(id, models.StatusPending, models.StatusProcessing); err != nil {
		if errors.Is(err, sqlite.ErrStatusConflict) {
			return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		return err
	}
	doc.Status = models.StatusProcessing

	start := time.Now()
	logger.Info("Processing document",
		zap.Int64("document_id", id),
		zap.String("filename", doc.OriginalFilename),
		zap.String("file_type", string(doc.FileType)),
	)

	if err := p.process(ctx, doc); err != nil {
		if markErr := p.db.MarkDocumentFailed(id, err.Error()); markErr != nil {
			logger.Error("Failed to record processing failure", zap.Int64("document_id", id), zap.Error(markErr))
		}
		metrics.DocumentsProcessed.WithLabelValues(string(models.StatusFailed)).Inc()
		return err
	}

	metrics.DocumentsProcessed.WithLabelValues(string(models.StatusCompleted)).Inc()
	logger.Info("Document processed",
		zap.Int64("document_id", id),
		zap.Int("chunks", len(doc.VectorIDs)),
		zap.Int("pages", doc.PageCount),
		zap.Duration("duration", time.Since(start)),
	)

	p.invalidateCache(ctx)
	return nil
}

func (p *Processor) process(ctx context.Context, doc *models.Document) error {
	res, err := p.extractor.Extract(ctx, doc.FilePath, doc.FileType)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return ErrNoTextExtracted
	}

	chunks := p.chunker.Chunk(res.Text, doc.ID)
	if len(chunks) == 0 {
		return ErrNoTextExtracted
	}

	refs, err := p.indexChunks(ctx, doc, chunks)
	if err != nil {
		return err
	}

	doc.ExtractedText = res.Text
	doc.PageCount = res.PageCount
	doc.VectorIDs = refs

	if err := p.db.CompleteDocument(doc, chunks); err != nil {
		p.rollbackIndex(ctx, doc.ID, refs)
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	metrics.ChunksIndexed.Add(float64(len(chunks)))
	p.refreshIndexGauge(ctx)

	logger.Debug("Document extracted",
		zap.Int64("document_id", doc.ID),
		zap.String("method", res.Method),
		zap.Int("characters", len(res.Text)),
	)
	return nil
}

// indexChunks writes every chunk to the index in chunk order. On failure the
// entries already written for this document are removed again.
func (p *Processor) indexChunks(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) ([]string, error) {
	refs := make([]string, 0, len(chunks))

	for i := range chunks {
		chunk := &chunks[i]
		chunkIndex := chunk.ChunkIndex

		ref, err := p.index.Index(ctx, chunk.Content, index.Metadata{
			DocumentID:       doc.ID,
			ChunkIndex:       &chunkIndex,
			PageNumber:       chunk.PageNumber,
			ParagraphNumber:  chunk.ParagraphNumber,
			DocumentFilename: doc.OriginalFilename,
		})
		if err != nil {
			p.rollbackIndex(ctx, doc.ID, refs)
			return nil, fmt.Errorf("failed to index chunk %d: %w", chunkIndex, err)
		}

		chunk.VectorID = ref
		refs = append(refs, ref)
	}

	return refs, nil
}

func (p *Processor) rollbackIndex(ctx context.Context, documentID int64, refs []string) {
	if len(refs) == 0 {
		return
	}
	if err := p.index.Delete(ctx, refs); err != nil {
		logger.Error("Failed to remove partial index entries",
			zap.Int64("document_id", documentID),
			zap.Int("entries", len(refs)),
			zap.Error(err),
		)
	}
}

func (p *Processor) GetDocument(id int64) (*models.Document, error) {
	doc, err := p.db.GetDocument(id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *Processor) ListDocuments() ([]models.Document, error) {
	return p.db.ListDocuments()
}

// DeleteDocument removes the document's index entries, its rows and the
// stored file.
func (p *Processor) DeleteDocument(ctx context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc, err := p.GetDocument(id)
	if err != nil {
		return err
	}

	if len(doc.VectorIDs) > 0 {
		if err := p.index.Delete(ctx, doc.VectorIDs); err != nil {
			return fmt.Errorf("failed to delete index entries: %w", err)
		}
	}

	if err := p.db.DeleteDocument(id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
		}
		return err
	}

	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove stored file", zap.String("path", doc.FilePath), zap.Error(err))
		}
	}

	p.refreshIndexGauge(ctx)
	p.invalidateCache(ctx)

	logger.Info("Document deleted",
		zap.Int64("document_id", id),
		zap.Int("index_entries", len(doc.VectorIDs)),
	)
	return nil
}

// ResetIndex clears every index entry. Documents and chunks stay in the
// database but are no longer retrievable until re-ingested.
func (p *Processor) ResetIndex(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.index.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}

	metrics.IndexEntries.Set(0)
	p.invalidateCache(ctx)
	return nil
}

func (p *Processor) Stats(ctx context.Context) (*SystemStats, error) {
	counts, err := p.db.CountDocumentsByStatus()
	if err != nil {
		return nil, err
	}

	queries, err := p.db.CountQueries()
	if err != nil {
		return nil, err
	}

	idxStats, err := p.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}

	return &SystemStats{
		Documents:    counts,
		TotalQueries: queries,
		Index:        idxStats,
	}, nil
}

func (p *Processor) refreshIndexGauge(ctx context.Context) {
	if stats, err := p.index.Stats(ctx); err == nil {
		metrics.IndexEntries.Set(float64(stats.Count))
	}
}

func (p *Processor) invalidateCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidateDocumentCache(ctx); err != nil {
		logger.Warn("Failed to invalidate query cache", zap.Error(err))
	}
}
