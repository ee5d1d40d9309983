// Package retrieval maps similarity index hits back to stored chunks.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/index"
	"github.com/docsynth/backend/internal/metrics"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/internal/storage/sqlite"
	"github.com/docsynth/backend/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]index.Hit, error)
}

type ChunkStore interface {
	GetChunk(documentID int64, chunkIndex int) (*models.DocumentChunk, error)
}

type ScoredChunk struct {
	Chunk models.DocumentChunk
	Score float64
}

type Coordinator struct {
	searcher Searcher
	chunks   ChunkStore
}

func NewCoordinator(searcher Searcher, chunks ChunkStore) *Coordinator {
	return &Coordinator{searcher: searcher, chunks: chunks}
}

// SearchSimilarChunks returns the stored chunks behind the best index hits, in
// index order. Hits without chunk coordinates or without a stored chunk are
// dropped.
func (c *Coordinator) SearchSimilarChunks(ctx context.Context, query string, limit int) ([]ScoredChunk, error) {
	hits, err := c.searcher.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Metadata.DocumentID == 0 || hit.Metadata.ChunkIndex == nil {
			metrics.ResolutionMisses.Inc()
			logger.Debug("Dropping index hit without chunk coordinates", zap.String("ref_id", hit.RefID))
			continue
		}

		chunk, err := c.chunks.GetChunk(hit.Metadata.DocumentID, *hit.Metadata.ChunkIndex)
		if err != nil {
			metrics.ResolutionMisses.Inc()
			if errors.Is(err, sqlite.ErrNotFound) {
				logger.Debug("Dropping index hit without stored chunk", zap.String("ref_id", hit.RefID))
			} else {
				logger.Warn("Failed to resolve index hit", zap.String("ref_id", hit.RefID), zap.Error(err))
			}
			continue
		}

		results = append(results, ScoredChunk{Chunk: *chunk, Score: hit.Score})
	}

	logger.Debug("Resolved index hits",
		zap.Int("hits", len(hits)),
		zap.Int("chunks", len(results)),
	)

	return results, nil
}
