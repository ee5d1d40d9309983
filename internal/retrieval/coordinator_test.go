package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsynth/backend/internal/index"
	"github.com/docsynth/backend/internal/index/snapshot"
	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/internal/storage/sqlite"
)

type fakeSearcher struct {
	hits []index.Hit
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]index.Hit, error) {
	return f.hits, f.err
}

type fakeChunkStore struct {
	chunks map[string]models.DocumentChunk
	err    error
}

func (f *fakeChunkStore) GetChunk(documentID int64, chunkIndex int) (*models.DocumentChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	chunk, ok := f.chunks[fmt.Sprintf("%d/%d", documentID, chunkIndex)]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return &chunk, nil
}

func ptr(i int) *int { return &i }

func TestSearchSimilarChunks_DropsUnresolvableHits(t *testing.T) {
	searcher := &fakeSearcher{hits: []index.Hit{
		{RefID: "doc_1_chunk_0", Score: 1.0, Metadata: index.Metadata{DocumentID: 1, ChunkIndex: ptr(0)}},
		{RefID: "legacy", Score: 0.9, Metadata: index.Metadata{ChunkIndex: ptr(0)}},
		{RefID: "no_chunk_index", Score: 0.8, Metadata: index.Metadata{DocumentID: 1}},
		{RefID: "doc_5_chunk_2", Score: 0.7, Metadata: index.Metadata{DocumentID: 5, ChunkIndex: ptr(2)}},
		{RefID: "doc_2_chunk_1", Score: 0.5, Metadata: index.Metadata{DocumentID: 2, ChunkIndex: ptr(1)}},
	}}
	store := &fakeChunkStore{chunks: map[string]models.DocumentChunk{
		"1/0": {DocumentID: 1, ChunkIndex: 0, Content: "first"},
		"2/1": {DocumentID: 2, ChunkIndex: 1, Content: "second"},
	}}

	results, err := NewCoordinator(searcher, store).SearchSimilarChunks(context.Background(), "q", 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Chunk.Content)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, "second", results[1].Chunk.Content)
	assert.Equal(t, 0.5, results[1].Score)
}

func TestSearchSimilarChunks_StoreErrorsAreContained(t *testing.T) {
	searcher := &fakeSearcher{hits: []index.Hit{
		{RefID: "doc_1_chunk_0", Score: 1.0, Metadata: index.Metadata{DocumentID: 1, ChunkIndex: ptr(0)}},
	}}
	store := &fakeChunkStore{err: errors.New("database is locked")}

	results, err := NewCoordinator(searcher, store).SearchSimilarChunks(context.Background(), "q", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSimilarChunks_SearchErrorPropagates(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("index unavailable")}

	_, err := NewCoordinator(searcher, &fakeChunkStore{}).SearchSimilarChunks(context.Background(), "q", 10)
	assert.ErrorIs(t, err, searcher.err)
}

func TestSearchSimilarChunks_AgainstStoredDocuments(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := sqlite.NewClient(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	store, err := snapshot.NewFileStore(filepath.Join(dir, "index", "vector_store.json"))
	require.NoError(t, err)
	idx, err := index.NewKeywordIndex("document_embeddings", store)
	require.NoError(t, err)

	doc := &models.Document{Filename: "x_contract.txt", OriginalFilename: "contract.txt", FilePath: "/tmp/x", FileType: models.FileTypeText}
	require.NoError(t, db.InsertDocument(doc))
	require.NoError(t, db.TransitionDocument(doc.ID, models.StatusPending, models.StatusProcessing))

	chunks := []models.DocumentChunk{
		{ChunkIndex: 0, PageNumber: 1, ParagraphNumber: 1, Content: "The penalty is a fine of 100 EUR."},
		{ChunkIndex: 1, PageNumber: 1, ParagraphNumber: 2, Content: "Termination requires notice."},
	}
	for i := range chunks {
		ref, err := idx.Index(ctx, chunks[i].Content, index.Metadata{
			DocumentID:       doc.ID,
			ChunkIndex:       ptr(chunks[i].ChunkIndex),
			PageNumber:       chunks[i].PageNumber,
			ParagraphNumber:  chunks[i].ParagraphNumber,
			DocumentFilename: doc.OriginalFilename,
		})
		require.NoError(t, err)
		chunks[i].VectorID = ref
		doc.VectorIDs = append(doc.VectorIDs, ref)
	}
	require.NoError(t, db.CompleteDocument(doc, chunks))

	// an entry whose document was never stored
	_, err = idx.Index(ctx, "penalty orphan", index.Metadata{DocumentID: 99, ChunkIndex: ptr(0)})
	require.NoError(t, err)

	results, err := NewCoordinator(idx, db).SearchSimilarChunks(ctx, "penalty fine", 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, "contract.txt", results[0].Chunk.DocumentFilename)
	assert.Equal(t, 0, results[0].Chunk.ChunkIndex)
}
