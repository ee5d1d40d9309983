package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPersister struct {
	saved   []Record
	saves   int
	loadErr error
	saveErr error
}

func (m *memoryPersister) Save(records []Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.saved = append([]Record(nil), records...)
	return nil
}

func (m *memoryPersister) Load() ([]Record, error) {
	return m.saved, m.loadErr
}

func intPtr(i int) *int { return &i }

func meta(docID int64, chunk int) Metadata {
	return Metadata{
		DocumentID:       docID,
		ChunkIndex:       intPtr(chunk),
		PageNumber:       1,
		ParagraphNumber:  chunk + 1,
		DocumentFilename: "doc.txt",
	}
}

func newTestIndex(t *testing.T) (*KeywordIndex, *memoryPersister) {
	t.Helper()
	p := &memoryPersister{}
	idx, err := NewKeywordIndex("document_embeddings", p)
	require.NoError(t, err)
	return idx, p
}

func TestScore_Examples(t *testing.T) {
	q := Tokenize("cat dog")

	assert.Equal(t, 0.5, Score(q, Tokenize("a cat sat")))
	assert.Equal(t, 0.5, Score(q, Tokenize("a dog ran")))
	assert.Equal(t, 1.0, Score(q, Tokenize("cat dog park")))
}

func TestScore_PartialMatches(t *testing.T) {
	// "cats" contains "cat"; "do" is contained in "dog"
	assert.InDelta(t, 0.3, Score(Tokenize("cat"), Tokenize("many cats here")), 1e-9)
	assert.InDelta(t, 0.15, Score(Tokenize("dogma fish"), Tokenize("dog")), 1e-9)
	assert.InDelta(t, 0.3, Score(Tokenize("do"), Tokenize("dog")), 1e-9)
}

func TestScore_PartialCountsEachQueryWordOnce(t *testing.T) {
	assert.InDelta(t, 0.3, Score(Tokenize("run"), Tokenize("running runner rerun")), 1e-9)
}

func TestScore_NoOverlap(t *testing.T) {
	assert.Zero(t, Score(Tokenize("zebra"), Tokenize("cat dog")))
	assert.Zero(t, Score(Tokenize(""), Tokenize("cat dog")))
	assert.Zero(t, Score(Tokenize("!!!"), Tokenize("cat dog")))
}

func TestTokenize(t *testing.T) {
	words := Tokenize("The Fine, the FINE and über_clause 42!")
	assert.Len(t, words, 5)
	for _, w := range []string{"the", "fine", "and", "über_clause", "42"} {
		assert.Contains(t, words, w)
	}
}

func TestSearch_RanksAndExcludesZeroScores(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Index(ctx, "a cat sat", meta(1, 0))
	require.NoError(t, err)
	_, err = idx.Index(ctx, "nothing in common", meta(1, 1))
	require.NoError(t, err)
	_, err = idx.Index(ctx, "cat dog park", meta(2, 0))
	require.NoError(t, err)
	_, err = idx.Index(ctx, "a dog ran", meta(2, 1))
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "cat dog", 10)
	require.NoError(t, err)

	require.Len(t, hits, 3)
	assert.Equal(t, "doc_2_chunk_0", hits[0].RefID)
	assert.Equal(t, 1.0, hits[0].Score)
	// equal scores keep insertion order
	assert.Equal(t, "doc_1_chunk_0", hits[1].RefID)
	assert.Equal(t, "doc_2_chunk_1", hits[2].RefID)
	assert.Equal(t, 0.5, hits[2].Score)

	for _, h := range hits {
		assert.NotEqual(t, "doc_1_chunk_1", h.RefID)
	}
}

func TestSearch_Limit(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := idx.Index(ctx, "penalty clause", meta(1, i))
		require.NoError(t, err)
	}

	hits, err := idx.Search(ctx, "penalty", 3)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = idx.Search(ctx, "penalty", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_ReindexOverwrites(t *testing.T) {
	idx, p := newTestIndex(t)
	ctx := context.Background()

	first, err := idx.Index(ctx, "old text", meta(7, 0))
	require.NoError(t, err)
	_, err = idx.Index(ctx, "another chunk", meta(7, 1))
	require.NoError(t, err)
	second, err := idx.Index(ctx, "new text", meta(7, 0))
	require.NoError(t, err)

	assert.Equal(t, "doc_7_chunk_0", first)
	assert.Equal(t, first, second)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, "document_embeddings", stats.CollectionName)

	require.Len(t, p.saved, 2)
	assert.Equal(t, "doc_7_chunk_0", p.saved[0].ID)
	assert.Equal(t, "new text", p.saved[0].Content)

	hits, err := idx.Search(ctx, "old", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_RequiresChunkCoordinates(t *testing.T) {
	idx, p := newTestIndex(t)

	_, err := idx.Index(context.Background(), "text", Metadata{DocumentID: 1})
	assert.ErrorIs(t, err, ErrMissingMetadata)

	_, err = idx.Index(context.Background(), "text", Metadata{ChunkIndex: intPtr(0)})
	assert.ErrorIs(t, err, ErrMissingMetadata)

	assert.Zero(t, p.saves)
}

func TestIndex_PersistFailureIsReturnedAndRolledBack(t *testing.T) {
	idx, p := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Index(ctx, "kept entry", meta(1, 0))
	require.NoError(t, err)

	p.saveErr = errors.New("disk full")

	_, err = idx.Index(ctx, "lost entry", meta(1, 1))
	assert.ErrorIs(t, err, p.saveErr)

	_, err = idx.Index(ctx, "replacement", meta(1, 0))
	assert.Error(t, err)

	err = idx.Delete(ctx, []string{"doc_1_chunk_0"})
	assert.Error(t, err)

	stats, _ := idx.Stats(ctx)
	assert.Equal(t, 1, stats.Count)

	hits, err := idx.Search(ctx, "kept", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kept entry", hits[0].Content)
}

func TestDelete(t *testing.T) {
	idx, p := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := idx.Index(ctx, "shared words", meta(4, i))
		require.NoError(t, err)
	}

	require.NoError(t, idx.Delete(ctx, []string{"doc_4_chunk_1", "doc_9_chunk_9"}))

	hits, err := idx.Search(ctx, "shared", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc_4_chunk_0", hits[0].RefID)
	assert.Equal(t, "doc_4_chunk_2", hits[1].RefID)
	assert.Len(t, p.saved, 2)
}

func TestReset(t *testing.T) {
	idx, p := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Index(ctx, "something", meta(1, 0))
	require.NoError(t, err)

	require.NoError(t, idx.Reset(ctx))

	stats, _ := idx.Stats(ctx)
	assert.Zero(t, stats.Count)
	assert.Empty(t, p.saved)
}

func TestNewKeywordIndex_RestoresOrder(t *testing.T) {
	p := &memoryPersister{saved: []Record{
		{ID: "doc_2_chunk_0", Entry: Entry{Content: "beta", Metadata: meta(2, 0)}},
		{ID: "doc_1_chunk_0", Entry: Entry{Content: "beta", Metadata: meta(1, 0)}},
	}}

	idx, err := NewKeywordIndex("c", p)
	require.NoError(t, err)

	hits, err := idx.Search(context.Background(), "beta", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "doc_2_chunk_0", hits[0].RefID)
	assert.Equal(t, "doc_1_chunk_0", hits[1].RefID)
}

func TestNewKeywordIndex_LoadError(t *testing.T) {
	_, err := NewKeywordIndex("c", &memoryPersister{loadErr: errors.New("corrupt")})
	assert.Error(t, err)
}
