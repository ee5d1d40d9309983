package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_ThreeParagraphsOfFourHundred(t *testing.T) {
	p1 := strings.Repeat("a", 400)
	p2 := strings.Repeat("b", 400)
	p3 := strings.Repeat("c", 400)
	text := p1 + "\n\n" + p2 + "\n\n" + p3

	chunks := New(1000).Chunk(text, 42)

	require.Len(t, chunks, 2)

	assert.Equal(t, p1+"\n\n"+p2, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, 1, chunks[0].ParagraphNumber)
	assert.Equal(t, int64(42), chunks[0].DocumentID)

	assert.Equal(t, p3, chunks[1].Content)
	assert.Equal(t, 1, chunks[1].ChunkIndex)
	assert.Equal(t, 1, chunks[1].PageNumber)
	assert.Equal(t, 2, chunks[1].ParagraphNumber)
}

func TestChunk_EmptyText(t *testing.T) {
	c := New(1000)
	assert.Empty(t, c.Chunk("", 1))
	assert.Empty(t, c.Chunk("  \n\n \t \n\n", 1))
}

func TestChunk_OversizedParagraphKeptWhole(t *testing.T) {
	small := "short intro"
	huge := strings.Repeat("x", 250)
	tail := "closing line"

	chunks := New(100).Chunk(small+"\n\n"+huge+"\n\n"+tail, 1)

	require.Len(t, chunks, 3)
	assert.Equal(t, small, chunks[0].Content)
	assert.Equal(t, huge, chunks[1].Content)
	assert.Equal(t, tail, chunks[2].Content)
}

func TestChunk_OversizedFirstParagraph(t *testing.T) {
	huge := strings.Repeat("y", 150)

	chunks := New(100).Chunk(huge+"\n\nnext", 1)

	require.Len(t, chunks, 2)
	assert.Equal(t, huge, chunks[0].Content)
	assert.Equal(t, "next", chunks[1].Content)
}

func TestChunk_TrimsAndDropsEmptyParagraphs(t *testing.T) {
	chunks := New(1000).Chunk("  first  \n\n\n\n second\t\n\n", 1)

	require.Len(t, chunks, 1)
	assert.Equal(t, "first\n\nsecond", chunks[0].Content)
}

func TestChunk_PageRollover(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 23; i++ {
		paragraphs = append(paragraphs, strings.Repeat("p", 10))
	}

	// every paragraph becomes its own chunk
	chunks := New(10).Chunk(strings.Join(paragraphs, "\n\n"), 1)
	require.Len(t, chunks, 23)

	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, 1, chunks[0].ParagraphNumber)
	assert.Equal(t, 1, chunks[9].PageNumber)
	assert.Equal(t, 10, chunks[9].ParagraphNumber)
	assert.Equal(t, 2, chunks[10].PageNumber)
	assert.Equal(t, 1, chunks[10].ParagraphNumber)
	assert.Equal(t, 2, chunks[19].PageNumber)
	assert.Equal(t, 10, chunks[19].ParagraphNumber)
	assert.Equal(t, 3, chunks[20].PageNumber)
	assert.Equal(t, 1, chunks[20].ParagraphNumber)
	assert.Equal(t, 3, chunks[22].ParagraphNumber)

	for i := 1; i < len(chunks); i++ {
		assert.GreaterOrEqual(t, chunks[i].PageNumber, chunks[i-1].PageNumber)
	}
}

func TestChunk_MeasuresRunes(t *testing.T) {
	// 4 runes each, 8 bytes each
	p := "éééé"

	chunks := New(10).Chunk(p+"\n\n"+p, 1)

	require.Len(t, chunks, 1)
	assert.Equal(t, p+"\n\n"+p, chunks[0].Content)
}

func TestChunk_Properties(t *testing.T) {
	texts := []string{
		"one\n\ntwo\n\nthree",
		strings.Repeat("word ", 300) + "\n\n" + strings.Repeat("more ", 50),
		"alpha\n\n\n\nbeta\n\n  gamma  \n\n" + strings.Repeat("z", 120) + "\n\ndelta",
		"Der schnelle braune Fuchs.\n\nSpringt über den faulen Hund.\n\nНовый абзац.",
	}

	for _, size := range []int{5, 20, 100, 1000} {
		for _, text := range texts {
			chunks := New(size).Chunk(text, 7)
			paragraphs := Paragraphs(text)

			assert.Equal(t, strings.Join(paragraphs, "\n\n"), Join(chunks))

			longest := 0
			for _, p := range paragraphs {
				if n := utf8.RuneCountInString(p); n > longest {
					longest = n
				}
			}

			for i, ch := range chunks {
				assert.NotEmpty(t, ch.Content)
				assert.Equal(t, i, ch.ChunkIndex)
				assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), size+longest)
			}
		}
	}
}
