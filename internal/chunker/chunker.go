// Package chunker splits extracted document text into paragraph-aligned chunks
// that carry page and paragraph citation coordinates.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/docsynth/backend/internal/storage/models"
)

const (
	ParagraphSeparator = "\n\n"

	// ChunksPerPage is how many chunks are attributed to one page before the
	// page counter advances. Plain-text extraction does not keep the real layout.
	ChunksPerPage = 10
)

type Chunker struct {
	size int
}

func New(chunkSize int) *Chunker {
	return &Chunker{size: chunkSize}
}

// Paragraphs splits text on blank lines, trimming each paragraph and dropping empty ones.
func Paragraphs(text string) []string {
	raw := strings.Split(text, ParagraphSeparator)
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// Chunk groups paragraphs into chunks of at most the configured size. A paragraph
// that does not fit starts the next chunk; a paragraph longer than the size is
// kept whole.
func (c *Chunker) Chunk(text string, documentID int64) []models.DocumentChunk {
	var (
		chunks    []models.DocumentChunk
		buf       strings.Builder
		bufLen    int
		index     int
		page      = 1
		paragraph = 1
	)

	flush := func() {
		chunks = append(chunks, models.DocumentChunk{
			DocumentID:      documentID,
			ChunkIndex:      index,
			PageNumber:      page,
			ParagraphNumber: paragraph,
			Content:         buf.String(),
		})

		index++
		if index%ChunksPerPage == 0 {
			page++
			paragraph = 1
		} else {
			paragraph++
		}

		buf.Reset()
		bufLen = 0
	}

	for _, p := range Paragraphs(text) {
		pLen := utf8.RuneCountInString(p)

		if bufLen > 0 && bufLen+pLen > c.size {
			flush()
		}

		if bufLen > 0 {
			buf.WriteString(ParagraphSeparator)
			bufLen += len(ParagraphSeparator)
		}
		buf.WriteString(p)
		bufLen += pLen
	}

	if bufLen > 0 {
		flush()
	}

	return chunks
}

// Join reassembles chunk contents in index order.
func Join(chunks []models.DocumentChunk) string {
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = ch.Content
	}
	return strings.Join(parts, ParagraphSeparator)
}
