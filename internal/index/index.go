// Package index holds chunk content and citation metadata and ranks entries
// against free-text queries.
//
// KeywordIndex scores by word overlap rather than embeddings. Callers depend on
// the Index interface so that an embedding-backed store can replace it.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/docsynth/backend/pkg/logger"
)

var ErrMissingMetadata = errors.New("metadata must carry document_id and chunk_index")

type Index interface {
	Index(ctx context.Context, content string, meta Metadata) (string, error)
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
	Delete(ctx context.Context, refIDs []string) error
	Stats(ctx context.Context) (Stats, error)
	Reset(ctx context.Context) error
}

// Metadata travels with every entry. DocumentID and ChunkIndex are optional on
// the wire so that entries written by other tools can still be loaded; such
// entries cannot be resolved back to a chunk.
type Metadata struct {
	DocumentID       int64  `json:"document_id,omitempty"`
	ChunkIndex       *int   `json:"chunk_index,omitempty"`
	PageNumber       int    `json:"page_number"`
	ParagraphNumber  int    `json:"paragraph_number"`
	DocumentFilename string `json:"document_filename"`
}

type Entry struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Record is an entry with its reference id, in insertion order.
type Record struct {
	ID string
	Entry
}

type Hit struct {
	RefID    string
	Content  string
	Metadata Metadata
	Score    float64
}

type Stats struct {
	Count          int    `json:"total_vectors"`
	CollectionName string `json:"collection_name"`
}

// Persister stores the complete index state. Save replaces whatever was
// stored before.
type Persister interface {
	Save(records []Record) error
	Load() ([]Record, error)
}

// RefID is the deterministic reference id of a chunk.
func RefID(documentID int64, chunkIndex int) string {
	return fmt.Sprintf("doc_%d_chunk_%d", documentID, chunkIndex)
}

type KeywordIndex struct {
	collection string
	persister  Persister

	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// NewKeywordIndex restores the persisted state, if any, and returns the index.
func NewKeywordIndex(collection string, persister Persister) (*KeywordIndex, error) {
	idx := &KeywordIndex{
		collection: collection,
		persister:  persister,
		entries:    make(map[string]Entry),
	}

	records, err := persister.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index snapshot: %w", err)
	}

	for _, r := range records {
		if _, ok := idx.entries[r.ID]; !ok {
			idx.order = append(idx.order, r.ID)
		}
		idx.entries[r.ID] = r.Entry
	}

	logger.Info("Index initialized",
		zap.String("collection", collection),
		zap.Int("entries", len(idx.order)),
	)

	return idx, nil
}

// Index stores content under the reference id derived from meta, replacing any
// entry already stored there. The full state is persisted before returning.
func (x *KeywordIndex) Index(ctx context.Context, content string, meta Metadata) (string, error) {
	if meta.DocumentID == 0 || meta.ChunkIndex == nil {
		return "", ErrMissingMetadata
	}
	refID := RefID(meta.DocumentID, *meta.ChunkIndex)

	x.mu.Lock()
	defer x.mu.Unlock()

	prev, existed := x.entries[refID]
	if !existed {
		x.order = append(x.order, refID)
	}
	x.entries[refID] = Entry{Content: content, Metadata: meta}

	if err := x.persistLocked(); err != nil {
		if existed {
			x.entries[refID] = prev
		} else {
			delete(x.entries, refID)
			x.order = x.order[:len(x.order)-1]
		}
		return "", err
	}

	return refID, nil
}

// Search returns entries with a positive score, best first, at most limit.
// Entries with equal scores keep their insertion order.
func (x *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryWords := Tokenize(query)

	x.mu.RLock()
	var hits []Hit
	for _, id := range x.order {
		entry := x.entries[id]
		score := Score(queryWords, Tokenize(entry.Content))
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{
			RefID:    id,
			Content:  entry.Content,
			Metadata: entry.Metadata,
			Score:    score,
		})
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// Delete removes the given entries; unknown ids are ignored.
func (x *KeywordIndex) Delete(ctx context.Context, refIDs []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	prevOrder := x.order
	removed := make(map[string]Entry, len(refIDs))
	for _, id := range refIDs {
		if entry, ok := x.entries[id]; ok {
			removed[id] = entry
			delete(x.entries, id)
		}
	}

	if len(removed) > 0 {
		order := make([]string, 0, len(x.order)-len(removed))
		for _, id := range x.order {
			if _, gone := removed[id]; !gone {
				order = append(order, id)
			}
		}
		x.order = order
	}

	if err := x.persistLocked(); err != nil {
		for id, entry := range removed {
			x.entries[id] = entry
		}
		x.order = prevOrder
		return err
	}

	logger.Info("Deleted index entries",
		zap.Int("requested", len(refIDs)),
		zap.Int("deleted", len(removed)),
	)
	return nil
}

func (x *KeywordIndex) Stats(ctx context.Context) (Stats, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return Stats{Count: len(x.order), CollectionName: x.collection}, nil
}

// Reset drops every entry.
func (x *KeywordIndex) Reset(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	prevOrder, prevEntries := x.order, x.entries
	x.order = nil
	x.entries = make(map[string]Entry)

	if err := x.persistLocked(); err != nil {
		x.order, x.entries = prevOrder, prevEntries
		return err
	}

	logger.Info("Index reset", zap.String("collection", x.collection))
	return nil
}

func (x *KeywordIndex) persistLocked() error {
	records := make([]Record, len(x.order))
	for i, id := range x.order {
		records[i] = Record{ID: id, Entry: x.entries[id]}
	}

	if err := x.persister.Save(records); err != nil {
		return fmt.Errorf("failed to persist index: %w", err)
	}
	return nil
}
