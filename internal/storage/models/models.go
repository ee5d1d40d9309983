package models

import (
	"fmt"
	"time"
)

type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeImage FileType = "image"
	FileTypeText  FileType = "text"
	FileTypeHTML  FileType = "html"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CanTransition reports whether a document may move from s to next.
// Statuses only move forward; completed and failed are terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type Document struct {
	ID               int64      `json:"id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	FilePath         string     `json:"-"`
	FileType         FileType   `json:"file_type"`
	FileSize         int64      `json:"file_size"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	ExtractedText    string     `json:"-"`
	PageCount        int        `json:"page_count"`
	Status           Status     `json:"processing_status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	VectorIDs        []string   `json:"vector_ids,omitempty"`
}

type DocumentChunk struct {
	ID              int64  `json:"id"`
	DocumentID      int64  `json:"document_id"`
	ChunkIndex      int    `json:"chunk_index"`
	PageNumber      int    `json:"page_number"`
	ParagraphNumber int    `json:"paragraph_number"`
	Content         string `json:"content"`
	VectorID        string `json:"vector_id,omitempty"`

	// DocumentFilename is filled by lookups that join the owning document.
	DocumentFilename string `json:"document_filename,omitempty"`
}

func Citation(page, paragraph int) string {
	return fmt.Sprintf("Page %d, Para %d", page, paragraph)
}

type IndividualAnswer struct {
	DocumentID       int64   `json:"document_id"`
	DocumentFilename string  `json:"document_filename"`
	Answer           string  `json:"answer"`
	Citation         string  `json:"citation"`
	Confidence       float64 `json:"confidence"`
	SimilarityScore  float64 `json:"similarity_score"`
	PageNumber       int     `json:"page_number"`
	ParagraphNumber  int     `json:"paragraph_number"`
}

type SupportingDocument struct {
	DocumentKey string `json:"document_key"`
	Filename    string `json:"filename"`
	DocumentID  int64  `json:"document_id"`
}

type Theme struct {
	Title               string               `json:"title"`
	Summary             string               `json:"summary"`
	SupportingDocuments []SupportingDocument `json:"supporting_documents"`
	Confidence          float64              `json:"confidence"`
}

type QueryRecord struct {
	ID                int64              `json:"id"`
	Question          string             `json:"question"`
	CreatedAt         time.Time          `json:"created_at"`
	IndividualAnswers []IndividualAnswer `json:"individual_answers"`
	Themes            []Theme            `json:"themes"`
	ProcessingTime    float64            `json:"processing_time"`
}

// UniqueDocumentCount is the number of distinct documents the answers cite.
func (q *QueryRecord) UniqueDocumentCount() int {
	seen := make(map[int64]struct{}, len(q.IndividualAnswers))
	for _, a := range q.IndividualAnswers {
		seen[a.DocumentID] = struct{}{}
	}
	return len(seen)
}

type DocumentCounts struct {
	Total      int `json:"total_documents"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
