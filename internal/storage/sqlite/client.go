package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/pkg/logger"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrStatusConflict = errors.New("document status changed concurrently")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		file_path TEXT NOT NULL,
		file_type TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		uploaded_at INTEGER NOT NULL,
		processed_at INTEGER,
		extracted_text TEXT,
		page_count INTEGER NOT NULL DEFAULT 0,
		processing_status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		vector_ids TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(uploaded_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		page_number INTEGER NOT NULL,
		paragraph_number INTEGER NOT NULL,
		content TEXT NOT NULL,
		vector_id TEXT,
		UNIQUE (document_id, chunk_index),
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);

	CREATE TABLE IF NOT EXISTS queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		individual_answers TEXT,
		themes TEXT,
		processing_time REAL
	);
	CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}

	query := `
		INSERT INTO documents (filename, original_filename, file_path, file_type, file_size, uploaded_at, processing_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.Exec(
		query,
		doc.Filename,
		doc.OriginalFilename,
		doc.FilePath,
		string(doc.FileType),
		doc.FileSize,
		doc.UploadedAt.Unix(),
		string(doc.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read document id: %w", err)
	}
	doc.ID = id

	logger.Debug("Document inserted", zap.Int64("document_id", doc.ID), zap.String("filename", doc.OriginalFilename))
	return nil
}

const documentColumns = `id, filename, original_filename, file_path, file_type, file_size, uploaded_at,
	processed_at, extracted_text, page_count, processing_status, error_message, vector_ids`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc           models.Document
		fileType      string
		status        string
		uploadedAt    int64
		processedAt   sql.NullInt64
		extractedText sql.NullString
		errorMessage  sql.NullString
		vectorIDs     sql.NullString
	)

	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.OriginalFilename,
		&doc.FilePath,
		&fileType,
		&doc.FileSize,
		&uploadedAt,
		&processedAt,
		&extractedText,
		&doc.PageCount,
		&status,
		&errorMessage,
		&vectorIDs,
	)
	if err != nil {
		return nil, err
	}

	doc.FileType = models.FileType(fileType)
	doc.Status = models.Status(status)
	if !doc.Status.Valid() {
		return nil, fmt.Errorf("document %d has unknown status %q", doc.ID, status)
	}
	doc.UploadedAt = time.Unix(uploadedAt, 0)
	if processedAt.Valid {
		t := time.Unix(processedAt.Int64, 0)
		doc.ProcessedAt = &t
	}
	doc.ExtractedText = extractedText.String
	doc.ErrorMessage = errorMessage.String
	if vectorIDs.Valid && vectorIDs.String != "" {
		if err := json.Unmarshal([]byte(vectorIDs.String), &doc.VectorIDs); err != nil {
			return nil, fmt.Errorf("failed to decode vector ids: %w", err)
		}
	}

	return &doc, nil
}

func (c *Client) GetDocument(id int64) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`

	doc, err := scanDocument(c.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

func (c *Client) ListDocuments() ([]models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY uploaded_at DESC, id DESC`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, *doc)
	}

	return docs, rows.Err()
}

// TransitionDocument moves a document between statuses only if it is still in
// the expected one, so two workers cannot both claim a pending document.
func (c *Client) TransitionDocument(id int64, from, to models.Status) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	res, err := c.db.Exec(
		`UPDATE documents SET processing_status = ? WHERE id = ? AND processing_status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %d not in status %s: %w", id, from, ErrStatusConflict)
	}

	return nil
}

func (c *Client) MarkDocumentFailed(id int64, message string) error {
	_, err := c.db.Exec(
		`UPDATE documents SET processing_status = ?, error_message = ? WHERE id = ?`,
		string(models.StatusFailed), message, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}

	logger.Warn("Document marked failed", zap.Int64("document_id", id), zap.String("error", message))
	return nil
}

// CompleteDocument stores the chunks and the extraction result and marks the
// document completed in one transaction.
func (c *Client) CompleteDocument(doc *models.Document, chunks []models.DocumentChunk) error {
	vectorIDs, err := json.Marshal(doc.VectorIDs)
	if err != nil {
		return fmt.Errorf("failed to encode vector ids: %w", err)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO document_chunks (document_id, chunk_index, page_number, paragraph_number, content, vector_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, chunk_index) DO UPDATE SET
			page_number = excluded.page_number,
			paragraph_number = excluded.paragraph_number,
			content = excluded.content,
			vector_id = excluded.vector_id
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		chunk := &chunks[i]
		err := stmt.QueryRow(
			doc.ID,
			chunk.ChunkIndex,
			chunk.PageNumber,
			chunk.ParagraphNumber,
			chunk.Content,
			chunk.VectorID,
		).Scan(&chunk.ID)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	processedAt := time.Now()
	if doc.ProcessedAt != nil {
		processedAt = *doc.ProcessedAt
	}

	_, err = tx.Exec(`
		UPDATE documents
		SET processing_status = ?, processed_at = ?, extracted_text = ?, page_count = ?, vector_ids = ?, error_message = NULL
		WHERE id = ?
	`,
		string(models.StatusCompleted),
		processedAt.Unix(),
		doc.ExtractedText,
		doc.PageCount,
		string(vectorIDs),
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	doc.Status = models.StatusCompleted
	doc.ProcessedAt = &processedAt
	doc.ErrorMessage = ""

	logger.Info("Document stored",
		zap.Int64("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// DeleteDocument removes the document row; its chunks go with it.
func (c *Client) DeleteDocument(id int64) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM document_chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	logger.Debug("Document deleted", zap.Int64("document_id", id))
	return nil
}

func (c *Client) CountDocumentsByStatus() (models.DocumentCounts, error) {
	var counts models.DocumentCounts

	rows, err := c.db.Query(`SELECT processing_status, COUNT(*) FROM documents GROUP BY processing_status`)
	if err != nil {
		return counts, fmt.Errorf("failed to count documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan row: %w", err)
		}

		counts.Total += n
		switch models.Status(status) {
		case models.StatusPending:
			counts.Pending = n
		case models.StatusProcessing:
			counts.Processing = n
		case models.StatusCompleted:
			counts.Completed = n
		case models.StatusFailed:
			counts.Failed = n
		}
	}

	return counts, rows.Err()
}

const chunkColumns = `c.id, c.document_id, c.chunk_index, c.page_number, c.paragraph_number, c.content,
	c.vector_id, d.original_filename`

func scanChunk(row rowScanner) (*models.DocumentChunk, error) {
	var chunk models.DocumentChunk
	var vectorID sql.NullString

	err := row.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.ChunkIndex,
		&chunk.PageNumber,
		&chunk.ParagraphNumber,
		&chunk.Content,
		&vectorID,
		&chunk.DocumentFilename,
	)
	if err != nil {
		return nil, err
	}
	chunk.VectorID = vectorID.String

	return &chunk, nil
}

// GetChunk looks up a chunk by its owning document and position.
func (c *Client) GetChunk(documentID int64, chunkIndex int) (*models.DocumentChunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ? AND c.chunk_index = ?`

	chunk, err := scanChunk(c.db.QueryRow(query, documentID, chunkIndex))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %d of document %d: %w", chunkIndex, documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}

	return chunk, nil
}

func (c *Client) GetChunks(documentID int64) ([]models.DocumentChunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM document_chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = ?
		ORDER BY c.chunk_index`

	rows, err := c.db.Query(query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.DocumentChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, *chunk)
	}

	return chunks, rows.Err()
}

func (c *Client) InsertQuery(record *models.QueryRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	res, err := c.db.Exec(
		`INSERT INTO queries (question, created_at) VALUES (?, ?)`,
		record.Question,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read query id: %w", err)
	}
	record.ID = id

	logger.Info("Query recorded",
		zap.Int64("query_id", record.ID),
		zap.String("question", record.Question),
	)
	return nil
}

// UpdateQueryResults attaches the pipeline output to an existing query record.
func (c *Client) UpdateQueryResults(record *models.QueryRecord) error {
	answers, err := json.Marshal(nonNilAnswers(record.IndividualAnswers))
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}
	themes, err := json.Marshal(nonNilThemes(record.Themes))
	if err != nil {
		return fmt.Errorf("failed to encode themes: %w", err)
	}

	res, err := c.db.Exec(
		`UPDATE queries SET individual_answers = ?, themes = ?, processing_time = ? WHERE id = ?`,
		string(answers),
		string(themes),
		record.ProcessingTime,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update query results: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("query %d: %w", record.ID, ErrNotFound)
	}

	return nil
}

// DeleteQuery removes a query record.
func (c *Client) DeleteQuery(id int64) error {
	res, err := c.db.Exec(`DELETE FROM queries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete query record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("query %d: %w", id, ErrNotFound)
	}
	return nil
}

const queryColumns = `id, question, created_at, individual_answers, themes, processing_time`

func scanQuery(row rowScanner) (*models.QueryRecord, error) {
	var (
		record         models.QueryRecord
		createdAt      int64
		answers        sql.NullString
		themes         sql.NullString
		processingTime sql.NullFloat64
	)

	if err := row.Scan(&record.ID, &record.Question, &createdAt, &answers, &themes, &processingTime); err != nil {
		return nil, err
	}

	record.CreatedAt = time.Unix(createdAt, 0)
	record.ProcessingTime = processingTime.Float64
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &record.IndividualAnswers); err != nil {
			return nil, fmt.Errorf("failed to decode answers: %w", err)
		}
	}
	if themes.Valid && themes.String != "" {
		if err := json.Unmarshal([]byte(themes.String), &record.Themes); err != nil {
			return nil, fmt.Errorf("failed to decode themes: %w", err)
		}
	}

	return &record, nil
}

func (c *Client) GetQuery(id int64) (*models.QueryRecord, error) {
	record, err := scanQuery(c.db.QueryRow(`SELECT `+queryColumns+` FROM queries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query: %w", err)
	}

	return record, nil
}

func (c *Client) RecentQueries(limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.Query(
		`SELECT `+queryColumns+` FROM queries ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent queries: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		record, err := scanQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

func (c *Client) CountQueries() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM queries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queries: %w", err)
	}
	return n, nil
}

func nonNilAnswers(a []models.IndividualAnswer) []models.IndividualAnswer {
	if a == nil {
		return []models.IndividualAnswer{}
	}
	return a
}

func nonNilThemes(t []models.Theme) []models.Theme {
	if t == nil {
		return []models.Theme{}
	}
	return t
}
