// Package snapshot persists index state as a single JSON document:
//
//	{"documents": {"<ref id>": {"content": "...", "metadata": {...}}}}
//
// Entries are written and read back in insertion order.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docsynth/backend/internal/index"
)

const documentsKey = "documents"

type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// Save overwrites the snapshot. The new content is written to a temporary file
// in the same directory and renamed over the old one.
func (s *FileStore) Save(records []index.Record) error {
	data, err := Encode(records)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load returns the stored records, or none when no snapshot exists yet.
func (s *FileStore) Load() ([]index.Record, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", s.path, err)
	}
	return records, nil
}

// Encode renders records as an indented snapshot document, preserving order.
func Encode(records []index.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"` + documentsKey + `":{`)

	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to encode ref id: %w", err)
		}
		value, err := json.Marshal(r.Entry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry %s: %w", r.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteString("}}")

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to format snapshot: %w", err)
	}
	out.WriteByte('\n')

	return out.Bytes(), nil
}

// Decode reads a snapshot document. Unknown top-level keys are skipped.
func Decode(r io.Reader) ([]index.Record, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	var records []index.Record
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}

		if key != documentsKey {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("failed to skip %q: %w", key, err)
			}
			continue
		}

		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		for dec.More() {
			id, err := stringToken(dec)
			if err != nil {
				return nil, err
			}
			var entry index.Entry
			if err := dec.Decode(&entry); err != nil {
				return nil, fmt.Errorf("failed to decode entry %s: %w", id, err)
			}
			records = append(records, index.Record{ID: id, Entry: entry})
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return records, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("malformed snapshot: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("malformed snapshot: expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("malformed snapshot: %w", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("malformed snapshot: expected key, got %v", tok)
	}
	return s, nil
}
