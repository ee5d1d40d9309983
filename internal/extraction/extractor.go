// Package extraction turns stored uploads into plain text.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docsynth/backend/internal/storage/models"
	"github.com/docsynth/backend/pkg/logger"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

const (
	MethodPDFText = "pdf_text"
	MethodPDFOCR  = "pdf_ocr"
	MethodOCR     = "ocr"
	MethodText    = "text"
	MethodDOCX    = "docx"
	MethodHTML    = "html"
)

type Result struct {
	Text      string
	PageCount int
	Method    string
}

type Extractor struct {
	ocr              OCR
	minPDFTextLength int
}

// NewExtractor returns an extractor that falls back to OCR for PDFs whose text
// layer is shorter than minPDFTextLength characters.
func NewExtractor(ocr OCR, minPDFTextLength int) *Extractor {
	if ocr == nil {
		ocr = NoopOCR{}
	}
	return &Extractor{ocr: ocr, minPDFTextLength: minPDFTextLength}
}

// Extract returns the text of the file at path. OCR failures are logged and
// yield empty text rather than an error.
func (e *Extractor) Extract(ctx context.Context, path string, fileType models.FileType) (Result, error) {
	switch fileType {
	case models.FileTypePDF:
		return e.extractPDF(ctx, path)

	case models.FileTypeImage:
		return Result{Text: e.runOCR(ctx, path, e.ocr.ExtractFromImage), PageCount: 1, Method: MethodOCR}, nil

	case models.FileTypeText:
		if Extension(path) == "docx" {
			text, err := ExtractDOCXText(path)
			if err != nil {
				return Result{}, err
			}
			return Result{Text: text, PageCount: 1, Method: MethodDOCX}, nil
		}
		text, err := ExtractPlainText(path)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, PageCount: 1, Method: MethodText}, nil

	case models.FileTypeHTML:
		text, err := ExtractHTMLText(path)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, PageCount: 1, Method: MethodHTML}, nil

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, fileType)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (Result, error) {
	text, pages, err := ExtractPDFText(path)
	if err != nil {
		logger.Warn("PDF text layer unreadable, trying OCR", zap.String("path", path), zap.Error(err))
	}

	if utf8.RuneCountInString(strings.TrimSpace(text)) >= e.minPDFTextLength {
		return Result{Text: text, PageCount: pages, Method: MethodPDFText}, nil
	}

	ocrText := e.runOCR(ctx, path, e.ocr.ExtractFromPDF)
	if ocrText == "" {
		// keep whatever short text layer there was
		return Result{Text: text, PageCount: pages, Method: MethodPDFText}, nil
	}
	return Result{Text: ocrText, PageCount: pages, Method: MethodPDFOCR}, nil
}

func (e *Extractor) runOCR(ctx context.Context, path string, fn func(context.Context, string) (string, error)) string {
	text, err := fn(ctx, path)
	if err != nil {
		logger.Warn("OCR failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return text
}
