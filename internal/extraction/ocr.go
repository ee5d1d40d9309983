package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/docsynth/backend/pkg/logger"
)

// OCR recognises text in raster content.
type OCR interface {
	ExtractFromImage(ctx context.Context, path string) (string, error)
	ExtractFromPDF(ctx context.Context, path string) (string, error)
}

// TesseractOCR shells out to tesseract, rasterising PDFs with pdftoppm first.
type TesseractOCR struct {
	tesseractPath string
	pdftoppmPath  string
	language      string
}

func NewTesseractOCR(tesseractPath, pdftoppmPath, language string) *TesseractOCR {
	if tesseractPath == "" {
		tesseractPath = "tesseract"
	}
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}
	if language == "" {
		language = "eng"
	}
	return &TesseractOCR{tesseractPath: tesseractPath, pdftoppmPath: pdftoppmPath, language: language}
}

func (t *TesseractOCR) ExtractFromImage(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, t.tesseractPath, path, "stdout", "-l", t.language, "--oem", "3", "--psm", "3")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to run tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return CleanOCRText(stdout.String()), nil
}

func (t *TesseractOCR) ExtractFromPDF(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp("", "docsynth-ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)

	convert := exec.CommandContext(ctx, t.pdftoppmPath, "-r", "300", "-png", path, filepath.Join(dir, "page"))
	var stderr bytes.Buffer
	convert.Stderr = &stderr
	if err := convert.Run(); err != nil {
		return "", fmt.Errorf("failed to rasterise pdf: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	images, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil || len(images) == 0 {
		return "", fmt.Errorf("pdftoppm produced no pages")
	}
	// page-01.png sorts before page-10.png because pdftoppm zero-pads
	sort.Strings(images)

	var pages []string
	for i, img := range images {
		text, err := t.ExtractFromImage(ctx, img)
		if err != nil {
			logger.Warn("OCR failed for page", zap.String("path", path), zap.Int("page", i+1), zap.Error(err))
			continue
		}
		if text != "" {
			pages = append(pages, text)
		}
	}

	return strings.Join(pages, "\n\n"), nil
}

// NoopOCR is used when OCR is disabled; it never finds text.
type NoopOCR struct{}

func (NoopOCR) ExtractFromImage(ctx context.Context, path string) (string, error) {
	return "", nil
}

func (NoopOCR) ExtractFromPDF(ctx context.Context, path string) (string, error) {
	return "", nil
}

// CleanOCRText drops recognition noise: lines shorter than two characters and
// lines where fewer than 60% of characters are letters, digits or spaces. Runs
// of blank lines and spaces are collapsed.
func CleanOCRText(text string) string {
	if text == "" {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		n := utf8.RuneCountInString(line)
		if n < 2 {
			// keep paragraph breaks
			if n == 0 {
				kept = append(kept, "")
			}
			continue
		}

		good := 0
		for _, r := range line {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
				good++
			}
		}
		if float64(good)/float64(n) < 0.6 {
			continue
		}
		kept = append(kept, line)
	}

	cleaned := strings.Join(kept, "\n")
	for strings.Contains(cleaned, "\n\n\n") {
		cleaned = strings.ReplaceAll(cleaned, "\n\n\n", "\n\n")
	}
	for strings.Contains(cleaned, "  ") {
		cleaned = strings.ReplaceAll(cleaned, "  ", " ")
	}

	return strings.TrimSpace(cleaned)
}
