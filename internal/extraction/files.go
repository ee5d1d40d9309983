package extraction

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/docsynth/backend/internal/storage/models"
)

const maxFilenameLength = 255

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// FileTypeFor maps a filename to the extraction path used for it.
func FileTypeFor(name string) (models.FileType, bool) {
	switch Extension(name) {
	case "pdf":
		return models.FileTypePDF, true
	case "png", "jpg", "jpeg", "tiff", "bmp":
		return models.FileTypeImage, true
	case "txt", "docx":
		return models.FileTypeText, true
	case "html", "htm":
		return models.FileTypeHTML, true
	default:
		return "", false
	}
}

func AllowedFile(name string, allowed []string) bool {
	ext := Extension(name)
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

// SanitizeFilename replaces path and shell-special characters and caps the
// length, keeping the extension.
func SanitizeFilename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, name)

	if len(sanitized) > maxFilenameLength {
		ext := filepath.Ext(sanitized)
		base := strings.TrimSuffix(sanitized, ext)
		if len(ext) >= maxFilenameLength {
			ext = ""
		}
		base = truncateBytes(base, maxFilenameLength-len(ext))
		sanitized = base + ext
	}

	return sanitized
}

// StoredFilename prefixes the sanitised name with a random id so uploads with
// the same name do not collide on disk.
func StoredFilename(original string) string {
	return uuid.NewString() + "_" + SanitizeFilename(original)
}

func HumanSize(size int64) string {
	if size <= 0 {
		return "0B"
	}

	units := []string{"B", "KB", "MB", "GB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.1f%s", value, units[i])
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
