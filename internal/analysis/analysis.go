// Package analysis turns retrieved chunks into per-document answers and
// cross-document themes using a language model.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/docsynth/backend/internal/llm"
)

// Completer is the language model capability the analysis stages need.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// errNotJSON marks a reply that is not JSON at all, as opposed to JSON of the
// wrong shape.
var errNotJSON = errors.New("reply is not JSON")

// decodeJSON parses a model reply into v, tolerating a surrounding Markdown
// code fence. It returns errNotJSON only when the reply does not parse.
func decodeJSON(raw string, v any) error {
	body := []byte(stripCodeFence(raw))
	if !json.Valid(body) {
		return errNotJSON
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("reply has unexpected shape: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
