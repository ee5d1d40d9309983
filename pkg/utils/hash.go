package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeQuestion lowercases, trims and collapses whitespace so that trivially
// different phrasings of the same question share a cache key.
func NormalizeQuestion(question string) string {
	fields := strings.FieldsFunc(strings.ToLower(question), unicode.IsSpace)
	return strings.Join(fields, " ")
}

func QuestionKey(question string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return hex.EncodeToString(sum[:])
}
