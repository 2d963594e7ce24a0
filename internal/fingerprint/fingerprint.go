// Package fingerprint derives the identity key used to detect chunks that
// were already ingested.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"document-index/internal/models"
)

// Separator joins source and row id in a provenance key.
const Separator = "::"

// Of returns the fingerprint of a chunk with the given text and metadata.
//
// With a source identifier ("source", else "file_path") the key is
// "<source>::<row_id>", empty row id allowed, so re-chunking the same row
// yields the same key. Without one the key is the hex SHA-256 of text, so
// byte-identical chunks collide whatever document they came from.
func Of(text string, metadata map[string]any) string {
	if src, ok := sourceOf(metadata); ok {
		return src + Separator + stringValue(metadata[models.MetaRowID])
	}
	return ContentHash(text)
}

// ContentHash is the hex SHA-256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func sourceOf(metadata map[string]any) (string, bool) {
	for _, key := range []string{models.MetaSource, models.MetaFilePath} {
		if s := stringValue(metadata[key]); s != "" {
			return s, true
		}
	}
	return "", false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
