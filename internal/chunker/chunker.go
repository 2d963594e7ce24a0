// Package chunker splits loaded documents into overlapping chunks.
package chunker

import (
	"fmt"
	"maps"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"document-index/internal/errs"
	"document-index/internal/models"
)

// Separators are tried in order: paragraph, line, sentence, word, character.
var Separators = []string{"\n\n", "\n", ". ", " ", ""}

// Validate checks 0 <= overlap < size.
func Validate(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return errs.E("chunker.Validate", errs.KindValidation,
			fmt.Errorf("%w: chunk_size=%d chunk_overlap=%d", errs.ErrInvalidChunkConfig, size, overlap))
	}
	return nil
}

// Split cuts docs into chunks of at most size characters sharing up to
// overlap characters with the previous chunk of the same document.
// Chunk metadata is a copy of the document metadata plus chunk_index.
func Split(docs []schema.Document, size, overlap int) ([]schema.Document, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators(Separators),
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)

	var chunks []schema.Document
	for _, doc := range docs {
		texts, err := splitter.SplitText(doc.PageContent)
		if err != nil {
			return nil, errs.E("chunker.Split", errs.KindOther, fmt.Errorf("failed to split document: %w", err))
		}
		idx := 0
		for _, text := range texts {
			if strings.TrimSpace(text) == "" {
				continue
			}
			meta := make(map[string]any, len(doc.Metadata)+1)
			maps.Copy(meta, doc.Metadata)
			meta[models.MetaChunkIndex] = idx
			chunks = append(chunks, schema.Document{PageContent: text, Metadata: meta})
			idx++
		}
	}

	if len(chunks) == 0 {
		return nil, errs.Wrap("chunker.Split", errs.ErrNoContent)
	}
	return chunks, nil
}
