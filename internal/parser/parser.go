// Package parser turns files on disk into langchaingo documents carrying
// provenance metadata (source, file_name and, where the format has one,
// a row id such as a page number, section or spreadsheet row).
package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"document-index/internal/errs"
	"document-index/internal/models"
)

type loadFunc func(ctx context.Context, path string) ([]schema.Document, error)

var loaders = map[string]loadFunc{
	".txt":      loadText,
	".text":     loadText,
	".log":      loadText,
	".md":       loadMarkdown,
	".markdown": loadMarkdown,
	".pdf":      loadPDF,
	".docx":     loadDOCX,
	".pptx":     loadPPTX,
	".xlsx":     loadXLSX,
	".xlsm":     loadXLSX,
	".csv":      loadCSV,
}

// Supported reports whether files with extension ext can be loaded.
func Supported(ext string) bool {
	_, ok := loaders[strings.ToLower(ext)]
	return ok
}

// Load reads the file at path with the loader registered for its extension.
// Every document gets source and file_path set to path and file_name set to
// its base name. Blank documents are dropped.
func Load(ctx context.Context, path string) ([]schema.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	load, ok := loaders[ext]
	if !ok {
		return nil, errs.E("parser.Load", errs.KindUnsupported,
			fmt.Errorf("%w: %q (%s)", errs.ErrUnsupportedFormat, ext, filepath.Base(path)))
	}

	docs, err := load(ctx, path)
	if err != nil {
		return nil, errs.E("parser.Load", errs.KindIO, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err))
	}

	out := docs[:0]
	for _, doc := range docs {
		if strings.TrimSpace(doc.PageContent) == "" {
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]any)
		}
		doc.Metadata[models.MetaSource] = path
		doc.Metadata[models.MetaFilePath] = path
		doc.Metadata[models.MetaFileName] = filepath.Base(path)
		out = append(out, doc)
	}
	return out, nil
}

// loadText treats form feeds as page breaks; row_id is the 1-based page number.
func loadText(_ context.Context, path string) ([]schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []schema.Document
	for i, page := range strings.Split(string(data), "\f") {
		docs = append(docs, pageDoc(page, i+1))
	}
	return docs, nil
}

func pageDoc(content string, page int) schema.Document {
	return schema.Document{
		PageContent: content,
		Metadata: map[string]any{
			models.MetaPage:  page,
			models.MetaRowID: strconv.Itoa(page),
		},
	}
}

// loadMarkdown splits at level 1 and 2 headings. Text before the first
// heading is its own section. row_id is the 1-based section number.
func loadMarkdown(_ context.Context, path string) ([]schema.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	root := md.Parser().Parse(text.NewReader(src))

	type boundary struct {
		offset int
		title  string
	}
	bounds := []boundary{{offset: 0}}
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := bytes.LastIndexByte(src[:seg.Start], '\n') + 1
		bounds = append(bounds, boundary{offset: start, title: strings.TrimSpace(string(seg.Value(src)))})
	}

	var docs []schema.Document
	section := 0
	for i, b := range bounds {
		end := len(src)
		if i+1 < len(bounds) {
			end = bounds[i+1].offset
		}
		body := string(src[b.offset:end])
		if strings.TrimSpace(body) == "" {
			continue
		}
		section++
		meta := map[string]any{models.MetaRowID: strconv.Itoa(section)}
		if b.title != "" {
			meta[models.MetaSection] = b.title
		}
		docs = append(docs, schema.Document{PageContent: strings.TrimSpace(body), Metadata: meta})
	}
	return docs, nil
}
