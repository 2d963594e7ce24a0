package parser

import (
	"archive/zip"
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xuri/excelize/v2"

	"document-index/internal/models"
)

var (
	wordRunRe  = regexp.MustCompile(`<w:t(?: [^>]*)?>([^<]*)</w:t>`)
	slideRunRe = regexp.MustCompile(`<a:t>([^<]*)</a:t>`)
	slideRe    = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// one document per page
func loadPDF(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var docs []schema.Document
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Int("page", i).Msg("Skipping unreadable PDF page")
			continue
		}
		docs = append(docs, pageDoc(pageText, i))
	}
	return docs, nil
}

// the whole document becomes one text with a line per paragraph
func loadDOCX(_ context.Context, path string) ([]schema.Document, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := docxText(r.Editable().GetContent())
	return []schema.Document{{PageContent: content, Metadata: map[string]any{}}}, nil
}

func docxText(xml string) string {
	var lines []string
	for _, para := range strings.Split(xml, "</w:p>") {
		var b strings.Builder
		for _, m := range wordRunRe.FindAllStringSubmatch(para, -1) {
			b.WriteString(m[1])
		}
		if line := strings.TrimSpace(html.UnescapeString(b.String())); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// one document per slide, in slide order
func loadPPTX(_ context.Context, path string) ([]schema.Document, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: num, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var docs []schema.Document
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		var parts []string
		for _, m := range slideRunRe.FindAllStringSubmatch(string(data), -1) {
			parts = append(parts, html.UnescapeString(m[1]))
		}
		docs = append(docs, pageDoc(strings.Join(parts, " "), s.num))
	}
	return docs, nil
}

// one document per data row. The first row of each sheet is the header;
// cells are rendered as "header: value" lines. row_id is "<sheet>:<row>".
func loadXLSX(_ context.Context, path string) ([]schema.Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []schema.Document
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Str("sheet", sheet).Msg("Skipping unreadable sheet")
			continue
		}
		if len(rows) < 2 {
			continue
		}
		header := rows[0]
		for i, row := range rows[1:] {
			var lines []string
			for col, cell := range row {
				if strings.TrimSpace(cell) == "" {
					continue
				}
				name := fmt.Sprintf("column_%d", col+1)
				if col < len(header) && strings.TrimSpace(header[col]) != "" {
					name = strings.TrimSpace(header[col])
				}
				lines = append(lines, name+": "+cell)
			}
			if len(lines) == 0 {
				continue
			}
			rowNum := i + 2
			docs = append(docs, schema.Document{
				PageContent: strings.Join(lines, "\n"),
				Metadata: map[string]any{
					models.MetaSheet: sheet,
					models.MetaRowID: fmt.Sprintf("%s:%d", sheet, rowNum),
				},
			})
		}
	}
	return docs, nil
}

// one document per data row via the langchaingo CSV loader
func loadCSV(ctx context.Context, path string) ([]schema.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	docs, err := documentloaders.NewCSV(f).Load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]any)
		}
		row, ok := docs[i].Metadata["row"]
		if !ok {
			row = i + 1
		}
		docs[i].Metadata[models.MetaRowID] = fmt.Sprint(row)
	}
	return docs, nil
}
