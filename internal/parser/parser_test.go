package parser

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"document-index/internal/errs"
	"document-index/internal/models"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_TextPages(t *testing.T) {
	path := writeFile(t, "notes.txt", "page one\fpage two\f  \fpage four")

	docs, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "page one", docs[0].PageContent)
	assert.Equal(t, "1", docs[0].Metadata[models.MetaRowID])
	assert.Equal(t, "4", docs[2].Metadata[models.MetaRowID], "blank pages keep numbering")
	for _, d := range docs {
		assert.Equal(t, path, d.Metadata[models.MetaSource])
		assert.Equal(t, path, d.Metadata[models.MetaFilePath])
		assert.Equal(t, "notes.txt", d.Metadata[models.MetaFileName])
	}
}

func TestLoad_MarkdownSections(t *testing.T) {
	path := writeFile(t, "guide.md", "Intro text.\n\n# Title\n\nPara one.\n\n## Sub\n\nPara two.\n\n### Deep\n\nPara three.\n")

	docs, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "Intro text.", docs[0].PageContent)
	assert.NotContains(t, docs[0].Metadata, models.MetaSection)

	assert.Equal(t, "# Title\n\nPara one.", docs[1].PageContent)
	assert.Equal(t, "Title", docs[1].Metadata[models.MetaSection])
	assert.Equal(t, "2", docs[1].Metadata[models.MetaRowID])

	assert.Contains(t, docs[2].PageContent, "### Deep")
	assert.Equal(t, "Sub", docs[2].Metadata[models.MetaSection])
}

func TestLoad_CSVRows(t *testing.T) {
	path := writeFile(t, "people.csv", "name,city\nAda,London\nLinus,Helsinki\n")

	docs, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Contains(t, docs[0].PageContent, "name: Ada")
	assert.Contains(t, docs[1].PageContent, "city: Helsinki")
	assert.NotEqual(t, docs[0].Metadata[models.MetaRowID], docs[1].Metadata[models.MetaRowID])
}

func TestLoad_XLSXRows(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"sku", "price"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"A-1", 10}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"B-2", 20}))
	path := filepath.Join(t.TempDir(), "prices.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	docs, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "sku: A-1\nprice: 10", docs[0].PageContent)
	assert.Equal(t, "Sheet1:2", docs[0].Metadata[models.MetaRowID])
	assert.Equal(t, "Sheet1:4", docs[1].Metadata[models.MetaRowID])
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

const docxBody = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
	`<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p>` +
	`<w:p></w:p>` +
	`<w:p><w:r><w:t>Fish &amp; chips</w:t></w:r></w:p>` +
	`</w:body></w:document>`

func TestDocxText(t *testing.T) {
	assert.Equal(t, "Hello world\nFish & chips", docxText(docxBody))
}

func TestLoad_DOCX(t *testing.T) {
	path := writeZip(t, "memo.docx", map[string]string{
		"word/document.xml":            docxBody,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
	})

	docs, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Hello world\nFish & chips", docs[0].PageContent)
	assert.NotContains(t, docs[0].Metadata, models.MetaRowID)
}

func TestLoad_PPTXSlidesInOrder(t *testing.T) {
	path := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide2.xml":            `<p:sld><a:t>Second</a:t></p:sld>`,
		"ppt/slides/slide1.xml":            `<p:sld><a:t>First</a:t><a:t>slide</a:t></p:sld>`,
		"ppt/slides/_rels/slide1.xml.rels": `<Relationships/>`,
	})

	docs, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "First slide", docs[0].PageContent)
	assert.Equal(t, "1", docs[0].Metadata[models.MetaRowID])
	assert.Equal(t, "Second", docs[1].PageContent)
}

func TestLoad_Unsupported(t *testing.T) {
	path := writeFile(t, "image.png", "not really")

	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnsupportedFormat)
	assert.Equal(t, errs.KindUnsupported, errs.KindOf(err))
	assert.False(t, Supported(".png"))
	assert.True(t, Supported(".PDF"))
}

func TestLoad_CorruptPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-garbage")

	_, err := Load(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, errs.KindIO, errs.KindOf(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
