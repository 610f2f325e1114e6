package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockDoc struct {
	contentType string
	body        string
}

type mockFetcher struct {
	docs map[string]mockDoc
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	doc, ok := m.docs[url]
	if !ok {
		return nil, errors.New("mock 404")
	}
	return &FetchedDocument{
		URL:         url,
		StatusCode:  200,
		ContentType: doc.contentType,
		Body:        io.NopCloser(strings.NewReader(doc.body)),
		FetchedAt:   time.Now(),
	}, nil
}

func TestAttachmentScanner_Texts(t *testing.T) {
	scanner := NewAttachmentScanner(&mockFetcher{docs: map[string]mockDoc{
		"https://f/a.html": {contentType: "text/html; charset=utf-8", body: "<p>Zero trust</p><script>alert(1)</script><p>roadmap</p>"},
		"https://f/b.txt":  {contentType: "text/plain", body: "  penetration   testing  "},
		"https://f/c.docx": {contentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", body: "PK..."},
		"https://f/d.txt":  {contentType: "text/plain", body: "never read"},
	}}, 3)

	texts, errs := scanner.Texts(context.Background(), []string{
		"https://f/a.html",
		"https://f/b.txt",
		"https://f/c.docx",
		"https://f/d.txt",
	})

	assert.Empty(t, errs)
	assert.Equal(t, []string{"Zero trust roadmap", "penetration testing"}, texts)
}

func TestAttachmentScanner_ReportsFailuresWithoutQuery(t *testing.T) {
	scanner := NewAttachmentScanner(&mockFetcher{}, 3)

	texts, errs := scanner.Texts(context.Background(), []string{"https://f/x.pdf?api_key=secret"})

	assert.Empty(t, texts)
	assert.Equal(t, []string{"attachment https://f/x.pdf: mock 404"}, errs)
}

func TestAttachmentScanner_RejectsOversizedFiles(t *testing.T) {
	scanner := NewAttachmentScanner(&mockFetcher{docs: map[string]mockDoc{
		"https://f/big.txt": {contentType: "text/plain", body: strings.Repeat("a", 64)},
	}}, 1)
	scanner.MaxBytes = 16

	_, errs := scanner.Texts(context.Background(), []string{"https://f/big.txt"})
	if assert.Len(t, errs, 1) {
		assert.Contains(t, errs[0], "larger than 16 bytes")
	}
}

func TestExtractPDFText_InvalidInput(t *testing.T) {
	_, err := extractPDFText([]byte("%PDF-1.4 truncated"))
	assert.Error(t, err)
}
