package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	rpdf "rsc.io/pdf"
)

const defaultMaxAttachmentBytes = 15 * 1024 * 1024

// AttachmentScanner downloads solicitation attachments and returns their
// plain text so curated keywords can be detected in them.
type AttachmentScanner struct {
	Fetcher        Fetcher
	MaxAttachments int
	MaxBytes       int64
}

func NewAttachmentScanner(f Fetcher, maxAttachments int) *AttachmentScanner {
	if maxAttachments <= 0 {
		maxAttachments = 3
	}
	return &AttachmentScanner{Fetcher: f, MaxAttachments: maxAttachments, MaxBytes: defaultMaxAttachmentBytes}
}

// Texts returns the extracted text of up to MaxAttachments attachments and
// one error string per attachment that could not be read. Unsupported
// formats are skipped silently.
func (s *AttachmentScanner) Texts(ctx context.Context, urls []string) ([]string, []string) {
	var texts, errs []string
	limit := len(urls)
	if s.MaxAttachments > 0 && limit > s.MaxAttachments {
		limit = s.MaxAttachments
	}

	for _, u := range urls[:limit] {
		text, err := s.text(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Sprintf("attachment %s: %v", redactURL(u), err))
			continue
		}
		if text != "" {
			texts = append(texts, text)
		}
	}
	return texts, errs
}

func (s *AttachmentScanner) text(ctx context.Context, u string) (string, error) {
	doc, err := s.Fetcher.Fetch(ctx, u)
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxAttachmentBytes
	}
	content, err := io.ReadAll(io.LimitReader(doc.Body, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if int64(len(content)) > maxBytes {
		return "", fmt.Errorf("larger than %d bytes", maxBytes)
	}

	contentType := strings.ToLower(doc.ContentType)
	switch {
	case bytes.HasPrefix(content, []byte("%PDF")) || strings.Contains(contentType, "application/pdf"):
		text, err := extractPDFText(content)
		if err != nil {
			return "", fmt.Errorf("pdf text extraction failed: %w", err)
		}
		return cleanText(text), nil
	case strings.HasPrefix(contentType, "text/html"):
		return HTMLToText(sanitizeHTML(string(content))), nil
	case strings.HasPrefix(contentType, "text/"):
		return cleanText(sanitizeUTF8(string(content))), nil
	}
	return "", nil
}

func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// redactURL drops the query string, which may carry an API key.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
