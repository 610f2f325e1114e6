package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var descriptionPolicy = bluemonday.UGCPolicy()

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	if maxLen > 3 {
		cut = maxLen - 3
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if maxLen > 3 {
		return text[:cut] + "..."
	}
	return text[:cut]
}

// HTMLToText converts HTML to plain text, collapsing whitespace. Block
// elements are separated so adjacent paragraphs do not run together.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cleanText(html)
	}
	doc.Find("script, style").Remove()
	doc.Find("p, div, li, br, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return cleanText(doc.Text())
}

// sanitizeHTML uses bluemonday to strip unsafe tags and attributes from HTML.
func sanitizeHTML(s string) string {
	return descriptionPolicy.Sanitize(s)
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// descriptionText turns a description payload into plain text. HTML is
// sanitized before the text is extracted.
func descriptionText(raw string) string {
	raw = sanitizeUTF8(raw)
	if !strings.ContainsAny(raw, "<>") {
		return cleanText(raw)
	}
	return HTMLToText(sanitizeHTML(raw))
}
