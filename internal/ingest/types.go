package ingest

import (
	"context"
	"io"
	"time"
)

// Window is the posted-date range requested from a listing source.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RollingWindow returns the window covering the last days days up to now.
func RollingWindow(now time.Time, days int) Window {
	if days <= 0 {
		days = 30
	}
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

// RawListing is one opportunity as returned by the procurement source, before
// filtering and scoring.
type RawListing struct {
	NoticeID           string
	SolicitationNumber string
	Title              string
	Description        string
	Agency             string
	NoticeType         string
	NAICSCodes         []string
	PSCCodes           []string
	SetAsides          []string
	PostedAt           *time.Time
	ResponseDeadline   *time.Time
	UILink             string
	Active             bool
	AttachmentURLs     []string

	// Errors collects failures of optional retrieval steps for this listing.
	Errors []string
}

// Source lists raw opportunities for a posted-date window.
type Source interface {
	FetchListings(ctx context.Context, w Window) ([]RawListing, error)
}

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}
