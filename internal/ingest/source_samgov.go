package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSAMBaseURL = "https://api.sam.gov/opportunities/v2/search"
	samDateLayout     = "01/02/2006"
	samMaxPageSize    = 1000
)

// SAMGovSource lists contract opportunities from the SAM.gov Get
// Opportunities v2 API.
type SAMGovSource struct {
	Client     *http.Client
	BaseURL    string
	APIKey     string
	PageSize   int
	MaxPages   int
	MaxRetries int
	// NoticeTypes restricts the ptype parameter (e.g. "o", "k", "p"). Empty means all.
	NoticeTypes []string

	// Descriptions fetches the notice description URL. When nil, the
	// description field is kept as returned.
	Descriptions Fetcher

	logger *slog.Logger
}

func NewSAMGovSource(apiKey, baseURL string, timeout time.Duration) *SAMGovSource {
	if baseURL == "" {
		baseURL = DefaultSAMBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SAMGovSource{
		Client:      &http.Client{Timeout: timeout},
		BaseURL:     baseURL,
		APIKey:      apiKey,
		PageSize:    samMaxPageSize,
		MaxPages:    20,
		MaxRetries:  2,
		NoticeTypes: []string{"o", "k", "p", "r"},
		logger:      slog.Default(),
	}
}

func (s *SAMGovSource) WithLogger(l *slog.Logger) *SAMGovSource {
	s.logger = l
	return s
}

// samSearchResponse is the v2 search response envelope.
type samSearchResponse struct {
	TotalRecords      int         `json:"totalRecords"`
	Limit             int         `json:"limit"`
	Offset            int         `json:"offset"`
	OpportunitiesData []samNotice `json:"opportunitiesData"`
}

type samNotice struct {
	NoticeID           string   `json:"noticeId"`
	Title              string   `json:"title"`
	SolicitationNumber string   `json:"solicitationNumber"`
	FullParentPathName string   `json:"fullParentPathName"`
	Department         string   `json:"department"`
	SubTier            string   `json:"subTier"`
	PostedDate         string   `json:"postedDate"`
	Type               string   `json:"type"`
	BaseType           string   `json:"baseType"`
	ArchiveType        string   `json:"archiveType"`
	ArchiveDate        string   `json:"archiveDate"`
	TypeOfSetAside     string   `json:"typeOfSetAside"`
	TypeOfSetAsideDesc string   `json:"typeOfSetAsideDescription"`
	ResponseDeadLine   string   `json:"responseDeadLine"`
	NAICSCode          string   `json:"naicsCode"`
	NAICSCodes         []string `json:"naicsCodes"`
	ClassificationCode string   `json:"classificationCode"`
	Active             string   `json:"active"`
	Description        string   `json:"description"`
	UILink             string   `json:"uiLink"`
	ResourceLinks      []string `json:"resourceLinks"`
}

// FetchListings pages through the search API for the window. A failed page
// fails the whole fetch; listings are returned in source order.
func (s *SAMGovSource) FetchListings(ctx context.Context, w Window) ([]RawListing, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("SAM.gov API key is not configured")
	}

	pageSize := s.PageSize
	if pageSize <= 0 || pageSize > samMaxPageSize {
		pageSize = samMaxPageSize
	}

	var listings []RawListing
	for page := 0; s.MaxPages <= 0 || page < s.MaxPages; page++ {
		offset := page * pageSize
		resp, err := s.fetchPage(ctx, w, pageSize, offset)
		if err != nil {
			return nil, err
		}

		s.logger.Info("fetched SAM.gov page", "offset", offset, "count", len(resp.OpportunitiesData), "total", resp.TotalRecords)

		for _, n := range resp.OpportunitiesData {
			listings = append(listings, s.toListing(ctx, n))
		}

		if len(resp.OpportunitiesData) < pageSize || offset+len(resp.OpportunitiesData) >= resp.TotalRecords {
			break
		}
	}

	return listings, nil
}

func (s *SAMGovSource) fetchPage(ctx context.Context, w Window, limit, offset int) (*samSearchResponse, error) {
	q := url.Values{}
	q.Set("api_key", s.APIKey)
	q.Set("postedFrom", w.From.Format(samDateLayout))
	q.Set("postedTo", w.To.Format(samDateLayout))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if len(s.NoticeTypes) > 0 {
		q.Set("ptype", strings.Join(s.NoticeTypes, ","))
	}
	target := s.BaseURL + "?" + q.Encode()

	resp, err := doWithRetry(ctx, s.Client, s.MaxRetries, 0, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", defaultUserAgent)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("SAM.gov search (offset %d): %w", offset, err)
	}
	defer resp.Body.Close()

	var out samSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding SAM.gov response: %w", err)
	}
	return &out, nil
}

func (s *SAMGovSource) toListing(ctx context.Context, n samNotice) RawListing {
	l := RawListing{
		NoticeID:           strings.TrimSpace(n.NoticeID),
		SolicitationNumber: strings.TrimSpace(n.SolicitationNumber),
		Title:              cleanText(n.Title),
		Agency:             agencyName(n),
		NoticeType:         cleanText(n.Type),
		NAICSCodes:         cleanCodes(append([]string{n.NAICSCode}, n.NAICSCodes...)...),
		PSCCodes:           cleanCodes(n.ClassificationCode),
		SetAsides:          cleanCodes(n.TypeOfSetAside),
		UILink:             strings.TrimSpace(n.UILink),
		Active:             !strings.EqualFold(strings.TrimSpace(n.Active), "no"),
	}

	if t, ok := parseSAMTime(n.PostedDate, false); ok {
		l.PostedAt = &t
	}
	if t, ok := parseSAMTime(n.ResponseDeadLine, true); ok {
		l.ResponseDeadline = &t
	} else if strings.TrimSpace(n.ResponseDeadLine) != "" {
		l.Errors = append(l.Errors, fmt.Sprintf("unparseable response deadline %q", n.ResponseDeadLine))
	}

	for _, link := range n.ResourceLinks {
		if link = strings.TrimSpace(link); link != "" {
			l.AttachmentURLs = append(l.AttachmentURLs, s.withAPIKey(link))
		}
	}

	desc := strings.TrimSpace(n.Description)
	if isHTTPURL(desc) {
		if s.Descriptions == nil {
			desc = ""
		} else if text, err := s.fetchDescription(ctx, desc); err != nil {
			s.logger.Warn("description fetch failed", "notice_id", l.NoticeID, "error", err)
			l.Errors = append(l.Errors, fmt.Sprintf("description: %v", err))
			desc = ""
		} else {
			desc = text
		}
	} else {
		desc = descriptionText(desc)
	}
	l.Description = desc

	return l
}

// fetchDescription retrieves the notice description. The endpoint answers
// with {"description": "<html>"}; anything else is treated as the HTML body.
func (s *SAMGovSource) fetchDescription(ctx context.Context, descURL string) (string, error) {
	doc, err := s.Descriptions.Fetch(ctx, s.withAPIKey(descURL))
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	body, err := io.ReadAll(doc.Body)
	if err != nil {
		return "", err
	}

	var payload struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		return descriptionText(payload.Description), nil
	}
	return descriptionText(string(body)), nil
}

func (s *SAMGovSource) withAPIKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || s.APIKey == "" {
		return raw
	}
	q := u.Query()
	if q.Get("api_key") == "" {
		q.Set("api_key", s.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// agencyName prefers the full hierarchical path, falling back to the
// department/sub-tier pair.
func agencyName(n samNotice) string {
	if path := cleanText(n.FullParentPathName); path != "" {
		return path
	}
	parts := []string{}
	for _, p := range []string{n.Department, n.SubTier} {
		if p = cleanText(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

var samTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// parseSAMTime parses the timestamp formats the API mixes. With endOfDay set,
// a date-only value resolves to the last second of that day.
func parseSAMTime(raw string, endOfDay bool) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range samTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if endOfDay && (layout == "2006-01-02" || layout == "01/02/2006") {
				t = t.Add(24*time.Hour - time.Second)
			}
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
