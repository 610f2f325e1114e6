package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultUSASpendingBaseURL = "https://api.usaspending.gov"

// contractAwardTypes are the USAspending award type codes for contracts.
var contractAwardTypes = []string{"A", "B", "C", "D"}

var awardSearchFields = []string{
	"Award ID",
	"Recipient Name",
	"Awarding Agency",
	"Awarding Sub Agency",
	"Award Amount",
	"Description",
	"Start Date",
	"End Date",
	"NAICS",
	"generated_internal_id",
}

// RawAward is one contract award as returned by the spending search.
type RawAward struct {
	AwardID          string
	InternalID       string
	RecipientName    string
	Agency           string
	SubAgency        string
	Description      string
	Amount           float64
	NAICSCode        string
	StartDate        *time.Time
	EndDate          *time.Time
	TransactionCount int
	SubawardCount    int
}

// AwardQuery selects awards for one NAICS code.
type AwardQuery struct {
	NAICSCode string
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
}

// USASpendingSource reads historical contract awards from the USAspending API.
type USASpendingSource struct {
	Client     *http.Client
	BaseURL    string
	MaxRetries int
}

func NewUSASpendingSource(baseURL string, timeout time.Duration) *USASpendingSource {
	if baseURL == "" {
		baseURL = DefaultUSASpendingBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &USASpendingSource{
		Client:     &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		MaxRetries: 2,
	}
}

type spendingSearchRequest struct {
	Filters spendingFilters `json:"filters"`
	Fields  []string        `json:"fields"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
	Sort    string          `json:"sort"`
	Order   string          `json:"order"`
}

type spendingFilters struct {
	AwardTypeCodes []string             `json:"award_type_codes"`
	NAICSCodes     []string             `json:"naics_codes,omitempty"`
	TimePeriod     []spendingTimePeriod `json:"time_period"`
}

type spendingTimePeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type spendingSearchResponse struct {
	Results      []map[string]json.RawMessage `json:"results"`
	PageMetadata struct {
		Page    int  `json:"page"`
		HasNext bool `json:"hasNext"`
	} `json:"page_metadata"`
}

// SearchAwards returns one page of awards and whether another page exists.
func (s *USASpendingSource) SearchAwards(ctx context.Context, q AwardQuery) ([]RawAward, bool, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 100
	}

	body := spendingSearchRequest{
		Filters: spendingFilters{
			AwardTypeCodes: contractAwardTypes,
			TimePeriod: []spendingTimePeriod{{
				StartDate: q.From.Format(time.DateOnly),
				EndDate:   q.To.Format(time.DateOnly),
			}},
		},
		Fields: awardSearchFields,
		Page:   q.Page,
		Limit:  q.Limit,
		Sort:   "Award Amount",
		Order:  "desc",
	}
	if q.NAICSCode != "" {
		body.Filters.NAICSCodes = []string{q.NAICSCode}
	}

	var out spendingSearchResponse
	if err := s.postJSON(ctx, "/api/v2/search/spending_by_award/", body, &out); err != nil {
		return nil, false, fmt.Errorf("award search naics=%s page=%d: %w", q.NAICSCode, q.Page, err)
	}

	awards := make([]RawAward, 0, len(out.Results))
	for _, row := range out.Results {
		a := RawAward{
			AwardID:       rawString(row["Award ID"]),
			InternalID:    rawString(row["generated_internal_id"]),
			RecipientName: cleanText(rawString(row["Recipient Name"])),
			Agency:        cleanText(rawString(row["Awarding Agency"])),
			SubAgency:     cleanText(rawString(row["Awarding Sub Agency"])),
			Description:   cleanText(rawString(row["Description"])),
			Amount:        rawFloat(row["Award Amount"]),
			NAICSCode:     rawNAICS(row["NAICS"]),
		}
		if a.NAICSCode == "" {
			a.NAICSCode = q.NAICSCode
		}
		if t, ok := parseSAMTime(rawString(row["Start Date"]), false); ok {
			a.StartDate = &t
		}
		if t, ok := parseSAMTime(rawString(row["End Date"]), false); ok {
			a.EndDate = &t
		}
		if a.AwardID == "" {
			continue
		}
		awards = append(awards, a)
	}

	return awards, out.PageMetadata.HasNext, nil
}

// AwardCounts returns the transaction and subaward counts of one award.
func (s *USASpendingSource) AwardCounts(ctx context.Context, internalID string) (transactions, subawards int, err error) {
	if internalID == "" {
		return 0, 0, fmt.Errorf("award has no internal id")
	}
	id := url.PathEscape(internalID)

	var tx struct {
		Transactions int `json:"transactions"`
	}
	if err := s.getJSON(ctx, "/api/v2/awards/count/transaction/"+id+"/", &tx); err != nil {
		return 0, 0, fmt.Errorf("transaction count %s: %w", internalID, err)
	}

	var sub struct {
		Subawards int `json:"subawards"`
	}
	if err := s.getJSON(ctx, "/api/v2/awards/count/subaward/"+id+"/", &sub); err != nil {
		return 0, 0, fmt.Errorf("subaward count %s: %w", internalID, err)
	}

	return tx.Transactions, sub.Subawards, nil
}

func (s *USASpendingSource) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return s.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (s *USASpendingSource) getJSON(ctx context.Context, path string, out interface{}) error {
	return s.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+path, nil)
	}, out)
}

func (s *USASpendingSource) do(ctx context.Context, build func() (*http.Request, error), out interface{}) error {
	resp, err := doWithRetry(ctx, s.Client, s.MaxRetries, 0, func() (*http.Request, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", defaultUserAgent)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(rawString(raw), ",", ""), 64); err == nil {
		return v
	}
	return 0
}

// rawNAICS accepts the NAICS field as a bare code or as {"code": ...}.
func rawNAICS(raw json.RawMessage) string {
	if s := rawString(raw); s != "" {
		return s
	}
	var obj struct {
		Code json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return rawString(obj.Code)
	}
	return ""
}
