package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samPageJSON = `{
  "totalRecords": 3,
  "limit": 2,
  "offset": %d,
  "opportunitiesData": [%s]
}`

const samNoticeA = `{
  "noticeId": "abc123",
  "title": "  Zero Trust   Implementation ",
  "solicitationNumber": "N00024-26-R-0001",
  "fullParentPathName": "DEPT OF DEFENSE.DEPT OF THE NAVY",
  "postedDate": "2026-02-20",
  "type": "Solicitation",
  "typeOfSetAside": "sdvosbc",
  "responseDeadLine": "2026-03-20T17:00:00-05:00",
  "naicsCode": "541512",
  "classificationCode": "D310",
  "active": "Yes",
  "description": "https://api.sam.gov/prod/opportunities/v1/noticedesc?noticeid=abc123",
  "uiLink": "https://sam.gov/opp/abc123/view",
  "resourceLinks": ["https://sam.gov/api/prod/opps/v3/opportunities/resources/files/1/download"]
}`

const samNoticeB = `{
  "noticeId": "def456",
  "title": "Janitorial services",
  "department": "GENERAL SERVICES ADMINISTRATION",
  "subTier": "PUBLIC BUILDINGS SERVICE",
  "postedDate": "2026-02-21",
  "responseDeadLine": "soon",
  "naicsCode": "561720",
  "active": "No",
  "description": "<p>Clean <b>things</b></p>"
}`

const samNoticeC = `{"noticeId": "ghi789", "title": "Third", "postedDate": "2026-02-22", "responseDeadLine": "03/15/2026", "active": "Yes"}`

func newSAMTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		q := r.URL.Query()
		assert.Equal(t, "test-key", q.Get("api_key"))
		assert.Equal(t, "02/01/2026", q.Get("postedFrom"))
		assert.Equal(t, "03/01/2026", q.Get("postedTo"))

		w.Header().Set("Content-Type", "application/json")
		switch q.Get("offset") {
		case "0":
			fmt.Fprintf(w, samPageJSON, 0, samNoticeA+","+samNoticeB)
		case "2":
			fmt.Fprintf(w, samPageJSON, 2, samNoticeC)
		default:
			t.Errorf("unexpected offset %q", q.Get("offset"))
		}
	}))
}

func TestSAMGovSource_FetchListings(t *testing.T) {
	var hits int32
	srv := newSAMTestServer(t, &hits)
	defer srv.Close()

	src := NewSAMGovSource("test-key", srv.URL, 5*time.Second)
	src.PageSize = 2
	src.Descriptions = &mockFetcher{docs: map[string]mockDoc{
		"https://api.sam.gov/prod/opportunities/v1/noticedesc?api_key=test-key&noticeid=abc123": {
			contentType: "application/json",
			body:        `{"description": "<p>Implement <b>zero trust</b> per DoD guidance.</p>"}`,
		},
	}}

	w := Window{From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	listings, err := src.FetchListings(context.Background(), w)
	require.NoError(t, err)
	require.Len(t, listings, 3)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))

	a := listings[0]
	assert.Equal(t, "abc123", a.NoticeID)
	assert.Equal(t, "Zero Trust Implementation", a.Title)
	assert.Equal(t, "DEPT OF DEFENSE.DEPT OF THE NAVY", a.Agency)
	assert.Equal(t, []string{"541512"}, a.NAICSCodes)
	assert.Equal(t, []string{"D310"}, a.PSCCodes)
	assert.Equal(t, []string{"SDVOSBC"}, a.SetAsides)
	assert.True(t, a.Active)
	assert.Equal(t, "Implement zero trust per DoD guidance.", a.Description)
	require.NotNil(t, a.ResponseDeadline)
	assert.Equal(t, time.Date(2026, 3, 20, 22, 0, 0, 0, time.UTC), *a.ResponseDeadline)
	require.Len(t, a.AttachmentURLs, 1)
	assert.Contains(t, a.AttachmentURLs[0], "api_key=test-key")
	assert.Empty(t, a.Errors)

	b := listings[1]
	assert.Equal(t, "GENERAL SERVICES ADMINISTRATION.PUBLIC BUILDINGS SERVICE", b.Agency)
	assert.False(t, b.Active)
	assert.Nil(t, b.ResponseDeadline)
	assert.Equal(t, "Clean things", b.Description)
	require.Len(t, b.Errors, 1)
	assert.Contains(t, b.Errors[0], "unparseable response deadline")

	c := listings[2]
	require.NotNil(t, c.ResponseDeadline)
	assert.Equal(t, time.Date(2026, 3, 15, 23, 59, 59, 0, time.UTC), *c.ResponseDeadline)
	require.NotNil(t, c.PostedAt)
	assert.Equal(t, time.Date(2026, 2, 22, 0, 0, 0, 0, time.UTC), *c.PostedAt)
}

func TestSAMGovSource_DescriptionFailureIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, samPageJSON, 0, samNoticeA)
	}))
	defer srv.Close()

	src := NewSAMGovSource("test-key", srv.URL, 5*time.Second)
	src.Descriptions = &mockFetcher{}

	listings, err := src.FetchListings(context.Background(), RollingWindow(testNow, 7))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Empty(t, listings[0].Description)
	require.Len(t, listings[0].Errors, 1)
	assert.True(t, strings.HasPrefix(listings[0].Errors[0], "description:"))
}

func TestSAMGovSource_RequiresAPIKey(t *testing.T) {
	_, err := NewSAMGovSource("", "http://127.0.0.1:1", time.Second).FetchListings(context.Background(), RollingWindow(testNow, 7))
	assert.ErrorContains(t, err, "API key")
}

func TestSAMGovSource_ErrorStatusFailsFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewSAMGovSource("test-key", srv.URL, 5*time.Second).FetchListings(context.Background(), RollingWindow(testNow, 7))
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}

func TestParseSAMTime(t *testing.T) {
	got, ok := parseSAMTime("2026-04-01", true)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 4, 1, 23, 59, 59, 0, time.UTC), got)

	got, ok = parseSAMTime("2026-04-01", false)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), got)

	_, ok = parseSAMTime("next week", false)
	assert.False(t, ok)
}
