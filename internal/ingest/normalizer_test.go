package ingest

import (
	"testing"
	"time"

	"github.com/david/contract-finder/internal/scoring"
	"github.com/stretchr/testify/assert"
)

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short text unchanged", in: "abc", max: 10, want: "abc"},
		{name: "ascii truncated", in: "abcdefghij", max: 6, want: "abc..."},
		{name: "multibyte rune kept whole", in: "ééééé", max: 6, want: "é..."},
		{name: "tiny limit", in: "abcdef", max: 2, want: "ab"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TruncateText(tc.in, tc.max))
		})
	}
}

func TestDescriptionText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text collapses whitespace", in: "  Cloud\n\tmigration ", want: "Cloud migration"},
		{name: "paragraphs stay separated", in: "<p>Scope</p><p>Deliverables</p>", want: "Scope Deliverables"},
		{name: "scripts are dropped", in: "<div>Safe<script>steal()</script></div>", want: "Safe"},
		{name: "invalid utf8 removed", in: "SOC\xff support", want: "SOC support"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, descriptionText(tc.in))
		})
	}
}

func TestCleanCodes(t *testing.T) {
	assert.Equal(t, []string{"541512", "D310"}, cleanCodes(" 541512", "", "d310", "541512 "))
	assert.Equal(t, []string{}, cleanCodes())
}

func TestRollingWindow(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	w := RollingWindow(now, 0)
	assert.Equal(t, now, w.To)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), w.From)
}

func TestHardFilter(t *testing.T) {
	rules := scoring.DefaultRules().Filters

	tests := []struct {
		name    string
		listing RawListing
		want    string
	}{
		{name: "inactive", listing: RawListing{Active: false}, want: FilterInactive},
		{name: "past due", listing: RawListing{Active: true, ResponseDeadline: at(-2)}, want: FilterPastDue},
		{name: "deadline later today passes", listing: RawListing{Active: true, ResponseDeadline: at(0)}, want: ""},
		{name: "unsupported naics", listing: RawListing{Active: true, NAICSCodes: []string{"236220"}}, want: FilterUnsupportedCodes},
		{name: "one supported naics keeps it", listing: RawListing{Active: true, NAICSCodes: []string{"236220", "541512"}}, want: ""},
		{name: "supported psc rescues unsupported naics", listing: RawListing{Active: true, NAICSCodes: []string{"236220"}, PSCCodes: []string{"D310"}}, want: ""},
		{name: "no codes is scored", listing: RawListing{Active: true}, want: ""},
		{name: "psc prefix is case insensitive", listing: RawListing{Active: true, PSCCodes: []string{"r408"}}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, hardFilter(tc.listing, rules, testNow))
		})
	}
}
