package ingest

import (
	"strings"
	"time"

	"github.com/david/contract-finder/internal/scoring"
)

// Reasons a listing is dropped before scoring.
const (
	FilterInactive         = "inactive"
	FilterPastDue          = "past_due"
	FilterUnsupportedCodes = "unsupported_codes"
)

// hardFilter returns the reason l must be dropped, or "" if it passes.
//
// The code filter only applies to dimensions that are both configured and
// present on the listing: a listing without NAICS or PSC codes is scored,
// not dropped, and one supported code in any evaluated dimension keeps it.
func hardFilter(l RawListing, rules scoring.FilterRules, now time.Time) string {
	if !l.Active {
		return FilterInactive
	}
	if l.ResponseDeadline != nil && l.ResponseDeadline.Before(now) {
		return FilterPastDue
	}

	evaluated := false
	supported := false
	if len(rules.SupportedNAICSPrefixes) > 0 && len(l.NAICSCodes) > 0 {
		evaluated = true
		supported = supported || anyHasPrefix(l.NAICSCodes, rules.SupportedNAICSPrefixes)
	}
	if len(rules.SupportedPSCPrefixes) > 0 && len(l.PSCCodes) > 0 {
		evaluated = true
		supported = supported || anyHasPrefix(l.PSCCodes, rules.SupportedPSCPrefixes)
	}
	if evaluated && !supported {
		return FilterUnsupportedCodes
	}
	return ""
}

func anyHasPrefix(codes, prefixes []string) bool {
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		for _, p := range prefixes {
			p = strings.ToUpper(strings.TrimSpace(p))
			if p != "" && strings.HasPrefix(c, p) {
				return true
			}
		}
	}
	return false
}
