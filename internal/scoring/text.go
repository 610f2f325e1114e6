package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var agencyAbbreviations = map[string]string{
	"dept":   "department",
	"dep":    "department",
	"admin":  "administration",
	"adm":    "administration",
	"svc":    "service",
	"svcs":   "services",
	"cmd":    "command",
	"natl":   "national",
	"gen":    "general",
	"sys":    "systems",
	"agcy":   "agency",
	"bur":    "bureau",
	"hq":     "headquarters",
	"usa":    "",
	"us":     "",
	"u":      "",
	"s":      "",
	"united": "",
	"states": "",
}

// NormalizeAgency lowercases an agency name, splits hierarchical paths and
// punctuation into spaces and expands common abbreviations.
func NormalizeAgency(name string) string {
	return strings.Join(AgencyTokens(name), " ")
}

// AgencyTokens returns the normalized tokens of an agency name.
func AgencyTokens(name string) []string {
	var out []string
	for _, tok := range Tokenize(name) {
		if full, ok := agencyAbbreviations[tok]; ok {
			if full == "" {
				continue
			}
			tok = full
		}
		out = append(out, tok)
	}
	return out
}

// Tokenize splits text into lowercase alphanumeric tokens.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsTerm reports whether term occurs in text on word boundaries,
// ignoring case. Both arguments must already be lowercased.
func containsTerm(text, term string) bool {
	if term == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], term)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
}

func boundaryBefore(text string, start int) bool {
	if start <= 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return !isWordRune(r)
}

func boundaryAfter(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func codeSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		if n := normalizeCode(c); n != "" {
			set[n] = true
		}
	}
	return set
}
