// Package scoring implements the rule-based relevance scorer for opportunities
// and historical awards. Scores are pure functions of the input attributes,
// the rule table and the reference time.
package scoring

import (
	"strings"
	"time"

	"github.com/david/contract-finder/internal/models"
)

const (
	SignalNAICSMatch         = "naics_match"
	SignalPSCMatch           = "psc_match"
	SignalSetAsideMatch      = "set_aside_match"
	SignalKeywordPrefix      = "keyword:"
	SignalAgencyHistory      = "agency_history"
	SignalResponseWindowOpen = "response_window_open"
	SignalBaseScore          = "base_score"
)

// Attributes are the opportunity fields the scorer reads.
type Attributes struct {
	NAICSCodes       []string
	PSCCodes         []string
	SetAsides        []string
	Keywords         []string
	Agency           string
	ResponseDeadline *time.Time
}

// AttributesOf extracts the scoring attributes of an opportunity.
func AttributesOf(o *models.Opportunity) Attributes {
	return Attributes{
		NAICSCodes:       o.NAICSCodes,
		PSCCodes:         o.PSCCodes,
		SetAsides:        o.SetAsides,
		Keywords:         o.Keywords,
		Agency:           o.Agency,
		ResponseDeadline: o.ResponseDeadline,
	}
}

// Result is a score in [0,100] and the signals that produced it, in rule order.
type Result struct {
	Score   int      `json:"score"`
	Signals []string `json:"signals"`
}

type Scorer struct {
	rules *RuleTable

	naics     map[string]bool
	psc       map[string]bool
	setAsides map[string]bool
	agencies  []string
	terms     []string
}

func NewScorer(rules *RuleTable) *Scorer {
	s := &Scorer{
		rules:     rules,
		naics:     codeSet(rules.TargetNAICS),
		psc:       codeSet(rules.TargetPSC),
		setAsides: codeSet(rules.EligibleSetAsides),
	}
	for _, a := range rules.HistoricalAgencies {
		if n := NormalizeAgency(a); n != "" {
			s.agencies = append(s.agencies, n)
		}
	}
	for _, term := range rules.Keywords {
		s.terms = append(s.terms, strings.ToLower(strings.TrimSpace(term)))
	}
	return s
}

func (s *Scorer) Rules() *RuleTable { return s.rules }

// Score applies the rule table to attrs. Missing fields contribute nothing.
func (s *Scorer) Score(attrs Attributes, now time.Time) Result {
	w := s.rules.Weights
	score := s.rules.BaseScore
	signals := []string{}
	if score > 0 {
		signals = append(signals, SignalBaseScore)
	}

	if anyIn(attrs.NAICSCodes, s.naics) {
		score += w.NAICSMatch
		signals = append(signals, SignalNAICSMatch)
	}
	if anyIn(attrs.PSCCodes, s.psc) {
		score += w.PSCMatch
		signals = append(signals, SignalPSCMatch)
	}
	if anyIn(attrs.SetAsides, s.setAsides) {
		score += w.SetAsideMatch
		signals = append(signals, SignalSetAsideMatch)
	}

	if len(attrs.Keywords) > 0 {
		have := make(map[string]bool, len(attrs.Keywords))
		for _, k := range attrs.Keywords {
			have[strings.ToLower(strings.TrimSpace(k))] = true
		}
		keywordPoints := 0
		for i, term := range s.terms {
			if !have[term] {
				continue
			}
			keywordPoints += w.KeywordHit
			signals = append(signals, SignalKeywordPrefix+strings.TrimSpace(s.rules.Keywords[i]))
		}
		if w.KeywordCap > 0 && keywordPoints > w.KeywordCap {
			keywordPoints = w.KeywordCap
		}
		score += keywordPoints
	}

	if s.agencyInHistory(attrs.Agency) {
		score += w.AgencyHistory
		signals = append(signals, SignalAgencyHistory)
	}

	if s.responseWindowOpen(attrs.ResponseDeadline, now) {
		score += w.ResponseWindowOpen
		signals = append(signals, SignalResponseWindowOpen)
	}

	return Result{Score: models.ClampScore(score), Signals: signals}
}

// DetectKeywords returns the curated terms present in any of texts, in rule
// order and with the rule table's spelling.
func (s *Scorer) DetectKeywords(texts ...string) []string {
	lowered := make([]string, 0, len(texts))
	for _, t := range texts {
		if t != "" {
			lowered = append(lowered, strings.ToLower(t))
		}
	}

	found := []string{}
	for i, term := range s.terms {
		for _, text := range lowered {
			if containsTerm(text, term) {
				found = append(found, strings.TrimSpace(s.rules.Keywords[i]))
				break
			}
		}
	}
	return found
}

func (s *Scorer) agencyInHistory(agency string) bool {
	if agency == "" {
		return false
	}
	n := " " + NormalizeAgency(agency) + " "
	for _, a := range s.agencies {
		if strings.Contains(n, " "+a+" ") {
			return true
		}
	}
	return false
}

func (s *Scorer) responseWindowOpen(deadline *time.Time, now time.Time) bool {
	if deadline == nil {
		return false
	}
	minWindow := time.Duration(s.rules.ResponseWindowMinDays) * 24 * time.Hour
	return deadline.Sub(now) >= minWindow
}

func anyIn(values []string, set map[string]bool) bool {
	for _, v := range values {
		if set[normalizeCode(v)] {
			return true
		}
	}
	return false
}
