// Package linker links discovered opportunities to historical awards that
// likely represent the incumbent contract.
package linker

import (
	"math"
	"strings"

	"github.com/david/contract-finder/internal/models"
	"github.com/david/contract-finder/internal/scoring"
)

// Criterion names, stored on each AwardLink.
const (
	CriterionAgency    = "agency"
	CriterionNAICS     = "naics"
	CriterionKeywords  = "keywords"
	CriterionIncumbent = "incumbent"
)

const (
	MinMatchedCriteria = 2
	MinConfidence      = 0.70
)

type criterionRule struct {
	name      string
	weight    float64
	threshold float64
	score     func(opp *models.Opportunity, award *models.HistoricalAward) float64
}

var criteria = []criterionRule{
	{name: CriterionAgency, weight: 0.40, threshold: 0.80, score: agencySimilarity},
	{name: CriterionNAICS, weight: 0.30, threshold: 1, score: naicsMatch},
	{name: CriterionKeywords, weight: 0.20, threshold: 0.30, score: keywordOverlap},
	{name: CriterionIncumbent, weight: 0.10, threshold: 0.60, score: incumbentMention},
}

// CriterionResult is one criterion evaluated for an opportunity/award pair.
// Score is normalized to [0,1].
type CriterionResult struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Weight  float64 `json:"weight"`
	Matched bool    `json:"matched"`
}

// Decision is the outcome of matching one pair.
type Decision struct {
	Link       bool              `json:"link"`
	Confidence float64           `json:"confidence"`
	Matched    []string          `json:"matched"`
	Results    []CriterionResult `json:"results"`
}

// Evaluate scores every criterion for the pair, in a fixed order.
func Evaluate(opp *models.Opportunity, award *models.HistoricalAward) []CriterionResult {
	out := make([]CriterionResult, 0, len(criteria))
	for _, c := range criteria {
		s := clamp01(c.score(opp, award))
		out = append(out, CriterionResult{
			Name:    c.name,
			Score:   s,
			Weight:  c.weight,
			Matched: s >= c.threshold,
		})
	}
	return out
}

// Decide links a pair only when at least two criteria matched and the
// weighted confidence of the matched criteria reaches MinConfidence.
func Decide(results []CriterionResult) Decision {
	d := Decision{Matched: []string{}, Results: results}
	sum := 0.0
	for _, r := range results {
		if !r.Matched {
			continue
		}
		d.Matched = append(d.Matched, r.Name)
		sum += r.Weight * r.Score
	}
	d.Confidence = math.Round(sum*10000) / 10000
	d.Link = len(d.Matched) >= MinMatchedCriteria && d.Confidence >= MinConfidence
	return d
}

// Match evaluates and decides a pair.
func Match(opp *models.Opportunity, award *models.HistoricalAward) Decision {
	return Decide(Evaluate(opp, award))
}

// agencySimilarity is the best token Dice coefficient between any level of
// the opportunity's agency path and the award's agency or sub-agency.
func agencySimilarity(opp *models.Opportunity, award *models.HistoricalAward) float64 {
	levels := append([]string{opp.Agency}, strings.Split(opp.Agency, ".")...)
	best := 0.0
	for _, level := range levels {
		a := tokenSet(scoring.AgencyTokens(level), agencyStopwords)
		if len(a) == 0 {
			continue
		}
		for _, candidate := range []string{award.Agency, award.SubAgency} {
			b := tokenSet(scoring.AgencyTokens(candidate), agencyStopwords)
			if d := dice(a, b); d > best {
				best = d
			}
		}
	}
	return best
}

func naicsMatch(opp *models.Opportunity, award *models.HistoricalAward) float64 {
	code := strings.TrimSpace(award.NAICSCode)
	if code == "" {
		return 0
	}
	for _, c := range opp.NAICSCodes {
		if strings.TrimSpace(c) == code {
			return 1
		}
	}
	return 0
}

// keywordOverlap is the overlap coefficient of significant terms in the
// opportunity text and the award description.
func keywordOverlap(opp *models.Opportunity, award *models.HistoricalAward) float64 {
	oppTerms := tokenSet(scoring.Tokenize(opp.Title+" "+opp.Description+" "+strings.Join(opp.Keywords, " ")), textStopwords)
	awardTerms := tokenSet(scoring.Tokenize(award.Description), textStopwords)
	if len(oppTerms) == 0 || len(awardTerms) == 0 {
		return 0
	}
	shared := 0
	for t := range awardTerms {
		if oppTerms[t] {
			shared++
		}
	}
	return float64(shared) / float64(min(len(oppTerms), len(awardTerms)))
}

// incumbentMention is the share of the recipient's significant name tokens
// that appear in the opportunity text.
func incumbentMention(opp *models.Opportunity, award *models.HistoricalAward) float64 {
	name := tokenSet(scoring.Tokenize(award.RecipientName), companyStopwords)
	if len(name) == 0 {
		return 0
	}
	text := tokenSet(scoring.Tokenize(opp.Title+" "+opp.Description), nil)
	found := 0
	for t := range name {
		if text[t] {
			found++
		}
	}
	return float64(found) / float64(len(name))
}

func dice(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

func tokenSet(tokens []string, stop map[string]bool) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if stop[t] {
			continue
		}
		if stop != nil && len(t) < 3 && !isDigits(t) {
			continue
		}
		set[t] = true
	}
	return set
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var agencyStopwords = map[string]bool{
	"of": true, "the": true, "and": true, "for": true,
}

var textStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "this": true, "that": true,
	"will": true, "shall": true, "are": true, "all": true, "any": true, "other": true, "its": true,
	"services": true, "service": true, "support": true, "contract": true, "contractor": true,
	"government": true, "requirement": true, "requirements": true, "provide": true, "notice": true,
	"solicitation": true, "department": true, "agency": true, "office": true,
}

var companyStopwords = map[string]bool{
	"llc": true, "inc": true, "incorporated": true, "corp": true, "corporation": true, "company": true,
	"ltd": true, "limited": true, "group": true, "the": true, "and": true, "of": true, "holdings": true,
	"solutions": true, "services": true, "technologies": true, "systems": true, "international": true,
	"federal": true, "llp": true, "pllc": true,
}
