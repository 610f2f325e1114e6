package scoring

import (
	"strings"
	"time"

	"github.com/david/contract-finder/internal/models"
)

const (
	SignalAgencyMatch          = "agency_match"
	SignalObligationTierPrefix = "obligation_tier:"
	SignalRecompeteWindow      = "recompete_window"
	SignalSubawardActivity     = "subaward_activity"
	SignalModificationActivity = "modification_activity"
)

// AwardAttributes are the historical award fields that indicate how strong an
// incumbency signal the award carries.
type AwardAttributes struct {
	NAICSCode        string
	Agency           string
	SubAgency        string
	TotalObligation  float64
	PeriodEnd        *time.Time
	TransactionCount int
	SubawardCount    int
}

func AwardAttributesOf(a *models.HistoricalAward) AwardAttributes {
	return AwardAttributes{
		NAICSCode:        a.NAICSCode,
		Agency:           a.Agency,
		SubAgency:        a.SubAgency,
		TotalObligation:  a.TotalObligation,
		PeriodEnd:        a.PeriodEnd,
		TransactionCount: a.TransactionCount,
		SubawardCount:    a.SubawardCount,
	}
}

// ScoreAward scores a historical award. An award whose period of performance
// ends within the recompete window (or ended no longer ago than it) is a
// likely recompete.
func (s *Scorer) ScoreAward(attrs AwardAttributes, now time.Time) Result {
	ar := s.rules.Awards
	w := ar.Weights
	score := 0
	signals := []string{}

	if attrs.NAICSCode != "" && s.naics[normalizeCode(attrs.NAICSCode)] {
		score += w.NAICSMatch
		signals = append(signals, SignalNAICSMatch)
	}

	if s.awardAgencyMatch(attrs.Agency, attrs.SubAgency) {
		score += w.AgencyMatch
		signals = append(signals, SignalAgencyMatch)
	}

	for _, tier := range ar.ObligationTiers {
		if attrs.TotalObligation >= tier.Min {
			score += tier.Points
			signals = append(signals, SignalObligationTierPrefix+tier.Label)
			break
		}
	}

	if attrs.PeriodEnd != nil && ar.RecompeteWindowMonths > 0 {
		from := now.AddDate(0, -ar.RecompeteWindowMonths, 0)
		to := now.AddDate(0, ar.RecompeteWindowMonths, 0)
		if !attrs.PeriodEnd.Before(from) && !attrs.PeriodEnd.After(to) {
			score += w.RecompeteWindow
			signals = append(signals, SignalRecompeteWindow)
		}
	}

	if attrs.SubawardCount > 0 {
		score += w.SubawardActivity
		signals = append(signals, SignalSubawardActivity)
	}

	if ar.ModificationMinTransactions > 0 && attrs.TransactionCount >= ar.ModificationMinTransactions {
		score += w.ModificationActivity
		signals = append(signals, SignalModificationActivity)
	}

	return Result{Score: models.ClampScore(score), Signals: signals}
}

func (s *Scorer) awardAgencyMatch(agency, subAgency string) bool {
	candidates := []string{NormalizeAgency(agency), NormalizeAgency(subAgency)}
	for _, target := range s.rules.Awards.TargetAgencies {
		t := NormalizeAgency(target)
		if t == "" {
			continue
		}
		for _, c := range candidates {
			if c != "" && strings.Contains(" "+c+" ", " "+t+" ") {
				return true
			}
		}
	}
	return s.agencyInHistory(agency) || s.agencyInHistory(subAgency)
}
