package scoring

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config/rules.yaml
var rulesYAML embed.FS

// RuleTable is the static configuration every score is computed from.
type RuleTable struct {
	BaseScore             int         `yaml:"base_score"`
	ResponseWindowMinDays int         `yaml:"response_window_min_days"`
	Weights               Weights     `yaml:"weights"`
	TargetNAICS           []string    `yaml:"target_naics"`
	TargetPSC             []string    `yaml:"target_psc"`
	EligibleSetAsides     []string    `yaml:"eligible_set_asides"`
	Keywords              []string    `yaml:"keywords"`
	HistoricalAgencies    []string    `yaml:"historical_agencies"`
	Filters               FilterRules `yaml:"filters"`
	Awards                AwardRules  `yaml:"awards"`
}

type Weights struct {
	NAICSMatch         int `yaml:"naics_match"`
	PSCMatch           int `yaml:"psc_match"`
	SetAsideMatch      int `yaml:"set_aside_match"`
	KeywordHit         int `yaml:"keyword_hit"`
	KeywordCap         int `yaml:"keyword_cap"`
	AgencyHistory      int `yaml:"agency_history"`
	ResponseWindowOpen int `yaml:"response_window_open"`
}

// FilterRules are the hard filters applied before scoring.
type FilterRules struct {
	SupportedNAICSPrefixes []string `yaml:"supported_naics_prefixes"`
	SupportedPSCPrefixes   []string `yaml:"supported_psc_prefixes"`
}

type AwardRules struct {
	TargetAgencies              []string         `yaml:"target_agencies"`
	RecompeteWindowMonths       int              `yaml:"recompete_window_months"`
	ModificationMinTransactions int              `yaml:"modification_min_transactions"`
	Weights                     AwardWeights     `yaml:"weights"`
	ObligationTiers             []ObligationTier `yaml:"obligation_tiers"`
}

type AwardWeights struct {
	NAICSMatch           int `yaml:"naics_match"`
	AgencyMatch          int `yaml:"agency_match"`
	RecompeteWindow      int `yaml:"recompete_window"`
	SubawardActivity     int `yaml:"subaward_activity"`
	ModificationActivity int `yaml:"modification_activity"`
}

// ObligationTier awards points to an award whose obligation is at least Min.
// Tiers are evaluated in order and the first match wins.
type ObligationTier struct {
	Label  string  `yaml:"label"`
	Min    float64 `yaml:"min"`
	Points int     `yaml:"points"`
}

// LoadRules reads the rule table from path, or the embedded default when
// path is empty.
func LoadRules(path string) (*RuleTable, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = rulesYAML.ReadFile("config/rules.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rule table, expanding ${VAR} references first.
func ParseRules(data []byte) (*RuleTable, error) {
	expanded := os.ExpandEnv(string(data))

	var rules RuleTable
	if err := yaml.Unmarshal([]byte(expanded), &rules); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// DefaultRules returns the embedded rule table. It panics if the embedded
// file is invalid.
func DefaultRules() *RuleTable {
	rules, err := LoadRules("")
	if err != nil {
		panic(err)
	}
	return rules
}

func (r *RuleTable) Validate() error {
	w := r.Weights
	for name, v := range map[string]int{
		"naics_match":          w.NAICSMatch,
		"psc_match":            w.PSCMatch,
		"set_aside_match":      w.SetAsideMatch,
		"keyword_hit":          w.KeywordHit,
		"keyword_cap":          w.KeywordCap,
		"agency_history":       w.AgencyHistory,
		"response_window_open": w.ResponseWindowOpen,
	} {
		if v < 0 {
			return fmt.Errorf("rule table: weight %s must not be negative", name)
		}
	}
	if r.ResponseWindowMinDays < 0 {
		return fmt.Errorf("rule table: response_window_min_days must not be negative")
	}
	for _, term := range r.Keywords {
		if strings.TrimSpace(term) == "" {
			return fmt.Errorf("rule table: blank keyword")
		}
	}
	for i, tier := range r.Awards.ObligationTiers {
		if tier.Label == "" {
			return fmt.Errorf("rule table: obligation tier %d has no label", i)
		}
	}
	return nil
}
