package models

import (
	"time"

	"github.com/google/uuid"
)

// Opportunity is a contract solicitation discovered on the procurement source.
// NoticeID is the natural key used for deduplication across ingestion runs.
type Opportunity struct {
	ID                 uuid.UUID      `json:"id"`
	NoticeID           string         `json:"notice_id"`
	SolicitationNumber string         `json:"solicitation_number"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Agency             string         `json:"agency"`
	NoticeType         string         `json:"notice_type"`
	NAICSCodes         []string       `json:"naics_codes"`
	PSCCodes           []string       `json:"psc_codes"`
	SetAsides          []string       `json:"set_asides"`
	PostedAt           *time.Time     `json:"posted_at"`
	ResponseDeadline   *time.Time     `json:"response_deadline"`
	UILink             string         `json:"ui_link"`
	Keywords           []string       `json:"keywords"`
	RelevanceScore     int            `json:"relevance_score"`
	Signals            []string       `json:"signals"`
	PipelineStatus     PipelineStatus `json:"pipeline_status"`
	BatchID            string         `json:"batch_id"`
	Errors             []string       `json:"errors"`

	Flagged   bool       `json:"flagged"`
	FlaggedBy string     `json:"flagged_by,omitempty"`
	FlaggedAt *time.Time `json:"flagged_at,omitempty"`

	Ignored   bool       `json:"ignored"`
	IgnoredBy string     `json:"ignored_by,omitempty"`
	IgnoredAt *time.Time `json:"ignored_at,omitempty"`

	Dismissed       bool       `json:"dismissed"`
	DismissedBy     string     `json:"dismissed_by,omitempty"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty"`
	DismissedReason string     `json:"dismissed_reason,omitempty"`

	Verified   bool       `json:"verified"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`

	Analysis   *AIAnalysis      `json:"analysis,omitempty"`
	Likelihood *AwardLikelihood `json:"award_likelihood,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AIAnalysis holds the language-model summary of an opportunity.
type AIAnalysis struct {
	Summary            string    `json:"summary"`
	KeyRequirements    []string  `json:"key_requirements"`
	Keywords           []string  `json:"keywords"`
	Strengths          []string  `json:"strengths"`
	Concerns           []string  `json:"concerns"`
	FitScore           int       `json:"fit_score"`
	ServiceCategory    string    `json:"service_category"`
	RecommendedActions []string  `json:"recommended_actions"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// AwardLikelihood is the language-model assessment of the firm's chance to win.
type AwardLikelihood struct {
	Score           int       `json:"score"`
	Confidence      float64   `json:"confidence"`
	Reasoning       string    `json:"reasoning"`
	Strengths       []string  `json:"strengths"`
	Concerns        []string  `json:"concerns"`
	RiskFactors     []string  `json:"risk_factors"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// ClampScore bounds a relevance or fit score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
