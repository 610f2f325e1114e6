package models

import (
	"time"

	"github.com/google/uuid"
)

// HistoricalAward is a previously awarded contract from the spending
// transparency source. AwardID is unique.
type HistoricalAward struct {
	ID               uuid.UUID  `json:"id"`
	AwardID          string     `json:"award_id"`
	InternalID       string     `json:"internal_id"`
	RecipientName    string     `json:"recipient_name"`
	Agency           string     `json:"agency"`
	SubAgency        string     `json:"sub_agency"`
	Description      string     `json:"description"`
	TotalObligation  float64    `json:"total_obligation"`
	NAICSCode        string     `json:"naics_code"`
	AwardDate        *time.Time `json:"award_date"`
	PeriodStart      *time.Time `json:"period_start"`
	PeriodEnd        *time.Time `json:"period_end"`
	EnrichmentStatus string     `json:"enrichment_status"`
	RelevanceScore   int        `json:"relevance_score"`
	Signals          []string   `json:"signals"`
	TransactionCount int        `json:"transaction_count"`
	SubawardCount    int        `json:"subaward_count"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// AwardCounts are the activity totals recorded for one award.
type AwardCounts struct {
	Transactions int
	Subawards    int
}

const (
	AwardEnrichmentPending  = "pending"
	AwardEnrichmentEnriched = "enriched"
	AwardEnrichmentFailed   = "failed"
)

// AwardLink ties an opportunity to a historical award. A pair is linked at
// most once.
type AwardLink struct {
	ID            uuid.UUID `json:"id"`
	OpportunityID uuid.UUID `json:"opportunity_id"`
	AwardID       uuid.UUID `json:"award_id"`
	Confidence    float64   `json:"confidence"`
	Criteria      []string  `json:"criteria"`
	CreatedAt     time.Time `json:"created_at"`

	// Populated on reads that join the award.
	Award *HistoricalAward `json:"award,omitempty"`
}
