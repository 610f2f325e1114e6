package models

import "time"

// BatchStatus is the lifecycle state of one ingestion run.
type BatchStatus string

const (
	BatchIdle      BatchStatus = "idle"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// IngestionBatch records one ingestion run. At most one batch is running.
type IngestionBatch struct {
	ID                   string      `json:"id"`
	Status               BatchStatus `json:"status"`
	Fetched              int         `json:"fetched"`
	Deduplicated         int         `json:"deduplicated"`
	PassedFilters        int         `json:"passed_filters"`
	ScoredAboveThreshold int         `json:"scored_above_threshold"`
	Created              int         `json:"created"`
	Updated              int         `json:"updated"`
	Errors               []string    `json:"errors"`
	ErrorMessage         string      `json:"error_message,omitempty"`
	StartedAt            time.Time   `json:"started_at"`
	CompletedAt          *time.Time  `json:"completed_at,omitempty"`
}
