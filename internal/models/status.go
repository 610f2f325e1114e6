package models

// PipelineStatus tracks how far an opportunity has moved through the pipeline.
type PipelineStatus string

const (
	StatusDiscovered PipelineStatus = "discovered"
	StatusScored     PipelineStatus = "scored"
	StatusEnriched   PipelineStatus = "enriched"
	StatusLinked     PipelineStatus = "linked"

	// Side branches set by admin action.
	StatusFlagged  PipelineStatus = "flagged"
	StatusIgnored  PipelineStatus = "ignored"
	StatusVerified PipelineStatus = "verified"
)

var progressRank = map[PipelineStatus]int{
	StatusDiscovered: 1,
	StatusScored:     2,
	StatusEnriched:   3,
	StatusLinked:     4,
}

// IsProgress reports whether s is on the main discovered → linked track.
func (s PipelineStatus) IsProgress() bool {
	_, ok := progressRank[s]
	return ok
}

// IsSideBranch reports whether s was reached through an admin action.
func (s PipelineStatus) IsSideBranch() bool {
	return s == StatusFlagged || s == StatusIgnored || s == StatusVerified
}

// Valid reports whether s is a known status.
func (s PipelineStatus) Valid() bool {
	return s.IsProgress() || s.IsSideBranch()
}

// CanAdvance reports whether an automatic pipeline step may move an
// opportunity from one status to another. Progress is one-way along the main
// track; side-branch states are only entered or left by admin action.
func CanAdvance(from, to PipelineStatus) bool {
	if !to.IsProgress() || from.IsSideBranch() {
		return false
	}
	if from == "" {
		return true
	}
	return progressRank[to] > progressRank[from]
}

// AllStatuses lists every status in display order.
func AllStatuses() []PipelineStatus {
	return []PipelineStatus{
		StatusDiscovered, StatusScored, StatusEnriched, StatusLinked,
		StatusFlagged, StatusIgnored, StatusVerified,
	}
}
