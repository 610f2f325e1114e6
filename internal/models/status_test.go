package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		name string
		from PipelineStatus
		to   PipelineStatus
		want bool
	}{
		{"new record", "", StatusScored, true},
		{"discovered to scored", StatusDiscovered, StatusScored, true},
		{"scored to enriched", StatusScored, StatusEnriched, true},
		{"enriched to linked", StatusEnriched, StatusLinked, true},
		{"scored straight to linked", StatusScored, StatusLinked, true},
		{"enriched never back to discovered", StatusEnriched, StatusDiscovered, false},
		{"enriched never back to scored", StatusEnriched, StatusScored, false},
		{"linked stays linked", StatusLinked, StatusEnriched, false},
		{"same status is not an advance", StatusScored, StatusScored, false},
		{"automatic step never flags", StatusLinked, StatusFlagged, false},
		{"automatic step never verifies", "", StatusVerified, false},
		{"verified not left by automatic step", StatusVerified, StatusLinked, false},
		{"ignored not left by automatic step", StatusIgnored, StatusScored, false},
		{"unknown target", "", PipelineStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAdvance(tt.from, tt.to))
		})
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-15))
	assert.Equal(t, 100, ClampScore(140))
	assert.Equal(t, 42, ClampScore(42))
}
