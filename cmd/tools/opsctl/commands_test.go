package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/david/contract-finder/internal/models"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ingestFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "ingest"}
	cmd.Flags().String("from", "", "")
	cmd.Flags().String("to", "", "")
	cmd.Flags().Bool("link", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestRunOptionsFromFlags(t *testing.T) {
	opts, err := runOptionsFromFlags(ingestFlags(t, "--link"))
	require.NoError(t, err)
	assert.True(t, opts.Link)
	assert.Nil(t, opts.Window)

	opts, err = runOptionsFromFlags(ingestFlags(t, "--from", "2026-01-01", "--to", "2026-01-31"))
	require.NoError(t, err)
	require.NotNil(t, opts.Window)
	assert.Equal(t, 30*24*time.Hour, opts.Window.To.Sub(opts.Window.From))

	_, err = runOptionsFromFlags(ingestFlags(t, "--from", "2026-01-01"))
	assert.Error(t, err)

	_, err = runOptionsFromFlags(ingestFlags(t, "--from", "2026-02-01", "--to", "2026-01-01"))
	assert.Error(t, err)

	_, err = runOptionsFromFlags(ingestFlags(t, "--from", "01/02/2026", "--to", "2026-01-01"))
	assert.Error(t, err)
}

func TestRenderBatches(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := now.Add(-time.Hour)
	batches := []models.IngestionBatch{
		{ID: "01HZRUNNING", Status: models.BatchRunning, StartedAt: now.Add(-90 * time.Second)},
		{ID: "01HZDONE", Status: models.BatchCompleted, Fetched: 40, Created: 7, StartedAt: done.Add(-2 * time.Minute), CompletedAt: &done},
	}

	var buf bytes.Buffer
	renderBatches(&buf, batches, now)
	out := buf.String()
	assert.Contains(t, out, "01HZRUNNING")
	assert.Contains(t, out, "Running 1m30s")
	assert.Contains(t, out, "2m0s")

	buf.Reset()
	renderBatches(&buf, nil, now)
	assert.Equal(t, "No batches yet.\n", buf.String())
}

func TestPrintErrorsTruncates(t *testing.T) {
	errs := make([]string, 0, 13)
	for i := 0; i < 13; i++ {
		errs = append(errs, fmt.Sprintf("notice %d: boom", i))
	}
	var buf bytes.Buffer
	printErrors(&buf, errs)
	assert.Contains(t, buf.String(), "notice 9: boom")
	assert.NotContains(t, buf.String(), "notice 10: boom")
	assert.Contains(t, buf.String(), "... and 3 more")
}
