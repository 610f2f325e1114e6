package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/models"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxPrintedErrors = 10

func renderBatches(w io.Writer, batches []models.IngestionBatch, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Batch", "Status", "Fetched", "Dedup", "Passed", "Above Floor", "Created", "Updated", "Errors", "Duration", "Started At"})

	for _, b := range batches {
		duration := "Running..."
		switch {
		case b.CompletedAt != nil:
			duration = b.CompletedAt.Sub(b.StartedAt).Round(time.Second).String()
		case b.Status == models.BatchRunning:
			duration = "Running " + now.Sub(b.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			b.ID, b.Status, b.Fetched, b.Deduplicated, b.PassedFilters, b.ScoredAboveThreshold,
			b.Created, b.Updated, len(b.Errors), duration, b.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	if len(batches) == 0 {
		fmt.Fprintln(w, "No batches yet.")
		return
	}
	t.Render()
}

func renderIngest(w io.Writer, res *pipeline.RunResult) {
	in := res.Ingest
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Batch " + in.BatchID)
	t.AppendRows([]table.Row{
		{"Fetched", in.Fetched},
		{"Deduplicated", in.Deduplicated},
		{"Passed filters", in.PassedFilters},
		{"Scored above floor", in.ScoredAboveThreshold},
		{"Created", in.Created},
		{"Updated", in.Updated},
		{"Errors", len(in.Errors)},
	})
	for reason, n := range in.Filtered {
		t.AppendRow(table.Row{"Filtered: " + reason, n})
	}
	t.Render()
	printErrors(w, in.Errors)

	if res.Linking != nil {
		renderLinks(w, res.Linking)
	}
}

func renderLinks(w io.Writer, res *linker.Result) {
	fmt.Fprintf(w, "Compared %d opportunities against awards (%d pairs): %d links created, %d already existed\n",
		res.Opportunities, res.Compared, res.Created, res.Existing)
	if len(res.Links) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.AppendHeader(table.Row{"Opportunity", "Award", "Confidence", "Criteria"})
		for _, l := range res.Links {
			t.AppendRow(table.Row{l.OpportunityID, l.AwardID, fmt.Sprintf("%.2f", l.Confidence), strings.Join(l.Criteria, ", ")})
		}
		t.Render()
	}
	printErrors(w, res.Errors)
}

func renderAwards(w io.Writer, awards []models.HistoricalAward) {
	if len(awards) == 0 {
		fmt.Fprintln(w, "No awards match.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Award", "Recipient", "Agency", "NAICS", "Obligation", "Ends", "Score", "Signals"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Recipient", WidthMax: 32},
		{Name: "Agency", WidthMax: 28},
		{Name: "Obligation", Align: text.AlignRight},
		{Name: "Signals", WidthMax: 48},
	})
	for _, a := range awards {
		ends := "-"
		if a.PeriodEnd != nil {
			ends = a.PeriodEnd.Format(time.DateOnly)
		}
		t.AppendRow(table.Row{
			a.AwardID, a.RecipientName, a.Agency, a.NAICSCode,
			fmt.Sprintf("$%.0f", a.TotalObligation), ends, a.RelevanceScore, strings.Join(a.Signals, ", "),
		})
	}
	t.Render()
}

func printErrors(w io.Writer, errs []string) {
	for i, e := range errs {
		if i == maxPrintedErrors {
			fmt.Fprintf(w, "  ... and %d more\n", len(errs)-maxPrintedErrors)
			return
		}
		fmt.Fprintf(w, "  ! %s\n", e)
	}
}
