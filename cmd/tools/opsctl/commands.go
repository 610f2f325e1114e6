package main

import (
	"context"
	"fmt"
	"time"

	"github.com/david/contract-finder/internal/ingest"
	"github.com/david/contract-finder/internal/linker"
	"github.com/david/contract-finder/internal/pipeline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// --- batches ---

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recent ingestion batches",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		batches, err := e.store.RecentBatches(ctx, limit)
		if err != nil {
			return err
		}
		renderBatches(cmd.OutOrStdout(), batches, time.Now())
		return nil
	}),
}

// --- reset-batch ---

var resetBatchCmd = &cobra.Command{
	Use:   "reset-batch",
	Short: "Move a stuck running batch back to idle",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		b, err := e.store.ResetRunningBatch(ctx, actor)
		if err != nil {
			return err
		}
		if b == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No batch was running.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Batch %s reset to idle (started %s).\n", b.ID, b.StartedAt.Format(time.RFC3339))
		return nil
	}),
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion batch",
	Long: `Run one ingestion batch against SAM.gov.

Examples:
  opsctl ingest
  opsctl ingest --from 2026-01-01 --to 2026-01-31
  opsctl ingest --link`,
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
		opts, err := runOptionsFromFlags(cmd)
		if err != nil {
			return err
		}
		res, err := e.orchestrator().Run(ctx, opts)
		if err != nil {
			return err
		}
		renderIngest(cmd.OutOrStdout(), res)
		return nil
	}),
}

func runOptionsFromFlags(cmd *cobra.Command) (pipeline.RunOptions, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	link, _ := cmd.Flags().GetBool("link")

	opts := pipeline.RunOptions{Link: link}
	if from == "" && to == "" {
		return opts, nil
	}
	if from == "" || to == "" {
		return opts, fmt.Errorf("--from and --to must be given together")
	}
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return opts, fmt.Errorf("--from: %w", err)
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return opts, fmt.Errorf("--to: %w", err)
	}
	if t.Before(f) {
		return opts, fmt.Errorf("--to is before --from")
	}
	opts.Window = &ingest.Window{From: f, To: t}
	return opts, nil
}

// --- link ---

var linkCmd = &cobra.Command{
	Use:   "link [opportunity-id]",
	Short: "Link opportunities to historical awards",
	Long: `Link one opportunity, or every unlinked candidate when no id is given.

Examples:
  opsctl link
  opsctl link 3f1c9a8e-5d4b-4c1e-9d7a-2b6f0e8c1a23`,
	Args: cobra.MaximumNArgs(1),
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
		var (
			res *linker.Result
			err error
		)
		if len(args) == 1 {
			id, perr := uuid.Parse(args[0])
			if perr != nil {
				return fmt.Errorf("invalid opportunity id: %w", perr)
			}
			res, err = e.linker().LinkBidToAwards(ctx, id)
		} else {
			res, err = e.linker().LinkAwardsToBids(ctx)
		}
		if err != nil {
			return err
		}
		renderLinks(cmd.OutOrStdout(), res)
		return nil
	}),
}

// --- awards ---

var awardsCmd = &cobra.Command{
	Use:   "awards",
	Short: "List historical awards, optionally refreshing them from USAspending first",
	RunE: withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
		refresh, _ := cmd.Flags().GetBool("ingest")
		minScore, _ := cmd.Flags().GetInt("min-score")
		limit, _ := cmd.Flags().GetInt("limit")

		if refresh {
			res, err := e.awardIngester().IngestAwards(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d awards for %d NAICS codes: %d created, %d updated, %d failed\n",
				res.Fetched, len(res.NAICSCodes), res.Created, res.Updated, res.Failed)
			printErrors(cmd.OutOrStdout(), res.Errors)
		}

		awards, err := e.store.ListAwards(ctx, minScore, limit)
		if err != nil {
			return err
		}
		renderAwards(cmd.OutOrStdout(), awards)
		return nil
	}),
}

func init() {
	batchesCmd.Flags().Int("limit", 10, "number of batches to show")
	resetBatchCmd.Flags().String("actor", "opsctl", "name recorded on the reset batch")

	ingestCmd.Flags().String("from", "", "window start, YYYY-MM-DD")
	ingestCmd.Flags().String("to", "", "window end, YYYY-MM-DD")
	ingestCmd.Flags().Bool("link", false, "link the batch's opportunities to awards afterwards")

	awardsCmd.Flags().Bool("ingest", false, "refresh awards from USAspending before listing")
	awardsCmd.Flags().Int("min-score", 0, "minimum award relevance score")
	awardsCmd.Flags().Int("limit", 25, "number of awards to show")
}
