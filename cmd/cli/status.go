package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and recent verification batches",
	RunE:  runStatus,
}

var statusJobID int64

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().Int64Var(&statusJobID, "job", 0, "show progress for one import job instead")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store := database.NewStore(database.Pool())
	queue := taskqueue.New(database.Pool())

	if statusJobID != 0 {
		return printJobStatus(ctx, store, statusJobID)
	}

	depth, err := queue.QueueDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch queue depth: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK TYPE\tPENDING")
	for taskType, count := range depth {
		fmt.Fprintf(w, "%s\t%d\n", taskType, count)
	}
	w.Flush()

	batches, err := store.RecentIncompleteBatches(ctx, 20)
	if err != nil {
		return fmt.Errorf("failed to fetch batches: %w", err)
	}
	if len(batches) == 0 {
		fmt.Println("\nNo incomplete verification batches")
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tTOTAL\tCOMPLETED\tFAILED\tLAST ACTIVE")
	for _, b := range batches {
		lastActive := ""
		if b.LastActive != nil {
			lastActive = b.LastActive.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", b.Batch, b.Total, b.Completed, b.Failed, lastActive)
	}
	return w.Flush()
}

func printJobStatus(ctx context.Context, store *database.Store, jobID int64) error {
	job, err := store.GetImportJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load import job %d: %w", jobID, err)
	}
	total, completed, failed, err := store.ImportJobProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load import progress: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Job\t%d\n", job.ID)
	fmt.Fprintf(w, "Source\t%s\n", job.SourceURL)
	fmt.Fprintf(w, "Status\t%s\n", job.Status)
	fmt.Fprintf(w, "Items\t%d (%d done, %d failed)\n", total, completed, failed)
	if job.Completed != nil {
		fmt.Fprintf(w, "Completed\t%s\n", job.Completed.Format(time.RFC3339))
	}
	if job.Failed != nil {
		fmt.Fprintf(w, "Failed\t%s\n", job.Failed.Format(time.RFC3339))
	}
	return w.Flush()
}
