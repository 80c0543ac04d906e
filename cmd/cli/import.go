package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/importer"
	"github.com/concordia/import-service/internal/taskqueue"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Queue an import job for a collection or item URL",
	Long: `Creates an import job for the given project and source URL and enqueues
the discovery task. A collection URL fans out into one import per item; an
item URL imports just that item. Run a worker to process the queued work.`,
	RunE: runImport,
}

var (
	importProjectID  int64
	importURL        string
	importCreatedBy  string
	importRedownload bool
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().Int64Var(&importProjectID, "project", 0, "destination project id (required)")
	importCmd.Flags().StringVar(&importURL, "url", "", "collection or item URL to import (required)")
	importCmd.Flags().StringVar(&importCreatedBy, "created-by", "", "user attribution for the job")
	importCmd.Flags().BoolVar(&importRedownload, "redownload", false, "re-fetch images for items that were already imported")
	importCmd.MarkFlagRequired("project")
	importCmd.MarkFlagRequired("url")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if !strings.HasPrefix(importURL, "http://") && !strings.HasPrefix(importURL, "https://") {
		return fmt.Errorf("url must be an absolute http(s) URL, got %q", importURL)
	}

	store := database.NewStore(database.Pool())
	queue := taskqueue.New(database.Pool())

	if _, err := store.GetProject(ctx, importProjectID); err != nil {
		return fmt.Errorf("failed to load project %d: %w", importProjectID, err)
	}

	job, err := store.CreateImportJob(ctx, importProjectID, importURL, importCreatedBy)
	if err != nil {
		return fmt.Errorf("failed to create import job: %w", err)
	}

	taskID, err := queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
		TaskType: taskqueue.TaskTypeImportJob,
		Payload:  importer.ImportJobPayload{JobID: job.ID, Redownload: importRedownload},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue import job: %w", err)
	}

	job.TaskID = taskID.String()
	job.UpdateStatus("Queued")
	if err := store.SaveTaskStatus(ctx, job); err != nil {
		return fmt.Errorf("failed to save import job: %w", err)
	}

	logger.Info().
		Int64("job_id", job.ID).
		Str("task_id", taskID.String()).
		Str("url", importURL).
		Msg("Import job queued")
	fmt.Printf("Import job %d queued (task %s)\n", job.ID, taskID)
	return nil
}
