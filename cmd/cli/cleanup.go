package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/taskqueue"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old settled tasks from the queue",
	RunE:  runCleanup,
}

var cleanupDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 7, "retention window in days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	queue := taskqueue.New(database.Pool())

	deleted, err := queue.CleanupOldTasks(context.Background(), cleanupDays)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Deleted %d settled tasks older than %d days\n", deleted, cleanupDays)
	return nil
}
