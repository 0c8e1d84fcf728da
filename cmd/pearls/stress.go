package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pearls-dev/pearls/internal/loadtest"
)

func newStressCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stress",
		GroupID: "data",
		Short:   "Run concurrent claim workers against a scratch database",
		Long: `Seed a scratch database, then run workers that each open their
own connection and lock and claim until nothing is ready. Reports
latency and fails if any task was claimed twice.

The configured database is never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			numTasks, _ := cmd.Flags().GetInt("tasks")
			workers, _ := cmd.Flags().GetInt("workers")
			blocked, _ := cmd.Flags().GetFloat64("blocked")
			readers, _ := cmd.Flags().GetInt("readers")
			if numTasks <= 0 || workers <= 0 {
				return fmt.Errorf("--tasks and --workers must be positive")
			}

			dir, err := os.MkdirTemp("", "pearls-stress-*")
			if err != nil {
				return fmt.Errorf("failed to create scratch directory: %w", err)
			}
			defer os.RemoveAll(dir)

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Seeding %d tasks (%.0f%% blocked)...\n", numTasks, blocked*100)
			td, err := loadtest.CreateTestDatabase(ctx, filepath.Join(dir, "stress.db"), numTasks, blocked)
			if err != nil {
				return err
			}
			defer td.Close()
			fmt.Fprintf(out, "  ready: %d, blocked: %d\n\n", len(td.ReadyIDs), len(td.BlockedIDs))

			if readers > 0 {
				qs, err := td.RunConcurrentQueries(ctx, readers, 20)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Queries (%d readers):\n", readers)
				qs.Print(out)
				fmt.Fprintln(out)
			}

			report, err := td.RunConcurrentClaims(ctx, workers)
			if err != nil {
				return err
			}
			report.Print(out)

			if len(report.Duplicates) > 0 {
				return fmt.Errorf("%d tasks were claimed more than once: %v", len(report.Duplicates), report.Duplicates)
			}
			return nil
		},
	}
	cmd.Flags().Int("tasks", 200, "tasks to seed")
	cmd.Flags().Int("workers", 8, "concurrent claim workers")
	cmd.Flags().Float64("blocked", 0.3, "fraction of tasks seeded with a parent")
	cmd.Flags().Int("readers", 4, "concurrent list readers to run first (0 to skip)")
	return cmd
}
