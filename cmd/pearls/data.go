package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pearls-dev/pearls/internal/migrate"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "export",
		GroupID: "data",
		Short:   "Write every task and link to a JSONL or YAML file",
		Long: `Export stored tasks (with their stored state) and every link.

Without --out the export goes to stdout. The format defaults to the
--out extension (.yaml/.yml for YAML, anything else JSONL).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outPath, _ := cmd.Flags().GetString("out")

			format := migrate.FormatForPath(outPath)
			if cmd.Flags().Changed("format") {
				f, _ := cmd.Flags().GetString("format")
				parsed, err := migrate.ParseFormat(f)
				if err != nil {
					return err
				}
				format = parsed
			}

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := migrate.Collect(ctx, db)
			if err != nil {
				return err
			}

			if outPath == "" {
				return migrate.Write(cmd.OutOrStdout(), snap, format)
			}
			if err := migrate.WriteFile(outPath, snap, format); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d tasks and %d dependencies to %s\n",
				len(snap.Tasks), len(snap.Dependencies), outPath)
			return nil
		},
	}
	cmd.Flags().String("format", "jsonl", "jsonl or yaml")
	cmd.Flags().String("out", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "import",
		GroupID: "data",
		Short:   "Load tasks and links from an export file",
		Long: `Import an export file. Tasks are written with their ids, replacing
any existing task with the same id. Links are added; existing links
are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("in")

			snap, err := migrate.ReadFile(inPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := migrate.Import(ctx, a.service(db), snap)
			if err != nil {
				return err
			}
			p := a.printer(cmd.OutOrStdout())
			if p.JSONMode() {
				return p.JSON(map[string]int{"tasks": stats.Tasks, "dependencies": stats.Dependencies})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d tasks and %d dependencies\n", stats.Tasks, stats.Dependencies)
			return nil
		},
	}
	cmd.Flags().String("in", "", "file to import (.jsonl, .yaml or .yml)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}
