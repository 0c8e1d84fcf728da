package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pearls-dev/pearls/internal/tracker"
	"github.com/pearls-dev/pearls/internal/types"
)

func newTasksCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		GroupID: "tasks",
		Short:   "Create, inspect and claim tasks",
	}
	cmd.AddCommand(
		newListCmd(a),
		newReadyCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newUpdateMetadataCmd(a),
		newUpdateDependencyCmd(a),
		newClaimNextCmd(a),
	)
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks by effective state",
		Long: `List tasks ordered by id.

By default closed tasks are hidden. Use --state to pick states
(comma separated) or --all to show everything. --offset and --limit
page through the filtered result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stateFlag, _ := cmd.Flags().GetString("state")
			all, _ := cmd.Flags().GetBool("all")
			offset, _ := cmd.Flags().GetInt("offset")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := types.ListFilter{Offset: offset, Limit: limit}
			switch {
			case all:
			case cmd.Flags().Changed("state"):
				states, err := types.ParseStates(stateFlag)
				if err != nil {
					return err
				}
				filter.States = states
			default:
				filter.States = types.DefaultListStates()
			}

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			tasks, err := a.service(db).List(ctx, filter)
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).Tasks(tasks)
		},
	}
	cmd.Flags().String("state", "", "comma separated states (ready,blocked,in_progress,closed)")
	cmd.Flags().Bool("all", false, "include every state")
	cmd.Flags().Int("offset", 0, "skip this many matching tasks")
	cmd.Flags().Int("limit", 0, "show at most this many tasks (0 = no limit)")
	cmd.MarkFlagsMutuallyExclusive("state", "all")
	return cmd
}

func newReadyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List tasks that can be worked on now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			tasks, err := a.service(db).Ready(ctx)
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).Tasks(tasks)
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a single task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt64("id")

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			task, err := a.service(db).Get(ctx, id)
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).Task(task)
		},
	}
	cmd.Flags().Int64("id", 0, "task id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		Long: `Add a task in the ready state.

--parent-of ID makes the new task a parent of ID (ID waits for it).
--child-of ID makes the new task wait for ID. If a link cannot be
created the task is kept and a warning is printed.

When --title or --description is missing and stdin is a terminal,
an interactive form asks for them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			req := tracker.AddRequest{}
			req.Title, _ = flags.GetString("title")
			req.Description, _ = flags.GetString("description")

			if !flags.Changed("title") || !flags.Changed("description") {
				if !stdinIsTerminal(cmd) {
					return fmt.Errorf("%w: --title and --description are required", types.ErrInvalidArgument)
				}
				if err := promptTask(&req.Title, &req.Description); err != nil {
					return err
				}
			}

			if flags.Changed("priority") {
				p, _ := flags.GetInt64("priority")
				req.Priority = &p
			}
			if flags.Changed("parent-of") {
				id, _ := flags.GetInt64("parent-of")
				req.ParentOf = &id
			}
			if flags.Changed("child-of") {
				id, _ := flags.GetInt64("child-of")
				req.ChildOf = &id
			}

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := a.service(db).Add(ctx, req)
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				warn(cmd.ErrOrStderr(), w)
			}
			return a.printer(cmd.OutOrStdout()).Task(res.Task)
		},
	}
	cmd.Flags().String("title", "", "task title")
	cmd.Flags().String("description", "", "task description")
	cmd.Flags().Int64("priority", types.DefaultPriority, "priority, lower is more urgent")
	cmd.Flags().Int64("parent-of", 0, "make the new task a parent of this task")
	cmd.Flags().Int64("child-of", 0, "make the new task a child of this task")
	return cmd
}

func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// promptTask fills in title and description with a huh form, keeping any
// value already given on the command line as the default.
func promptTask(title, description *string) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("title is required")
					}
					return nil
				}),
			huh.NewText().
				Title("Description").
				Value(description),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("failed to read task: %w", err)
	}
	return nil
}

func newUpdateMetadataCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-metadata",
		Short: "Change a task's title, description, priority or state",
		Long: `Change the stored fields of a task. Only the flags given are
written. With no field flags nothing is written and "no changes"
is printed, whether or not the task exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			id, _ := flags.GetInt64("id")

			var update types.MetadataUpdate
			if flags.Changed("title") {
				v, _ := flags.GetString("title")
				update.Title = &v
			}
			if flags.Changed("desc") {
				v, _ := flags.GetString("desc")
				update.Description = &v
			}
			if flags.Changed("priority") {
				v, _ := flags.GetInt64("priority")
				update.Priority = &v
			}
			if flags.Changed("state") {
				v, _ := flags.GetString("state")
				s, err := types.ParseState(v)
				if err != nil {
					return err
				}
				update.State = &s
			}

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			task, changed, err := a.service(db).UpdateMetadata(ctx, id, update)
			if err != nil {
				return err
			}
			p := a.printer(cmd.OutOrStdout())
			if changed == 0 {
				return p.Status("no_changes", "no changes")
			}
			return p.Task(task)
		},
	}
	cmd.Flags().Int64("id", 0, "task id")
	cmd.Flags().String("title", "", "new title")
	cmd.Flags().String("desc", "", "new description")
	cmd.Flags().Int64("priority", 0, "new priority")
	cmd.Flags().String("state", "", "new stored state (ready, blocked, in_progress, closed)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newUpdateDependencyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-dependency",
		Short: "Add or remove parent and child links of a task",
		Long: `Edit the links around a task. Each flag may be repeated.

Edits apply in this order: add parents, remove parents, add
children, remove children. Linked ids are not checked, and links
applied before a failure are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			id, _ := flags.GetInt64("id")

			var update types.DependencyUpdate
			update.AddParents, _ = flags.GetInt64Slice("add-parent")
			update.RemoveParents, _ = flags.GetInt64Slice("remove-parent")
			update.AddChildren, _ = flags.GetInt64Slice("add-child")
			update.RemoveChildren, _ = flags.GetInt64Slice("remove-child")

			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			task, err := a.service(db).UpdateDependency(ctx, id, update)
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).Task(task)
		},
	}
	cmd.Flags().Int64("id", 0, "task id")
	cmd.Flags().Int64Slice("add-parent", nil, "task that must close before this one")
	cmd.Flags().Int64Slice("remove-parent", nil, "parent link to remove")
	cmd.Flags().Int64Slice("add-child", nil, "task that must wait for this one")
	cmd.Flags().Int64Slice("remove-child", nil, "child link to remove")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newClaimNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "claim-next",
		Short: "Move the most urgent ready task to in_progress",
		Long: `Pick the ready task with the lowest priority (ties go to the
lowest id), mark it in_progress and print it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			task, err := a.service(db).ClaimNext(ctx)
			if err != nil {
				return err
			}
			p := a.printer(cmd.OutOrStdout())
			if task == nil {
				return p.Status("no_ready_tasks", "no ready tasks")
			}
			return p.Task(task)
		},
	}
}
