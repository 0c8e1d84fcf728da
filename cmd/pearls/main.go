// Command pearls is a personal task tracker with dependency-aware claiming.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pearls-dev/pearls/internal/config"
	"github.com/pearls-dev/pearls/internal/lock"
	"github.com/pearls-dev/pearls/internal/store"
	"github.com/pearls-dev/pearls/internal/tracker"
	"github.com/pearls-dev/pearls/internal/ui"
)

// Version is the release version, overridden at build time with -ldflags.
var Version = "0.1.0"

func main() {
	// Ctrl+C also abandons a wait on the database lock.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("Error:"), err)
		os.Exit(1)
	}
}

// app carries state resolved once per invocation and shared by subcommands.
type app struct {
	v          *viper.Viper
	configFile string

	settings config.Settings
	logging  *config.Logging
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "pearls",
		Short:         "Task manager for pearls",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "serve", Title: "Servers:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
	)

	flags := root.PersistentFlags()
	flags.String("db", "./pearls.db", "path to the SQLite database (env PEARLS_DB)")
	flags.Bool("json", false, "print JSON instead of display lines")
	flags.Bool("verbose", false, "log activity to stderr")
	flags.StringVar(&a.configFile, "config", "", "config file (default .pearls.yaml in . or ~/.config/pearls)")

	_ = a.v.BindPFlag(config.KeyDB, flags.Lookup("db"))
	_ = a.v.BindPFlag(config.KeyJSON, flags.Lookup("json"))
	_ = a.v.BindPFlag(config.KeyVerbose, flags.Lookup("verbose"))

	root.AddCommand(
		newTasksCmd(a),
		newMCPCmd(a),
		newDashboardCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newStressCmd(a),
	)
	return root
}

func (a *app) load() error {
	if err := config.ReadFile(a.v, a.configFile); err != nil {
		return err
	}
	a.settings = config.FromViper(a.v)
	a.logging = config.NewLogging(a.settings)
	return nil
}

func (a *app) close() error {
	if a.logging == nil {
		return nil
	}
	return a.logging.Close()
}

// openStore opens the configured database and creates the schema if needed.
func (a *app) openStore(ctx context.Context) (*store.DB, error) {
	db, err := store.OpenAndInit(ctx, a.settings.DBPath)
	if err != nil {
		return nil, err
	}
	db.SetLogger(a.logging.Logger("store"))
	return db, nil
}

// service wires db to the database's advisory lock.
func (a *app) service(db *store.DB) *tracker.Service {
	return tracker.New(db, lock.New(db.Path()), &tracker.Config{
		Logger: a.logging.Logger("tracker"),
	})
}

func (a *app) printer(out io.Writer) *ui.Printer {
	return ui.NewPrinter(out, a.settings.JSON)
}

// warn prints a non-fatal problem to stderr.
func warn(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", color.New(color.FgYellow).Sprint("warning:"), err)
}
