package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"starbash/internal/engine"
	"starbash/internal/server"
	"starbash/internal/starbash"
)

// NewRootCmd creates the root Cobra command for the starbash CLI.
func NewRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starbash",
		Short: "Starbash catalogs and processes astrophotography sessions",
		Long: `Starbash indexes raw and calibration frames into a metadata catalog,
selects the matching calibration masters for each session, and runs
the configured calibration/stacking recipe incrementally.`,
	}

	rootCmd.AddCommand(
		newRepoCmd(root),
		newSelectionCmd(root),
		newInfoCmd(root),
		newProcessCmd(root),
		newServeCmd(root),
		newVersionCmd(),
	)

	return rootCmd
}

func newRepoCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage configured repositories",
	}

	var scheme, kind, url string
	var precedence int
	addCmd := &cobra.Command{
		Use:   "add <id> <root>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := engine.Repository{
				ID:         args[0],
				Root:       args[1],
				URL:        url,
				Scheme:     engine.RepoScheme(scheme),
				Kind:       engine.RepoKind(kind),
				Precedence: precedence,
			}
			if err := root.engine.AddRepository(r); err != nil {
				return err
			}
			fmt.Printf("added repository %s\n", r.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&scheme, "scheme", "local", "repository scheme (local|packaged|remote)")
	addCmd.Flags().StringVar(&kind, "kind", "raw-source", "repository kind (recipe|raw-source|master|processed-output)")
	addCmd.Flags().StringVar(&url, "url", "", "source URL, for remote repositories")
	addCmd.Flags().IntVar(&precedence, "precedence", 0, "document merge precedence, higher wins")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Drop a repository and its catalog rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.engine.RemoveRepository(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed repository %s\n", args[0])
			return nil
		},
	}

	reindexCmd := &cobra.Command{
		Use:   "reindex <id>",
		Short: "Re-scan a repository and rebuild sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := root.engine.Reindex(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("scanned %d, indexed %d, dropped %d\n", summary.Scanned, summary.Indexed, summary.Dropped)
			return nil
		},
	}

	cmd.AddCommand(addCmd, removeCmd, reindexCmd)
	return cmd
}

func newSelectionCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selection",
		Short: "Inspect and narrow the current session selection",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := root.engine.CurrentSelection()
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	targetsCmd := &cobra.Command{
		Use:   "targets [names...]",
		Short: "Restrict the selection to the given target names",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := root.engine.SetTargets(args)
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	instrumentsCmd := &cobra.Command{
		Use:   "instruments [names...]",
		Short: "Restrict the selection to the given instrument names",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := root.engine.SetInstruments(args)
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	filtersCmd := &cobra.Command{
		Use:   "filters [names...]",
		Short: "Restrict the selection to the given filter names",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := root.engine.SetFilters(args)
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	kindsCmd := &cobra.Command{
		Use:   "kinds [light|flat|dark|bias...]",
		Short: "Restrict the selection to the given image kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make([]engine.ImageKind, len(args))
			for i, a := range args {
				kinds[i] = engine.ImageKind(a)
			}
			sel, err := root.engine.SetKinds(kinds)
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	afterCmd := &cobra.Command{
		Use:   "after <RFC3339 timestamp>",
		Short: "Restrict the selection to sessions observed after the given time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("parse timestamp: %w", err)
			}
			sel, err := root.engine.SetAfter(&t)
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	beforeCmd := &cobra.Command{
		Use:   "before <RFC3339 timestamp>",
		Short: "Restrict the selection to sessions observed before the given time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("parse timestamp: %w", err)
			}
			sel, err := root.engine.SetBefore(&t)
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset the selection to the universe of sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := root.engine.ClearSelection()
			if err != nil {
				return err
			}
			printSelection(sel)
			return nil
		},
	}

	cmd.AddCommand(showCmd, targetsCmd, instrumentsCmd, filtersCmd, kindsCmd, afterCmd, beforeCmd, clearCmd)
	return cmd
}

func newInfoCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "List distinct label values among the current selection",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "targets",
			Short: "List distinct target names",
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := root.engine.Targets()
				if err != nil {
					return err
				}
				printList(values)
				return nil
			},
		},
		&cobra.Command{
			Use:   "instruments",
			Short: "List distinct instrument names",
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := root.engine.Instruments()
				if err != nil {
					return err
				}
				printList(values)
				return nil
			},
		},
		&cobra.Command{
			Use:   "filters",
			Short: "List distinct filter names",
			RunE: func(cmd *cobra.Command, args []string) error {
				values, err := root.engine.Filters()
				if err != nil {
					return err
				}
				printList(values)
				return nil
			},
		},
	)
	return cmd
}

func newProcessCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the task graph for the current selection",
	}

	mastersCmd := &cobra.Command{
		Use:   "masters",
		Short: "Build and run only the tasks that produce a master frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := root.engine.ProcessMasters(context.Background())
			if err != nil {
				return err
			}
			return reportAndExit(report)
		},
	}

	autoCmd := &cobra.Command{
		Use:   "auto",
		Short: "Build and run the full pipeline for the current selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := root.engine.ProcessAuto(context.Background())
			if err != nil {
				return err
			}
			return reportAndExit(report)
		},
	}

	cmd.AddCommand(mastersCmd, autoCmd)
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and websocket status stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.NewServer(addr, root.engine, root.log)
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8765", "address to listen on")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("starbash v0.1.0")
		},
	}
}

func printSelection(sel engine.Selection) {
	fmt.Printf("targets:     %s\n", joinOrAny(sel.Targets))
	fmt.Printf("instruments: %s\n", joinOrAny(sel.Instruments))
	fmt.Printf("filters:     %s\n", joinOrAny(sel.Filters))
	kinds := make([]string, len(sel.Kinds))
	for i, k := range sel.Kinds {
		kinds[i] = string(k)
	}
	fmt.Printf("kinds:       %s\n", joinOrAny(kinds))
	fmt.Printf("after:       %s\n", formatTimePtr(sel.After))
	fmt.Printf("before:      %s\n", formatTimePtr(sel.Before))
}

func joinOrAny(values []string) string {
	if len(values) == 0 {
		return "(any)"
	}
	return strings.Join(values, ", ")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "(any)"
	}
	return t.Format(time.RFC3339)
}

func printList(values []string) {
	for _, v := range values {
		fmt.Println(v)
	}
}

// reportAndExit prints the per-task report table and signals a
// non-zero process exit through a returned error when any row failed
// or was blocked. A build failure arrives as the plain error from
// ProcessMasters/ProcessAuto and is returned the same way; cmd/starbash
// exits with status 1 for either kind of error.
func reportAndExit(report starbash.Report) error {
	fmt.Printf("%-24s %-16s %-24s %-10s %s\n", "TARGET", "SESSION", "TASK", "STATUS", "NOTE")
	for _, row := range report.Rows {
		fmt.Printf("%-24s %-16s %-24s %-10s %s\n", row.Target, row.Session, row.Task, row.Status, row.Note)
	}
	if code := report.ExitCode(); code != 0 {
		return fmt.Errorf("%d task(s) did not succeed (exit %d)", countNonZero(report), code)
	}
	return nil
}

func countNonZero(report starbash.Report) int {
	n := 0
	for _, row := range report.Rows {
		if row.Status == engine.StatusFailed || row.Status == engine.StatusBlocked {
			n++
		}
	}
	return n
}
