package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
)

var (
	runsLimit    int
	runsResolved string
	runsFormat   string
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"run", "r"},
	Short:   "Inspect stored evaluation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full report for a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "Maximum number of runs to list")
	runsListCmd.Flags().StringVar(&runsResolved, "resolved", "", "Filter by resolution (true or false)")
	runsListCmd.Flags().StringVar(&runsFormat, "format", "table", "Output format: table, json, markdown")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore() (storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("run storage is not configured")
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := storage.RunListOptions{Limit: runsLimit}
	if runsResolved != "" {
		v, err := strconv.ParseBool(runsResolved)
		if err != nil {
			return fmt.Errorf("invalid --resolved value %q", runsResolved)
		}
		opts.Resolved = &v
	}

	runs, err := store.ListRuns(cmd.Context(), opts)
	if err != nil {
		return err
	}

	switch runsFormat {
	case "json":
		data, err := storage.ExportJSON(runs)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "markdown":
		fmt.Print(storage.ExportMarkdown(runs))
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tINSTANCE\tRESOLVED\tAPPLIED\tCREATED")
		for _, r := range runs {
			id := r.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n",
				id, r.InstanceID, r.Resolved, r.PatchApplied,
				r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
	default:
		return fmt.Errorf("unknown format %q", runsFormat)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Instance: %s\n", run.InstanceID)
	fmt.Printf("Resolved: %v\n", run.Resolved)
	fmt.Printf("Created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()
	fmt.Println(run.Report)
	return nil
}
