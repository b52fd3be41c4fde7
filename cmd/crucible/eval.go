package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/execute"
	"github.com/michaelbrown/crucible/internal/pipeline"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
)

var detailsFlag string

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a candidate patch against its job descriptor",
	Long: `Evaluate reads a job descriptor, applies the candidate patch to the
checkout, runs the evaluation script, and prints the graded report as
JSON keyed by instance id.

The process exits non-zero when the instance is not resolved.

Examples:
  crucible eval
  crucible eval --details /shared/details.json`,
	RunE:          runEval,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	evalCmd.Flags().StringVar(&detailsFlag, "details", "/shared/details.json", "Path to the job descriptor JSON")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	data, err := os.ReadFile(detailsFlag)
	if err != nil {
		return fmt.Errorf("reading job descriptor: %w", err)
	}

	workDir := cfg.Eval.WorkDir
	if workDir == "" {
		workDir = pipeline.DefaultWorkDir()
	}
	log := evalLogger(workDir, verboseFlag)
	defer log.Sync()

	run, err := pipeline.ParseDetails(data, workDir, cfg.Eval.CodeRoot)
	if err != nil {
		return err
	}

	runner := execute.New(cfg.Eval.Timeout, workDir, nil, log)
	p, err := pipeline.New(runner, pipeline.Options{
		WorkDir:            workDir,
		ScriptTimeout:      cfg.Eval.Timeout,
		FailOnlyRepos:      cfg.Eval.FailOnlyRepos,
		IncludeTestsStatus: cfg.Eval.IncludeTestsStatus,
	}, log)
	if err != nil {
		return err
	}

	report := p.Evaluate(cmd.Context(), run)

	out, err := json.MarshalIndent(map[string]pipeline.Report{run.InstanceID: report}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	fmt.Println(string(out))

	persistRun(cmd.Context(), cfg, run, report, log)

	if !report.Resolved {
		exitCode = 1
	}
	return nil
}

// persistRun saves the report when run storage is configured. Failures
// are logged, never fatal; the printed report is the primary output.
func persistRun(ctx context.Context, cfg *config.Config, run *pipeline.Run, report pipeline.Report, log *zap.Logger) {
	if cfg.Storage.DBPath == "" {
		return
	}
	store, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Warn("opening run storage", zap.Error(err))
		return
	}
	defer store.Close()

	raw, err := json.Marshal(report)
	if err != nil {
		log.Warn("encoding report for storage", zap.Error(err))
		return
	}
	rec := &storage.RunRecord{
		ID:           uuid.NewString(),
		InstanceID:   run.InstanceID,
		PatchIsNone:  report.PatchIsNone,
		PatchExists:  report.PatchExists,
		PatchApplied: report.PatchApplied,
		Resolved:     report.Resolved,
		Report:       string(raw),
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		log.Warn("saving run", zap.Error(err))
	}
}
