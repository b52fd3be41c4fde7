package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/container"
	"github.com/michaelbrown/crucible/internal/reward"
)

var (
	rewardInstance  string
	rewardPatchFile string
	rewardTimeout   time.Duration
)

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Score a candidate patch inside the sandbox container",
	Long: `Reward looks up the instance in the pre-supplied dataset, merges the
candidate patch into its job descriptor, and runs the evaluation command
inside the discovered sandbox container.

The patch is read from --patch-file, or from stdin when the flag is
omitted. The raw evaluation result is printed as JSON.

Examples:
  crucible reward --instance astropy__astropy-12907 --patch-file fix.diff
  git diff | crucible reward --instance astropy__astropy-12907`,
	RunE:          runReward,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rewardCmd.Flags().StringVar(&rewardInstance, "instance", "", "Instance id to evaluate (required)")
	rewardCmd.Flags().StringVar(&rewardPatchFile, "patch-file", "", "File containing the candidate patch (default stdin)")
	rewardCmd.Flags().DurationVar(&rewardTimeout, "timeout", 0, "Evaluation timeout (overrides config)")
	rewardCmd.MarkFlagRequired("instance")
	rootCmd.AddCommand(rewardCmd)
}

func runReward(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := newLogger(verboseFlag)
	defer log.Sync()

	var patch []byte
	if rewardPatchFile != "" {
		patch, err = os.ReadFile(rewardPatchFile)
	} else {
		patch, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading patch: %w", err)
	}

	ds, err := reward.LoadDataset(cfg.Reward.DatasetPath)
	if err != nil {
		return err
	}

	name, err := container.FleetScopedName(cfg.Runtime.ContainerName)
	if err != nil {
		return err
	}

	ccfg := container.Config{
		Image:            cfg.Runtime.Image,
		Cwd:              cfg.Runtime.Cwd,
		Env:              cfg.Runtime.Env,
		ForwardEnv:       cfg.Runtime.ForwardEnv,
		Timeout:          cfg.Runtime.ExecTimeout,
		Executable:       cfg.Runtime.Executable,
		RunArgs:          cfg.Runtime.RunArgs,
		ContainerTimeout: cfg.Runtime.ContainerTimeout,
		PullTimeout:      cfg.Runtime.PullTimeout,
		DiscoverRetries:  cfg.Runtime.DiscoverRetries,
		DiscoverBackoff:  cfg.Runtime.DiscoverBackoff,
	}
	client, err := container.Discover(cmd.Context(), ccfg, cfg.Runtime.Namespaces, name, log)
	if err != nil {
		return fmt.Errorf("discovering sandbox: %w", err)
	}
	defer client.Release()

	timeout := rewardTimeout
	if timeout <= 0 {
		timeout = cfg.Reward.Timeout
	}

	svc := reward.New(ds, client, cfg.Reward.SharePath, cfg.Reward.EvalCommand, log)
	res := svc.Evaluate(cmd.Context(), rewardInstance, string(patch), timeout)

	out, err := json.MarshalIndent(map[string]any{
		"stdout":     res.Stdout,
		"stderr":     res.Stderr,
		"returncode": res.ExitCode,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))

	if !res.OK() {
		exitCode = 1
	}
	return nil
}
