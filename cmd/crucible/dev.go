package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/server"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
	"github.com/michaelbrown/crucible/internal/supervisor"
)

var (
	devPort      int
	devQuiet     bool
	devTasksFile string
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run a supervised dev session",
	Long: `Dev starts the configured helper processes under the supervisor and
serves a small dashboard with task status, stored runs, and a live
output feed.

Tasks come from the dev section of the config plus an optional YAML
task file. The session ends when every task has exited or on SIGINT.

Examples:
  crucible dev
  crucible dev --port 9090 --tasks tasks.yaml`,
	RunE:          runDev,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	devCmd.Flags().IntVar(&devPort, "port", 0, "Dashboard port (overrides config)")
	devCmd.Flags().BoolVar(&devQuiet, "quiet", false, "Suppress task output on stderr")
	devCmd.Flags().StringVar(&devTasksFile, "tasks", "", "YAML file with extra tasks to supervise")
	rootCmd.AddCommand(devCmd)
}

// taskSpec is one entry in the --tasks file.
type taskSpec struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

func loadTaskFile(path string) ([]taskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	var specs []taskSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", path, err)
	}
	return specs, nil
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(verboseFlag)
	if devQuiet {
		log = zap.NewNop()
	}
	defer log.Sync()

	sup := supervisor.NewThreaded(log)

	var store storage.Store
	if cfg.Storage.DBPath != "" {
		s, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			log.Warn("opening run storage", zap.Error(err))
		} else {
			store = s
			defer s.Close()
		}
	}

	srv := server.New(sup, store, log)
	sup.SetOnLine(srv.BroadcastLine)

	if err := addConfiguredTasks(sup, cfg); err != nil {
		return err
	}
	if devTasksFile != "" {
		specs, err := loadTaskFile(devTasksFile)
		if err != nil {
			return err
		}
		for _, spec := range specs {
			argv, err := shellquote.Split(spec.Command)
			if err != nil {
				return fmt.Errorf("task %s: %w", spec.Name, err)
			}
			if err := sup.Add(spec.Name, argv, spec.Env); err != nil {
				return err
			}
		}
	}
	sup.Monitor()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := devPort
	if port == 0 {
		port = cfg.Server.Port
	}
	go func() {
		if err := srv.Start(port); err != nil && err != http.ErrServerClosed {
			log.Error("dev server", zap.Error(err))
		}
	}()

	sup.RunUntilComplete(ctx)

	sup.StopAll(true)
	return srv.Shutdown(context.Background())
}

// addConfiguredTasks starts the server and inspector commands from the
// config, when set. The inspector receives the configured port as its
// final argument.
func addConfiguredTasks(sup supervisor.Supervisor, cfg *config.Config) error {
	if cfg.Dev.ServerCommand != "" {
		argv, err := shellquote.Split(cfg.Dev.ServerCommand)
		if err != nil {
			return fmt.Errorf("dev server command: %w", err)
		}
		if err := sup.Add("server", argv, nil); err != nil {
			return err
		}
	}
	if cfg.Dev.InspectorCommand != "" {
		argv, err := shellquote.Split(cfg.Dev.InspectorCommand)
		if err != nil {
			return fmt.Errorf("inspector command: %w", err)
		}
		argv = append(argv, strconv.Itoa(cfg.Dev.InspectorPort))
		if err := sup.Add("inspector", argv, nil); err != nil {
			return err
		}
	}
	return nil
}
