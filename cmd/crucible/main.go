package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var verboseFlag bool

// exitCode is set by subcommands that complete but signal failure
// through the process exit status. main applies it after every deferred
// cleanup (log sync, store close, container release) has run.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - sandboxed code evaluation harness",
	Long: `Crucible evaluates candidate patches against reference checkouts.

It applies a patch inside a sandbox, runs the instance's evaluation
script, and grades the observed test outcomes against the declared
fail-to-pass and pass-to-pass expectations.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

// newLogger builds a console logger on stderr.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// evalLogger tees log output to stderr and to run_instance.log in the
// scratch directory so failed evaluations can be inspected afterwards.
func evalLogger(workDir string, verbose bool) *zap.Logger {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return newLogger(verbose)
	}
	f, err := os.OpenFile(filepath.Join(workDir, "run_instance.log"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return newLogger(verbose)
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level),
		zapcore.NewCore(enc, zapcore.AddSync(f), level),
	)
	return zap.New(core)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
