package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/execute"
)

// Runner runs a shell command on behalf of the pipeline. Satisfied by
// *execute.Executor on the host and by fakes in tests.
type Runner interface {
	Execute(ctx context.Context, req execute.Request) execute.Result
}

// Options configures a Pipeline.
type Options struct {
	// WorkDir is the scratch directory for the patch file, the
	// materialized script, and the captured test output. Defaults to
	// DefaultWorkDir.
	WorkDir string
	// ScriptTimeout bounds the evaluation script execution.
	ScriptTimeout time.Duration
	// FailOnlyRepos lists repositories whose test harnesses only
	// reliably report failing tests.
	FailOnlyRepos []string
	// IncludeTestsStatus adds the per-test breakdown to reports.
	IncludeTestsStatus bool
}

// Pipeline evaluates runs. It holds no state between runs; stages within
// one run execute strictly sequentially.
type Pipeline struct {
	runner        Runner
	workDir       string
	scriptTimeout time.Duration
	failOnly      map[string]bool
	includeTests  bool
	log           *zap.Logger
}

// New creates a Pipeline. The scratch directory is created if missing.
func New(runner Runner, opts Options, log *zap.Logger) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop()
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = DefaultWorkDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	scriptTimeout := opts.ScriptTimeout
	if scriptTimeout <= 0 {
		scriptTimeout = time.Hour
	}
	failOnly := make(map[string]bool, len(opts.FailOnlyRepos))
	for _, repo := range opts.FailOnlyRepos {
		failOnly[repo] = true
	}
	return &Pipeline{
		runner:        runner,
		workDir:       workDir,
		scriptTimeout: scriptTimeout,
		failOnly:      failOnly,
		includeTests:  opts.IncludeTestsStatus,
		log:           log,
	}, nil
}

// WorkDir returns the pipeline's scratch directory.
func (p *Pipeline) WorkDir() string { return p.workDir }

// Evaluate runs the full pipeline for one run and always produces a
// report. The stages short-circuit at the first failed precondition,
// leaving the remaining report flags false.
func (p *Pipeline) Evaluate(ctx context.Context, run *Run) Report {
	log := p.log.With(zap.String("instance", run.InstanceID))
	log.Info("running instance")

	var report Report
	if run.ModelPatch == nil {
		report.PatchIsNone = true
		log.Info("no patch supplied, skipping evaluation")
		return report
	}
	report.PatchExists = true

	if err := p.applyPatch(ctx, run, log); err != nil {
		log.Warn("patch did not apply", zap.Error(err))
		return report
	}
	report.PatchApplied = true

	before := p.gitDiff(ctx, run)

	scriptPath, err := p.materializeScript(run)
	if err != nil {
		log.Error("materializing evaluation script failed", zap.Error(err))
		return report
	}

	outPath := p.runScript(ctx, scriptPath, log)

	after := p.gitDiff(ctx, run)
	if after != before {
		log.Info("checkout diff changed after running the evaluation script")
	}

	log.Info("grading answer")
	statuses, found := p.parseLogFile(outPath)
	if !found {
		log.Warn("no recognizable test markers in log", zap.String("log", outPath))
		return report
	}

	tests := GradeTests(statuses, run.FailToPass, run.PassToPass, p.mode(run.Repo))
	report.Resolved = tests.ResolvedFull()
	if p.includeTests {
		report.TestsStatus = &tests
	}
	log.Info("graded instance", zap.Bool("resolved", report.Resolved))
	return report
}

func (p *Pipeline) mode(repo string) Mode {
	if p.failOnly[repo] {
		return FailOnly
	}
	return PassAndFail
}

// applyPatch writes the patch to a scratch file and applies it with a
// strict git apply, falling back to a fuzzy line-based patch.
func (p *Pipeline) applyPatch(ctx context.Context, run *Run, log *zap.Logger) error {
	patch := *run.ModelPatch
	if patch != "" && !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}
	patchFile := filepath.Join(p.workDir, "patch.diff")
	if err := os.WriteFile(patchFile, []byte(patch), 0o644); err != nil {
		return fmt.Errorf("writing patch file: %w", err)
	}

	strict := fmt.Sprintf("cd %s && git apply -v %s", run.CodeRoot, patchFile)
	if res := p.runner.Execute(ctx, execute.Request{Command: strict}); res.OK() {
		log.Info("patch applied", zap.String("output", strings.TrimSpace(res.Stdout)))
		return nil
	}

	log.Info("strict apply failed, trying fuzzy patch")
	fuzzy := fmt.Sprintf("cd %s && patch --batch --fuzz=5 -p1 -i %s", run.CodeRoot, patchFile)
	res := p.runner.Execute(ctx, execute.Request{Command: fuzzy})
	if !res.OK() {
		return fmt.Errorf("patch did not apply: %s", strings.TrimSpace(res.Stderr))
	}
	log.Info("patch applied with fuzz", zap.String("output", strings.TrimSpace(res.Stdout)))
	return nil
}

// gitDiff captures the checkout's diff state, for diagnostics only.
func (p *Pipeline) gitDiff(ctx context.Context, run *Run) string {
	res := p.runner.Execute(ctx, execute.Request{Command: fmt.Sprintf("cd %s && git diff", run.CodeRoot)})
	return res.Stdout
}

// materializeScript resolves the evaluation script to a file on disk: an
// already existing file is used as-is, otherwise the script text is
// written to the run's scratch file.
func (p *Pipeline) materializeScript(run *Run) (string, error) {
	if _, err := os.Stat(run.EvalScript); err == nil {
		return run.EvalScript, nil
	}
	script := ensureUTF8Locale(run.EvalScript)
	if err := os.WriteFile(run.EvalFile, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("writing evaluation script: %w", err)
	}
	return run.EvalFile, nil
}

// ensureUTF8Locale qualifies bare locale-gen invocations. Some
// distribution base images generate no locale at all otherwise, which
// breaks the test harness in those checkouts.
func ensureUTF8Locale(script string) string {
	if strings.Contains(script, "locale-gen en_US.UTF-8") {
		return script
	}
	return strings.ReplaceAll(script, "locale-gen", "locale-gen en_US.UTF-8")
}

// runScript executes the materialized script and persists its stdout to
// the scratch output file regardless of exit code. It returns the output
// file path.
func (p *Pipeline) runScript(ctx context.Context, scriptPath string, log *zap.Logger) string {
	res := p.runner.Execute(ctx, execute.Request{
		Command: "/bin/bash " + scriptPath,
		Timeout: p.scriptTimeout,
	})
	log.Info("evaluation script finished",
		zap.Int("exit", res.ExitCode),
		zap.Duration("duration", res.Duration))

	outPath := filepath.Join(p.workDir, "test_output.txt")
	if err := os.WriteFile(outPath, []byte(res.Stdout), 0o644); err != nil {
		log.Error("persisting test output failed", zap.Error(err))
	}
	return outPath
}

func (p *Pipeline) parseLogFile(path string) (map[string]Status, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return ParseTestLog(string(data))
}
