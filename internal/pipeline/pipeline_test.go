package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/michaelbrown/crucible/internal/execute"
)

// scriptedRunner matches command substrings to canned results and
// records every command it sees.
type scriptedRunner struct {
	responses map[string]execute.Result // substring → result
	commands  []string
}

func (r *scriptedRunner) Execute(ctx context.Context, req execute.Request) execute.Result {
	r.commands = append(r.commands, req.Command)
	for sub, res := range r.responses {
		if strings.Contains(req.Command, sub) {
			return res
		}
	}
	return execute.Result{ExitCode: 0}
}

func (r *scriptedRunner) sawCommand(sub string) bool {
	for _, c := range r.commands {
		if strings.Contains(c, sub) {
			return true
		}
	}
	return false
}

func strptr(s string) *string { return &s }

func newTestPipeline(t *testing.T, r Runner, opts Options) *Pipeline {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	p, err := New(r, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func testRun(workDir string) *Run {
	return &Run{
		InstanceID: "repo__x-1",
		Repo:       "example/repo",
		Version:    "1.0",
		ModelPatch: strptr("diff --git a/f b/f"),
		EvalScript: "#!/bin/bash\necho PASSED t1\necho PASSED t2\n",
		EvalFile:   filepath.Join(workDir, "eval.sh"),
		CodeRoot:   "/testbed",
		FailToPass: []string{"t1"},
		PassToPass: []string{"t2"},
	}
}

func TestEvaluateNullPatch(t *testing.T) {
	r := &scriptedRunner{}
	p := newTestPipeline(t, r, Options{})
	run := testRun(p.WorkDir())
	run.ModelPatch = nil

	report := p.Evaluate(context.Background(), run)
	if !report.PatchIsNone {
		t.Error("patch_is_None should be true")
	}
	if report.PatchExists || report.PatchApplied || report.Resolved {
		t.Error("all later flags must stay false")
	}
	if len(r.commands) != 0 {
		t.Errorf("a null patch must not execute anything, ran %v", r.commands)
	}
}

func TestEvaluateResolved(t *testing.T) {
	r := &scriptedRunner{responses: map[string]execute.Result{
		"/bin/bash": {ExitCode: 0, Stdout: "PASSED t1\nPASSED t2\n"},
	}}
	p := newTestPipeline(t, r, Options{IncludeTestsStatus: true})
	run := testRun(p.WorkDir())

	report := p.Evaluate(context.Background(), run)
	if !report.PatchExists || !report.PatchApplied {
		t.Fatalf("report = %+v", report)
	}
	if !report.Resolved {
		t.Error("all expectations observed passing, want resolved")
	}
	if report.TestsStatus == nil {
		t.Fatal("tests_status breakdown requested but missing")
	}
	if len(report.TestsStatus.FailToPass.Success) != 1 || len(report.TestsStatus.PassToPass.Success) != 1 {
		t.Errorf("breakdown = %+v", report.TestsStatus)
	}

	// Raw stdout must be persisted regardless of grading.
	data, err := os.ReadFile(filepath.Join(p.WorkDir(), "test_output.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "PASSED t1") {
		t.Errorf("test output = %q", data)
	}
}

func TestEvaluateUnresolvedOnRegression(t *testing.T) {
	r := &scriptedRunner{responses: map[string]execute.Result{
		"/bin/bash": {ExitCode: 0, Stdout: "PASSED t1\nFAILED t2\n"},
	}}
	p := newTestPipeline(t, r, Options{})
	run := testRun(p.WorkDir())

	report := p.Evaluate(context.Background(), run)
	if !report.PatchApplied {
		t.Fatalf("report = %+v", report)
	}
	if report.Resolved {
		t.Error("a failing pass→pass test must leave the run unresolved")
	}
}

func TestEvaluatePatchFallback(t *testing.T) {
	r := &scriptedRunner{responses: map[string]execute.Result{
		"git apply": {ExitCode: 1, Stderr: "corrupt patch"},
		"/bin/bash": {ExitCode: 0, Stdout: "PASSED t1\nPASSED t2\n"},
	}}
	p := newTestPipeline(t, r, Options{})

	report := p.Evaluate(context.Background(), testRun(p.WorkDir()))
	if !report.PatchApplied {
		t.Fatal("fuzzy fallback should have applied the patch")
	}
	if !r.sawCommand("patch --batch --fuzz=5 -p1") {
		t.Errorf("fallback patch invocation missing, ran %v", r.commands)
	}
}

func TestEvaluatePatchApplyFails(t *testing.T) {
	r := &scriptedRunner{responses: map[string]execute.Result{
		"git apply":     {ExitCode: 1, Stderr: "corrupt patch"},
		"patch --batch": {ExitCode: 1, Stderr: "hunk failed"},
	}}
	p := newTestPipeline(t, r, Options{})

	report := p.Evaluate(context.Background(), testRun(p.WorkDir()))
	if !report.PatchExists {
		t.Error("patch_exists should be true")
	}
	if report.PatchApplied || report.Resolved {
		t.Error("failed apply must short-circuit with later flags false")
	}
	if r.sawCommand("/bin/bash") {
		t.Error("evaluation script must not run after a failed apply")
	}
}

func TestEvaluateNoLogMarkers(t *testing.T) {
	r := &scriptedRunner{responses: map[string]execute.Result{
		"/bin/bash": {ExitCode: 1, Stdout: "Traceback (most recent call last):\n"},
	}}
	p := newTestPipeline(t, r, Options{})

	report := p.Evaluate(context.Background(), testRun(p.WorkDir()))
	if !report.PatchApplied {
		t.Fatalf("report = %+v", report)
	}
	if report.Resolved {
		t.Error("a log with no markers must yield an unresolved report")
	}
}

func TestEvaluatePatchTrailingNewline(t *testing.T) {
	r := &scriptedRunner{}
	p := newTestPipeline(t, r, Options{})
	run := testRun(p.WorkDir())
	run.ModelPatch = strptr("diff --git a/f b/f") // no trailing newline

	p.Evaluate(context.Background(), run)

	data, err := os.ReadFile(filepath.Join(p.WorkDir(), "patch.diff"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("patch file must end with a newline")
	}
}

func TestMaterializeScriptSubstitutesLocale(t *testing.T) {
	p := newTestPipeline(t, &scriptedRunner{}, Options{})
	run := testRun(p.WorkDir())
	run.EvalScript = "#!/bin/bash\nlocale-gen\npytest\n"

	path, err := p.materializeScript(run)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "locale-gen en_US.UTF-8") {
		t.Errorf("script = %q, want UTF-8 locale variant", data)
	}

	// Already qualified invocations are left alone.
	if got := ensureUTF8Locale("locale-gen en_US.UTF-8\n"); strings.Count(got, "en_US.UTF-8") != 1 {
		t.Errorf("qualified script was rewritten: %q", got)
	}
}

func TestMaterializeScriptReusesExistingFile(t *testing.T) {
	p := newTestPipeline(t, &scriptedRunner{}, Options{})
	existing := filepath.Join(t.TempDir(), "provided.sh")
	if err := os.WriteFile(existing, []byte("#!/bin/bash\necho supplied\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	run := testRun(p.WorkDir())
	run.EvalScript = existing

	path, err := p.materializeScript(run)
	if err != nil {
		t.Fatal(err)
	}
	if path != existing {
		t.Errorf("path = %q, want the supplied file %q", path, existing)
	}
}

func TestParseDetails(t *testing.T) {
	data := []byte(`{
		"instance_id": "astropy__astropy-1234",
		"repo": "astropy/astropy",
		"version": "5.1",
		"model_patch": "diff --git a/f b/f\n",
		"script": "#!/bin/bash\npytest\n",
		"test_cmd": "pytest",
		"FAIL_TO_PASS": "[\"t1\",\"t2\"]",
		"PASS_TO_PASS": "[\"t3\"]"
	}`)

	run, err := ParseDetails(data, "/tmp/scratch", "/testbed")
	if err != nil {
		t.Fatal(err)
	}
	if run.InstanceID != "astropy__astropy-1234" || run.Repo != "astropy/astropy" {
		t.Errorf("run = %+v", run)
	}
	if run.ModelPatch == nil || *run.ModelPatch == "" {
		t.Error("model patch missing")
	}
	if len(run.FailToPass) != 2 || len(run.PassToPass) != 1 {
		t.Errorf("test lists = %v / %v", run.FailToPass, run.PassToPass)
	}
	if run.EvalFile != filepath.Join("/tmp/scratch", "eval.sh") {
		t.Errorf("eval file = %q", run.EvalFile)
	}
}

func TestParseDetailsNullPatch(t *testing.T) {
	data := []byte(`{"instance_id": "x-1", "model_patch": null}`)

	run, err := ParseDetails(data, "/tmp/scratch", "/testbed")
	if err != nil {
		t.Fatal(err)
	}
	if run.ModelPatch != nil {
		t.Error("a JSON null patch must decode to nil")
	}
}
