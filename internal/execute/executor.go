package execute

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// Reserved exit codes for executor-level faults. A child process can
// never produce these; real exit statuses are non-negative.
const (
	// ExitDispatchError marks a failure to start or wait on the child
	// (executable missing, pipe setup failure, cancelled context).
	ExitDispatchError = -1
	// ExitTimeout marks an execution that exceeded its time budget and
	// was killed.
	ExitTimeout = -2
)

// Result is the outcome of a single execution. Executor-level faults are
// reported here through the reserved exit codes, never as errors.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the command exited successfully.
func (r Result) OK() bool { return r.ExitCode == 0 }

func (r Result) String() string {
	return fmt.Sprintf("Result{code: %d, duration: %s}", r.ExitCode, r.Duration.Round(time.Millisecond))
}

// LineFunc receives one line of child output in streaming mode. stream
// is "stdout" or "stderr".
type LineFunc func(stream, line string)

// Request describes a single command execution. Exactly one of Command
// and Argv should be set; Argv wins when both are present. A Request is
// not modified once submitted.
type Request struct {
	Command string   // shell-syntax command line
	Argv    []string // pre-tokenized argument vector

	Timeout    time.Duration // overrides the executor default when > 0
	Input      string        // stdin payload for the child
	OutputFile string        // capture mode only: redirect merged output here
	OnLine     LineFunc      // switches to streaming mode when non-nil
}

// Executor runs commands as child processes with timeout, environment
// control, and output capture.
type Executor struct {
	timeout    time.Duration
	workingDir string
	env        []string
	log        *zap.Logger
}

// New creates an Executor. workingDir defaults to the current directory
// and env is overlaid onto the host environment.
func New(timeout time.Duration, workingDir string, env map[string]string, log *zap.Logger) *Executor {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		timeout:    timeout,
		workingDir: workingDir,
		env:        buildEnv(env),
		log:        log,
	}
}

// buildEnv overlays custom variables onto the host environment. On Linux
// the search path is pinned to a fixed minimal list so lookups cannot
// wander onto an inherited PATH.
func buildEnv(custom map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range custom {
		merged[k] = v
	}
	if runtime.GOOS == "linux" {
		merged["PATH"] = "/bin:/usr/bin:/usr/local/bin"
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// Execute runs a single command and always returns a Result: dispatch
// failures and timeouts surface as reserved exit codes, never as errors
// or panics.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	argv, dispatch, err := e.resolveArgv(req)
	if err != nil {
		return Result{ExitCode: ExitDispatchError, Stderr: "execution error: " + err.Error()}
	}

	e.log.Info("executing command",
		zap.Strings("argv", argv),
		zap.String("dispatch", dispatch.String()),
		zap.String("workdir", e.workingDir),
		zap.Duration("timeout", timeout))

	if req.OnLine != nil {
		return e.executeStreaming(ctx, argv, timeout, req)
	}
	return e.executeCapture(ctx, argv, timeout, req)
}

// resolveArgv turns a Request into the final argument vector. String
// commands needing shell features go through /bin/sh; everything else is
// tokenized with shell-quoting rules and executed directly.
func (e *Executor) resolveArgv(req Request) ([]string, Dispatch, error) {
	if len(req.Argv) > 0 {
		return req.Argv, DirectExec, nil
	}
	if req.Command == "" {
		return nil, DirectExec, errors.New("empty command")
	}
	if Classify(req.Command) == ShellExec {
		return []string{"/bin/sh", "-c", req.Command}, ShellExec, nil
	}
	words, err := shellquote.Split(req.Command)
	if err != nil {
		return nil, DirectExec, fmt.Errorf("tokenizing command: %w", err)
	}
	if len(words) == 0 {
		return nil, DirectExec, errors.New("empty command")
	}
	return words, DirectExec, nil
}

func (e *Executor) newCmd(argv []string, input string) *exec.Cmd {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = e.workingDir
	cmd.Env = e.env
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	return cmd
}

// executeCapture runs the child with both output streams merged into one
// buffer (or redirected to the requested file) and blocks up to timeout.
// On timeout no partial output is reported.
func (e *Executor) executeCapture(ctx context.Context, argv []string, timeout time.Duration, req Request) Result {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = e.workingDir
	cmd.Env = e.env
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}

	var buf bytes.Buffer
	if req.OutputFile != "" {
		f, err := os.Create(req.OutputFile)
		if err != nil {
			return Result{ExitCode: ExitDispatchError, Stderr: "execution error: " + err.Error()}
		}
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if cctx.Err() == context.DeadlineExceeded {
		return Result{
			ExitCode: ExitTimeout,
			Stderr:   fmt.Sprintf("timeout after %s", timeout),
			Duration: elapsed,
		}
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return Result{ExitCode: ee.ExitCode(), Stdout: buf.String(), Duration: elapsed}
		}
		e.log.Error("execution failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return Result{ExitCode: ExitDispatchError, Stderr: "execution error: " + err.Error(), Duration: elapsed}
	}
	return Result{ExitCode: 0, Stdout: buf.String(), Duration: elapsed}
}

// lineBuffer accumulates lines from one stream. Each reader goroutine
// owns exactly one buffer; the mutex covers the late reads that happen
// when a timed-out reader is still draining.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *lineBuffer) append(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

func (b *lineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return ""
	}
	return strings.Join(b.lines, "\n") + "\n"
}

// executeStreaming runs the child with separate stdout/stderr pipes, each
// drained by a background reader that invokes the callback per line. On
// timeout the child is killed, the readers get a short grace period to
// finish, and the partially accumulated output is returned.
func (e *Executor) executeStreaming(ctx context.Context, argv []string, timeout time.Duration, req Request) Result {
	cmd := e.newCmd(argv, req.Input)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: ExitDispatchError, Stderr: "execution error: " + err.Error()}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: ExitDispatchError, Stderr: "execution error: " + err.Error()}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: ExitDispatchError, Stderr: "execution error: " + err.Error(), Duration: time.Since(start)}
	}

	var outBuf, errBuf lineBuffer
	var wg sync.WaitGroup
	wg.Add(2)
	go readStream(stdout, "stdout", &outBuf, req.OnLine, &wg)
	go readStream(stderr, "stderr", &errBuf, req.OnLine, &wg)

	// The timeout bounds the process wait, not just the reader drain: a
	// child can close its streams and keep running, so EOF on the pipes
	// must not end the clock.
	waitDone := make(chan error, 1)
	go func() {
		wg.Wait()
		waitDone <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-waitDone:
		elapsed := time.Since(start)
		code := 0
		if err != nil {
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				code = ee.ExitCode()
			} else {
				return Result{
					ExitCode: ExitDispatchError,
					Stdout:   outBuf.String(),
					Stderr:   errBuf.String() + "execution error: " + err.Error(),
					Duration: elapsed,
				}
			}
		}
		return Result{ExitCode: code, Stdout: outBuf.String(), Stderr: errBuf.String(), Duration: elapsed}

	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled: kill the child, give the readers and the
	// wait a short grace period, then report the partial output. The
	// wait goroutine reaps the child even if the grace expires first.
	_ = cmd.Process.Kill()
	select {
	case <-waitDone:
	case <-time.After(time.Second):
	}

	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return Result{
			ExitCode: ExitDispatchError,
			Stdout:   outBuf.String(),
			Stderr:   errBuf.String() + "execution error: " + ctx.Err().Error(),
			Duration: elapsed,
		}
	}
	return Result{
		ExitCode: ExitTimeout,
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String() + fmt.Sprintf("timeout after %s", timeout),
		Duration: elapsed,
	}
}

// readStream drains one pipe line by line, accumulating into buf and
// forwarding each line to the callback tagged with the stream name.
func readStream(r io.Reader, stream string, buf *lineBuffer, onLine LineFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		buf.append(line)
		if onLine != nil {
			onLine(stream, line)
		}
	}
}
