package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// task is one supervised child process. exitCode is written by the
// waiter goroutine before done is closed, so readers may load it
// without synchronization once done is observed closed.
type task struct {
	name      string
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	done      chan struct{}
	exitCode  int
	monitored bool
}

func startTask(name string, argv []string, env map[string]string) (*task, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("task %s: empty command", name)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("task %s: stdout pipe: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("task %s: stderr pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("task %s: starting %s: %w", name, argv[0], err)
	}

	t := &task{
		name:   name,
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		t.exitCode = cmd.ProcessState.ExitCode()
		if err != nil && t.exitCode == 0 {
			t.exitCode = -1
		}
		close(t.done)
	}()
	return t, nil
}

func (t *task) status() TaskStatus {
	select {
	case <-t.done:
		return TaskStatus{PID: t.cmd.Process.Pid, Running: false, ExitCode: t.exitCode}
	default:
		return TaskStatus{PID: t.cmd.Process.Pid, Running: true}
	}
}

func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// stopTask stops the task and reports whether it actually ended. With
// force it kills outright; otherwise it sends SIGTERM, waits out the
// grace period, and escalates to a kill for tasks that ignore it.
func stopTask(t *task, force bool, grace time.Duration) bool {
	if !t.running() {
		return true
	}
	if force {
		t.cmd.Process.Kill()
		return t.awaitExit(grace)
	}
	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return !t.running()
	}
	if t.awaitExit(grace) {
		return true
	}
	t.cmd.Process.Kill()
	return t.awaitExit(grace)
}

func (t *task) awaitExit(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

// forward copies one output stream of the task to the logger and the
// optional line hook, line by line.
func forward(t *task, r io.Reader, stream string, log *zap.Logger, onLine LineFunc) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		log.Info(line, zap.String("task", t.name), zap.String("stream", stream))
		if onLine != nil {
			onLine(t.name, line)
		}
	}
}
