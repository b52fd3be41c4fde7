// Package container drives a CLI container runtime (nerdctl, docker, or
// any compatible client) to own the lifecycle of a single sandbox
// container: launch, discovery, in-container execution, and release.
package container

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/michaelbrown/crucible/internal/execute"
)

// namePrefix is prepended to generated container names.
const namePrefix = "crucible-"

// Config describes how the runtime client is invoked and which container
// a handle is bound to.
type Config struct {
	Image      string
	Cwd        string            // working directory for in-container commands
	Env        map[string]string // explicit overlay, wins on conflict
	ForwardEnv []string          // host variables forwarded when set

	Timeout          time.Duration // default per-exec timeout
	Executable       string        // runtime client binary, e.g. "nerdctl"
	RunArgs          []string      // extra arguments for the run invocation
	ContainerTimeout string        // sleep bound for the container's main process
	PullTimeout      time.Duration // budget for run (image pull can be slow)

	DiscoverRetries int           // full discovery sweeps before giving up
	DiscoverBackoff time.Duration // delay between sweeps

	Namespace   string
	ContainerID string
}

// DefaultConfig returns the standard runtime client configuration. The
// executable honors the CRUCIBLE_RUNTIME environment variable.
func DefaultConfig() Config {
	executable := os.Getenv("CRUCIBLE_RUNTIME")
	if executable == "" {
		executable = "nerdctl"
	}
	return Config{
		Cwd:              "/",
		Timeout:          30 * time.Second,
		Executable:       executable,
		RunArgs:          []string{"--rm"},
		ContainerTimeout: "2h",
		PullTimeout:      10 * time.Minute,
		DiscoverRetries:  5,
		DiscoverBackoff:  time.Second,
	}
}

// runner abstracts the host-side command invocation so tests can fake
// the runtime client.
type runner interface {
	Execute(ctx context.Context, req execute.Request) execute.Result
}

// Client owns one container. Exactly one Client owns a given container
// id at a time; Release must be called on every exit path.
type Client struct {
	cfg     Config
	run     runner
	log     *zap.Logger
	release sync.Once
}

// New creates an unbound Client. Callers either Start a fresh container
// or obtain a bound Client from Discover.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Executable == "" {
		cfg.Executable = def.Executable
	}
	if cfg.Cwd == "" {
		cfg.Cwd = def.Cwd
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ContainerTimeout == "" {
		cfg.ContainerTimeout = def.ContainerTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = def.PullTimeout
	}
	if cfg.DiscoverRetries <= 0 {
		cfg.DiscoverRetries = def.DiscoverRetries
	}
	if cfg.DiscoverBackoff <= 0 {
		cfg.DiscoverBackoff = def.DiscoverBackoff
	}
	return &Client{
		cfg: cfg,
		run: execute.New(cfg.Timeout, "", nil, log),
		log: log,
	}
}

// ID returns the bound container identifier, or "" for an unbound handle.
func (c *Client) ID() string { return c.cfg.ContainerID }

// Namespace returns the namespace the container was found in, if any.
func (c *Client) Namespace() string { return c.cfg.Namespace }

// Start launches a fresh detached container running an indefinite sleep
// bounded by the configured container lifetime, and binds the handle to
// the emitted container id. There is no retry at this level: a failed
// launch is fatal to the attempt.
func (c *Client) Start(ctx context.Context) error {
	name := namePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	argv := []string{c.cfg.Executable, "run", "-d", "--name", name, "-w", c.cfg.Cwd}
	argv = append(argv, c.cfg.RunArgs...)
	argv = append(argv, c.cfg.Image, "sleep", c.cfg.ContainerTimeout)

	res := c.run.Execute(ctx, execute.Request{Argv: argv, Timeout: c.cfg.PullTimeout})
	if !res.OK() {
		return fmt.Errorf("starting container %s: exit %d: %s",
			name, res.ExitCode, strings.TrimSpace(res.Stdout+res.Stderr))
	}

	c.cfg.ContainerID = strings.TrimSpace(res.Stdout)
	c.log.Info("started container",
		zap.String("name", name),
		zap.String("id", c.cfg.ContainerID),
		zap.String("image", c.cfg.Image))
	return nil
}

// Exec runs a command inside the container under a login shell and
// returns a structured result. It never returns an error: an unbound
// handle or a dispatch failure surfaces as a failed Result.
func (c *Client) Exec(ctx context.Context, command, cwd string, timeout time.Duration) execute.Result {
	if c.cfg.ContainerID == "" {
		return execute.Result{ExitCode: execute.ExitDispatchError, Stderr: "container not started"}
	}
	if cwd == "" {
		cwd = c.cfg.Cwd
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}

	argv := []string{c.cfg.Executable}
	if c.cfg.Namespace != "" {
		argv = append(argv, "-n", c.cfg.Namespace)
	}
	argv = append(argv, "exec", "-w", cwd)
	for _, key := range c.cfg.ForwardEnv {
		if value, ok := os.LookupEnv(key); ok {
			argv = append(argv, "-e", key+"="+value)
		}
	}
	// Overlay variables are appended after the forwarded ones and
	// therefore win on conflict.
	keys := make([]string, 0, len(c.cfg.Env))
	for k := range c.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", k+"="+c.cfg.Env[k])
	}
	argv = append(argv, c.cfg.ContainerID, "bash", "-lc", command)

	c.log.Info("executing in container",
		zap.String("id", c.cfg.ContainerID),
		zap.String("command", command),
		zap.Duration("timeout", timeout))
	return c.run.Execute(ctx, execute.Request{Argv: argv, Timeout: timeout})
}

// Release issues a best-effort asynchronous cleanup: a graceful stop
// bounded by a short timeout, falling back to forced removal. It never
// blocks the caller, never fails, and is safe to call repeatedly or
// before Start ever succeeded.
func (c *Client) Release() {
	c.release.Do(func() {
		id := c.cfg.ContainerID
		if id == "" {
			return
		}
		run, log := c.run, c.log
		stop := c.nsArgv("stop", id)
		remove := c.nsArgv("rm", "-f", id)

		go func() {
			res := run.Execute(context.Background(), execute.Request{Argv: stop, Timeout: 60 * time.Second})
			if res.OK() {
				log.Info("released container", zap.String("id", id))
				return
			}
			res = run.Execute(context.Background(), execute.Request{Argv: remove, Timeout: 60 * time.Second})
			if !res.OK() {
				log.Warn("container cleanup failed",
					zap.String("id", id),
					zap.Int("exit", res.ExitCode),
					zap.String("stderr", strings.TrimSpace(res.Stderr)))
			}
		}()
	})
}

// nsArgv builds a runtime client invocation scoped to the handle's
// namespace when one is set.
func (c *Client) nsArgv(args ...string) []string {
	argv := []string{c.cfg.Executable}
	if c.cfg.Namespace != "" {
		argv = append(argv, "-n", c.cfg.Namespace)
	}
	return append(argv, args...)
}
