package supervisor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Coop supervises tasks from a single owner goroutine. All operations
// are funneled through a request channel, so the task table needs no
// lock. Suited to callers that are themselves single-threaded event
// loops.
type Coop struct {
	reqs   chan func(map[string]*task)
	closed chan struct{}
	onLine LineFunc
	log    *zap.Logger
	grace  time.Duration
	stop   func(*task, bool, time.Duration) bool
}

// NewCoop creates a cooperative supervisor and starts its owner
// goroutine. Call Close when done with it.
func NewCoop(log *zap.Logger) *Coop {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coop{
		reqs:   make(chan func(map[string]*task)),
		closed: make(chan struct{}),
		log:    log,
		grace:  stopGrace,
		stop:   stopTask,
	}
	go c.loop()
	return c
}

func (c *Coop) loop() {
	tasks := make(map[string]*task)
	for fn := range c.reqs {
		fn(tasks)
	}
	close(c.closed)
}

// do runs fn on the owner goroutine and waits for it to finish.
func (c *Coop) do(fn func(map[string]*task)) {
	done := make(chan struct{})
	c.reqs <- func(tasks map[string]*task) {
		fn(tasks)
		close(done)
	}
	<-done
}

// Close shuts down the owner goroutine. The supervisor must not be used
// afterwards. Tasks are left running; call StopAll first if they should
// not outlive the supervisor.
func (c *Coop) Close() {
	close(c.reqs)
	<-c.closed
}

// SetOnLine installs a hook invoked for every monitored output line.
// Set it before calling Monitor.
func (c *Coop) SetOnLine(fn LineFunc) {
	c.do(func(map[string]*task) { c.onLine = fn })
}

func (c *Coop) Add(name string, argv []string, env map[string]string) error {
	t, err := startTask(name, argv, env)
	if err != nil {
		return err
	}
	c.do(func(tasks map[string]*task) {
		if old, ok := tasks[name]; ok {
			c.log.Warn("replacing task", zap.String("task", name), zap.Int("old_pid", old.cmd.Process.Pid))
		}
		tasks[name] = t
		c.log.Info("task started", zap.String("task", name), zap.Int("pid", t.cmd.Process.Pid))
	})
	return nil
}

func (c *Coop) Status() map[string]TaskStatus {
	var out map[string]TaskStatus
	c.do(func(tasks map[string]*task) {
		out = make(map[string]TaskStatus, len(tasks))
		for name, t := range tasks {
			out[name] = t.status()
		}
	})
	return out
}

// Stop runs the potentially slow stop sequence off the owner goroutine
// so other operations stay responsive during the grace period.
func (c *Coop) Stop(name string, force bool) bool {
	var t *task
	c.do(func(tasks map[string]*task) { t = tasks[name] })
	if t == nil {
		return false
	}
	stopped := c.stop(t, force, c.grace)
	if !stopped {
		c.log.Warn("task did not stop", zap.String("task", name))
	}
	return stopped
}

func (c *Coop) StopAll(force bool) {
	var stops []*task
	c.do(func(tasks map[string]*task) {
		names := make([]string, 0, len(tasks))
		for name := range tasks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			stops = append(stops, tasks[name])
		}
	})
	for _, t := range stops {
		if !c.stop(t, force, c.grace) {
			c.log.Warn("task did not stop", zap.String("task", t.name))
		}
	}
}

func (c *Coop) Monitor() {
	c.do(func(tasks map[string]*task) {
		for _, t := range tasks {
			if t.monitored {
				continue
			}
			t.monitored = true
			go forward(t, t.stdout, "stdout", c.log, c.onLine)
			go forward(t, t.stderr, "stderr", c.log, c.onLine)
		}
	})
}

func (c *Coop) RunUntilComplete(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		done := true
		c.do(func(tasks map[string]*task) {
			for _, t := range tasks {
				if t.running() {
					done = false
					return
				}
			}
		})
		if done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
