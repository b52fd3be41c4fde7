package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Threaded supervises tasks behind a mutex and is safe to call from any
// goroutine.
type Threaded struct {
	mu     sync.Mutex
	tasks  map[string]*task
	onLine LineFunc
	log    *zap.Logger
	grace  time.Duration

	// stop is overridable for tests.
	stop func(*task, bool, time.Duration) bool
}

// NewThreaded creates an empty threaded supervisor.
func NewThreaded(log *zap.Logger) *Threaded {
	if log == nil {
		log = zap.NewNop()
	}
	return &Threaded{
		tasks: make(map[string]*task),
		log:   log,
		grace: stopGrace,
		stop:  stopTask,
	}
}

// SetOnLine installs a hook invoked for every monitored output line.
// Set it before calling Monitor.
func (s *Threaded) SetOnLine(fn LineFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLine = fn
}

func (s *Threaded) Add(name string, argv []string, env map[string]string) error {
	t, err := startTask(name, argv, env)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[name]; ok {
		s.log.Warn("replacing task", zap.String("task", name), zap.Int("old_pid", old.cmd.Process.Pid))
	}
	s.tasks[name] = t
	s.log.Info("task started", zap.String("task", name), zap.Int("pid", t.cmd.Process.Pid))
	return nil
}

func (s *Threaded) Status() map[string]TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStatus, len(s.tasks))
	for name, t := range s.tasks {
		out[name] = t.status()
	}
	return out
}

func (s *Threaded) Stop(name string, force bool) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	stopped := s.stop(t, force, s.grace)
	if !stopped {
		s.log.Warn("task did not stop", zap.String("task", name))
	}
	return stopped
}

func (s *Threaded) StopAll(force bool) {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		s.Stop(name, force)
	}
}

func (s *Threaded) Monitor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.monitored {
			continue
		}
		t.monitored = true
		go forward(t, t.stdout, "stdout", s.log, s.onLine)
		go forward(t, t.stderr, "stderr", s.log, s.onLine)
	}
}

func (s *Threaded) RunUntilComplete(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if s.allDone() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Threaded) allDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.running() {
			return false
		}
	}
	return true
}
