// Package supervisor manages long-running helper processes, keeping
// them observable and stoppable for the lifetime of a dev session. Two
// implementations are provided: Threaded guards its task table with a
// mutex, Coop serializes all access through a single owner goroutine.
package supervisor

import (
	"context"
	"time"
)

// TaskStatus is a point-in-time snapshot of one managed process.
type TaskStatus struct {
	PID      int  `json:"pid"`
	Running  bool `json:"running"`
	ExitCode int  `json:"exit_code"`
}

// LineFunc receives one line of output from a monitored task.
type LineFunc func(task, line string)

// Supervisor tracks named child processes.
type Supervisor interface {
	// Add starts argv as a named task. Adding a name that already
	// exists replaces the old task without stopping it.
	Add(name string, argv []string, env map[string]string) error

	// Status reports a snapshot of every known task.
	Status() map[string]TaskStatus

	// Stop terminates the named task, gracefully first unless force is
	// set, escalating to a kill when the grace period runs out. It
	// reports whether the task is confirmed stopped; unknown names
	// report false.
	Stop(name string, force bool) bool

	// StopAll stops every task, continuing past individual failures.
	StopAll(force bool)

	// Monitor begins forwarding output lines of all tasks that are not
	// yet monitored. Unmonitored tasks that write heavily can block on
	// a full pipe, so call this soon after Add.
	Monitor()

	// RunUntilComplete blocks until every task has exited or ctx is
	// done.
	RunUntilComplete(ctx context.Context)
}

// stopGrace is how long a task gets to exit after a graceful stop
// before it is killed.
const stopGrace = 5 * time.Second

// pollInterval is the cadence of the RunUntilComplete check.
const pollInterval = time.Second
