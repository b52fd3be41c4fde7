package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"
)

var (
	_ Supervisor = (*Threaded)(nil)
	_ Supervisor = (*Coop)(nil)
)

// backends lets each test run against both implementations.
func backends(t *testing.T, fn func(t *testing.T, s Supervisor, setStop func(func(*task, bool, time.Duration) bool))) {
	t.Run("threaded", func(t *testing.T) {
		s := NewThreaded(nil)
		fn(t, s, func(stop func(*task, bool, time.Duration) bool) { s.stop = stop })
	})
	t.Run("coop", func(t *testing.T) {
		c := NewCoop(nil)
		defer c.Close()
		fn(t, c, func(stop func(*task, bool, time.Duration) bool) { c.stop = stop })
	})
}

// shortenGrace trims the stop escalation window so tests stay fast.
func shortenGrace(s Supervisor, d time.Duration) {
	switch v := s.(type) {
	case *Threaded:
		v.grace = d
	case *Coop:
		v.grace = d
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestAddAndStatus(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("short", []string{"sh", "-c", "exit 3"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		waitFor(t, func() bool { return !s.Status()["short"].Running })

		st := s.Status()["short"]
		if st.ExitCode != 3 {
			t.Errorf("ExitCode = %d, want 3", st.ExitCode)
		}
		if st.PID == 0 {
			t.Error("PID not recorded")
		}
	})
}

func TestAddEmptyCommand(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("bad", nil, nil); err == nil {
			t.Error("expected error for empty command")
		}
		if _, ok := s.Status()["bad"]; ok {
			t.Error("failed task should not be registered")
		}
	})
}

func TestAddReplacesExisting(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("job", []string{"sleep", "60"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		first := s.Status()["job"].PID

		if err := s.Add("job", []string{"sleep", "60"}, nil); err != nil {
			t.Fatalf("Add replace: %v", err)
		}
		second := s.Status()["job"].PID
		if first == second {
			t.Error("replacement kept the old process")
		}
		s.StopAll(true)
	})
}

func TestStopForce(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("job", []string{"sleep", "60"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if !s.Stop("job", true) {
			t.Fatal("Stop did not confirm the kill")
		}
		if s.Status()["job"].Running {
			t.Error("task still running after a confirmed Stop")
		}

		if s.Stop("nope", true) {
			t.Error("Stop reported success for unknown task")
		}
	})
}

func TestStopGraceful(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("job", []string{"sleep", "60"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if !s.Stop("job", false) {
			t.Fatal("graceful Stop did not confirm the exit")
		}
		if s.Status()["job"].Running {
			t.Error("task still running after a confirmed Stop")
		}
	})
}

func TestStopEscalatesWhenTermIgnored(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		shortenGrace(s, 200*time.Millisecond)

		if err := s.Add("stubborn", []string{"sh", "-c", `trap "" TERM; sleep 60`}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		// Give the shell a moment to install the trap.
		time.Sleep(100 * time.Millisecond)

		start := time.Now()
		if !s.Stop("stubborn", false) {
			t.Fatal("Stop did not confirm the escalated kill")
		}
		if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
			t.Errorf("stopped after %s, expected the grace period to elapse first", elapsed)
		}
		if s.Status()["stubborn"].Running {
			t.Error("task survived the escalation")
		}
	})
}

func TestStopAllContinuesPastFailures(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, setStop func(func(*task, bool, time.Duration) bool)) {
		for _, name := range []string{"a", "b", "c"} {
			if err := s.Add(name, []string{"sleep", "60"}, nil); err != nil {
				t.Fatalf("Add %s: %v", name, err)
			}
		}

		var mu sync.Mutex
		var stopped []string
		setStop(func(tk *task, force bool, grace time.Duration) bool {
			mu.Lock()
			stopped = append(stopped, tk.name)
			mu.Unlock()
			if tk.name == "a" {
				return false
			}
			return stopTask(tk, force, grace)
		})

		s.StopAll(true)
		mu.Lock()
		n := len(stopped)
		mu.Unlock()
		if n != 3 {
			t.Errorf("attempted to stop %d tasks, want 3", n)
		}
		setStop(stopTask)
		s.StopAll(true)
	})
}

func TestMonitorForwardsLines(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		var mu sync.Mutex
		lines := map[string]bool{}
		switch v := s.(type) {
		case *Threaded:
			v.SetOnLine(func(task, line string) {
				mu.Lock()
				lines[task+":"+line] = true
				mu.Unlock()
			})
		case *Coop:
			v.SetOnLine(func(task, line string) {
				mu.Lock()
				lines[task+":"+line] = true
				mu.Unlock()
			})
		}

		if err := s.Add("echoer", []string{"sh", "-c", "echo out; echo err >&2"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		s.Monitor()

		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return lines["echoer:out"] && lines["echoer:err"]
		})
	})
}

func TestRunUntilCompleteReturnsWhenTasksExit(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("quick", []string{"true"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		done := make(chan struct{})
		go func() {
			s.RunUntilComplete(context.Background())
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("RunUntilComplete did not return")
		}
	})
}

func TestRunUntilCompleteHonorsContext(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		if err := s.Add("job", []string{"sleep", "60"}, nil); err != nil {
			t.Fatalf("Add: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		s.RunUntilComplete(ctx)
		if time.Since(start) > 3*time.Second {
			t.Error("RunUntilComplete ignored context cancellation")
		}
		s.StopAll(true)
	})
}

func TestEnvPassedToTask(t *testing.T) {
	backends(t, func(t *testing.T, s Supervisor, _ func(func(*task, bool, time.Duration) bool)) {
		var mu sync.Mutex
		var got string
		switch v := s.(type) {
		case *Threaded:
			v.SetOnLine(func(_, line string) { mu.Lock(); got = line; mu.Unlock() })
		case *Coop:
			v.SetOnLine(func(_, line string) { mu.Lock(); got = line; mu.Unlock() })
		}

		err := s.Add("env", []string{"sh", "-c", "echo $CRUCIBLE_TEST_VAR"}, map[string]string{"CRUCIBLE_TEST_VAR": "hello"})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		s.Monitor()
		waitFor(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return got == "hello"
		})
	})
}
