package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/logging"
)

// futureSchedule returns time + 1 hour
type futureSchedule struct{}

func (futureSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Hour)
}

// newTestScheduler never ticks on its own; tests drive checkAndRunTasks.
func newTestScheduler(clk clock.Clock) *Scheduler {
	s := New(logging.Discard(), clk)
	s.tick = time.Hour
	return s
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestScheduler_CRUD(t *testing.T) {
	s := newTestScheduler(nil)

	task := &Task{
		ID:       "test-1",
		Name:     "Test Task",
		Enabled:  true,
		Schedule: futureSchedule{},
		Func:     func(ctx context.Context) error { return nil },
	}

	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}
	if _, exists := s.GetTaskStatus("test-1"); !exists {
		t.Error("Task not found after add")
	}
	if err := s.AddTask(task); err == nil {
		t.Error("Expected error adding duplicate task")
	}

	if err := s.EnableTask("test-1", false); err != nil {
		t.Errorf("Disable failed: %v", err)
	}
	stat, _ := s.GetTaskStatus("test-1")
	if stat.Enabled || !stat.NextRun.IsZero() {
		t.Error("Task should be disabled with no next run")
	}
	if err := s.EnableTask("test-1", true); err != nil {
		t.Errorf("Enable failed: %v", err)
	}
	stat, _ = s.GetTaskStatus("test-1")
	if !stat.Enabled || stat.NextRun.IsZero() {
		t.Error("Task should be enabled with a next run")
	}

	if all := s.GetStatus(); len(all) != 1 {
		t.Errorf("Expected 1 task status, got %d", len(all))
	}

	if err := s.RemoveTask("test-1"); err != nil {
		t.Errorf("RemoveTask failed: %v", err)
	}
	if _, exists := s.GetTaskStatus("test-1"); exists {
		t.Error("Task should be gone after remove")
	}
	if err := s.RemoveTask("test-1"); err == nil {
		t.Error("Expected error removing unknown task")
	}
}

func TestScheduler_AddTaskValidation(t *testing.T) {
	s := newTestScheduler(nil)
	noop := func(ctx context.Context) error { return nil }

	bad := []*Task{
		{Schedule: futureSchedule{}, Func: noop},
		{ID: "x", Func: noop},
		{ID: "x", Schedule: futureSchedule{}},
	}
	for i, task := range bad {
		if err := s.AddTask(task); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestScheduler_ManualRun(t *testing.T) {
	s := newTestScheduler(nil)
	s.Start()
	defer s.Stop()

	if !s.IsRunning() {
		t.Error("Scheduler should be running")
	}

	ran := make(chan struct{})
	s.AddTask(&Task{
		ID:       "manual-run",
		Name:     "Manual Run",
		Schedule: futureSchedule{},
		Func: func(ctx context.Context) error {
			close(ran)
			return nil
		},
	})

	if err := s.RunTask("manual-run"); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Error("Timeout waiting for manual task run")
	}
	if err := s.RunTask("missing"); err == nil {
		t.Error("Expected error running unknown task")
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	s := newTestScheduler(nil)

	var runs atomic.Int32
	s.AddTask(&Task{
		ID:         "start-run",
		Name:       "Start Run",
		Enabled:    true,
		RunOnStart: true,
		Schedule:   futureSchedule{},
		Func: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start()
	defer s.Stop()

	waitFor(t, "run on start", func() bool { return runs.Load() == 1 })
}

func TestScheduler_DueTasksFollowClock(t *testing.T) {
	mock := clock.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(mock)

	var runs atomic.Int32
	s.AddTask(NewSweepTask(5*time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start()
	defer s.Stop()

	s.checkAndRunTasks(mock.Now())
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("task ran before it was due")
	}

	s.checkAndRunTasks(mock.Advance(5 * time.Second))
	waitFor(t, "due task", func() bool { return runs.Load() == 1 })

	waitFor(t, "status update", func() bool {
		st, _ := s.GetTaskStatus(TaskFlowSweep)
		return st.RunCount == 1 && !st.Running
	})
	st, _ := s.GetTaskStatus(TaskFlowSweep)
	if want := mock.Now().Add(5 * time.Second); !st.NextRun.Equal(want) {
		t.Errorf("NextRun = %v; want %v", st.NextRun, want)
	}
}

func TestScheduler_NoOverlap(t *testing.T) {
	mock := clock.NewMock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(mock)

	release := make(chan struct{})
	var runs atomic.Int32
	s.AddTask(&Task{
		ID:       "slow",
		Name:     "Slow",
		Enabled:  true,
		Schedule: Every(time.Second),
		Func: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	})
	s.Start()
	defer s.Stop()

	s.checkAndRunTasks(mock.Advance(time.Second))
	waitFor(t, "first run", func() bool { return runs.Load() == 1 })

	s.checkAndRunTasks(mock.Advance(time.Second))
	s.checkAndRunTasks(mock.Advance(time.Second))
	close(release)

	waitFor(t, "run to finish", func() bool {
		st, _ := s.GetTaskStatus("slow")
		return !st.Running
	})
	st, _ := s.GetTaskStatus("slow")
	if runs.Load() != 1 || st.Skipped != 2 {
		t.Errorf("runs = %d, skipped = %d; want 1 and 2", runs.Load(), st.Skipped)
	}
}

func TestScheduler_ErrorsAndPanics(t *testing.T) {
	s := newTestScheduler(nil)
	s.AddTask(&Task{
		ID: "fails", Name: "Fails", Schedule: futureSchedule{},
		Func: func(ctx context.Context) error { return errors.New("boom") },
	})
	s.AddTask(&Task{
		ID: "panics", Name: "Panics", Schedule: futureSchedule{},
		Func: func(ctx context.Context) error { panic("oops") },
	})
	s.Start()
	defer s.Stop()

	s.RunTask("fails")
	s.RunTask("panics")

	for _, id := range []string{"fails", "panics"} {
		waitFor(t, id, func() bool {
			st, _ := s.GetTaskStatus(id)
			return st.ErrorCount == 1 && st.LastError != ""
		})
	}
}

func TestScheduler_StopCancelsTasks(t *testing.T) {
	s := newTestScheduler(nil)

	started := make(chan struct{})
	s.AddTask(&Task{
		ID: "blocking", Name: "Blocking", Schedule: futureSchedule{},
		Func: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	s.Start()
	s.RunTask("blocking")
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	if s.IsRunning() {
		t.Error("Scheduler should be stopped")
	}
}
