package scheduler

import (
	"context"
	"time"
)

// Task IDs used by the daemon.
const (
	TaskFlowSweep    = "flow-sweep"
	TaskArchivePrune = "archive-prune"
)

// NewSweepTask evicts idle flows every interval.
func NewSweepTask(interval time.Duration, sweep func(ctx context.Context) error) *Task {
	return &Task{
		ID:          TaskFlowSweep,
		Name:        "Flow Sweep",
		Description: "Evict flow records idle longer than the maximum age",
		Schedule:    Every(interval),
		Enabled:     true,
		Timeout:     interval,
		Func:        sweep,
	}
}

// NewArchivePruneTask deletes archived flows on schedule.
func NewArchivePruneTask(schedule Schedule, prune func(ctx context.Context) error) *Task {
	return &Task{
		ID:          TaskArchivePrune,
		Name:        "Archive Prune",
		Description: "Delete archived flows past the retention period",
		Schedule:    schedule,
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     time.Minute,
		Func:        prune,
	}
}
