// Package probe implements the asynchronous device-probe orchestrator: a
// cooperative, single-threaded scheduler that polls a set of Task state
// machines to completion without relying on a native OS thread per device,
// mirroring the original loader's async-without-a-runtime design.
package probe

import (
	"context"
	"time"

	"github.com/lionxlover/lblcore/internal/hallog"
	"github.com/lionxlover/lblcore/internal/halinfo"
)

// Status is the result of a single Poll call.
type Status int

const (
	Pending Status = iota
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Task is a single cooperative unit of probing work. Poll must return
// quickly; long-running work is expected to be broken into many Poll calls
// rather than blocking.
type Task interface {
	// Name identifies the task for logging and progress reporting.
	Name() string
	// Poll advances the task's state machine. deadline bounds how long this
	// call may run before yielding back to the orchestrator.
	Poll(ctx context.Context, deadline time.Time) Status
	// Err returns the failure reason once Poll has returned Failed.
	Err() error
}

// taskState tracks a single task's lifetime within the orchestrator.
type taskState struct {
	task     Task
	status   Status
	deviceID halinfo.DeviceID
}

// Orchestrator round-robins a fixed set of tasks to completion, one Tick at
// a time, recording readiness into the HAL's device inventory as tasks
// finish.
type Orchestrator struct {
	hal     *halinfo.Services
	tasks   []*taskState
	perPoll time.Duration
}

// New creates an Orchestrator bound to hal's device inventory. perPoll
// sets the deadline handed to each task's Poll call within a tick; a Poll
// that overruns it is not interrupted.
func New(hal *halinfo.Services, perPoll time.Duration) *Orchestrator {
	if perPoll <= 0 {
		perPoll = 5 * time.Millisecond
	}
	return &Orchestrator{hal: hal, perPoll: perPoll}
}

// Register adds a task for the given device, previously registered in the
// HAL's inventory via Services.Devices().Register.
func (o *Orchestrator) Register(id halinfo.DeviceID, t Task) {
	o.tasks = append(o.tasks, &taskState{task: t, deviceID: id, status: Pending})
}

// Pending reports how many tasks have not yet reached a terminal state.
func (o *Orchestrator) Pending() int {
	n := 0
	for _, ts := range o.tasks {
		if ts.status == Pending {
			n++
		}
	}
	return n
}

// Tick polls every still-pending task once and returns the number of tasks
// remaining pending after the tick.
func (o *Orchestrator) Tick(ctx context.Context) int {
	log := hallog.Logger()

	for _, ts := range o.tasks {
		if ts.status != Pending {
			continue
		}

		deadline := time.Now().Add(o.perPoll)
		status := ts.task.Poll(ctx, deadline)
		ts.status = status

		switch status {
		case Done:
			o.hal.Devices().MarkReady(ts.deviceID, map[string]string{})
			log.Debugf("probe %q completed", ts.task.Name())
		case Failed:
			log.Warnf("probe %q failed: %v", ts.task.Name(), ts.task.Err())
		}
	}

	return o.Pending()
}

// Run drives Tick until every task reaches a terminal state, the context is
// cancelled, or the overall budget expires. It returns the number of tasks
// still pending when it stopped (0 on full completion).
func (o *Orchestrator) Run(ctx context.Context, budget time.Duration) int {
	deadline := time.Now().Add(budget)
	log := hallog.Logger()

	for {
		if ctx.Err() != nil {
			log.Warnf("probe run cancelled: %v", ctx.Err())
			return o.Pending()
		}
		remaining := o.Tick(ctx)
		if remaining == 0 {
			return 0
		}
		if time.Now().After(deadline) {
			log.Warnf("probe run budget exhausted with %d tasks still pending", remaining)
			return remaining
		}
	}
}

// Results returns a snapshot of every task's terminal status, keyed by task
// name, useful for CLI reporting once Run has returned.
func (o *Orchestrator) Results() map[string]Status {
	out := make(map[string]Status, len(o.tasks))
	for _, ts := range o.tasks {
		out[ts.task.Name()] = ts.status
	}
	return out
}
