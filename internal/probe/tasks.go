package probe

import (
	"context"
	"fmt"
	"time"
)

// StepTask is a simple Task that reaches Done after a fixed number of Poll
// calls, used for devices whose probe sequence is a short, bounded
// handshake (e.g. a block device's capacity/ready-bit query) rather than an
// open-ended wait.
type StepTask struct {
	name     string
	steps    int
	done     int
	fail     bool
	failStep int
	err      error
}

// NewStepTask returns a task that completes after steps calls to Poll.
func NewStepTask(name string, steps int) *StepTask {
	if steps <= 0 {
		steps = 1
	}
	return &StepTask{name: name, steps: steps}
}

// FailAt makes the task fail on the given step (1-indexed) instead of
// completing, used to exercise probe-failure handling in tests.
func (t *StepTask) FailAt(step int, err error) *StepTask {
	t.fail = true
	t.failStep = step
	t.err = err
	return t
}

func (t *StepTask) Name() string { return t.name }

func (t *StepTask) Poll(ctx context.Context, deadline time.Time) Status {
	if ctx.Err() != nil {
		return Failed
	}
	t.done++
	if t.fail && t.done == t.failStep {
		return Failed
	}
	if t.done >= t.steps {
		return Done
	}
	return Pending
}

func (t *StepTask) Err() error {
	if t.err != nil {
		return t.err
	}
	if t.fail {
		return fmt.Errorf("probe %q: step %d failed", t.name, t.failStep)
	}
	return nil
}
