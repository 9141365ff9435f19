package probe

import (
	"context"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// RunWithProgress drives the orchestrator to completion while rendering a
// progress bar over w, one step per task transitioning out of Pending. This
// mirrors the concurrent worker pool's progressbar/v3 usage for package
// downloads, adapted here to a cooperative single-threaded poll loop instead
// of goroutine fan-out.
func RunWithProgress(ctx context.Context, o *Orchestrator, budget time.Duration, w io.Writer) int {
	total := len(o.tasks)
	if total == 0 {
		return 0
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("probing devices"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	deadline := time.Now().Add(budget)
	lastPending := o.Pending()

	for {
		if ctx.Err() != nil {
			return o.Pending()
		}

		remaining := o.Tick(ctx)
		if remaining < lastPending {
			_ = bar.Add(lastPending - remaining)
			lastPending = remaining
		}

		if remaining == 0 {
			_ = bar.Finish()
			return 0
		}
		if time.Now().After(deadline) {
			return remaining
		}
	}
}
