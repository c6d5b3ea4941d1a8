package dispatch

import (
	"context"
	"time"

	"github.com/cronflow/cronflow/internal/models"
	"github.com/cronflow/cronflow/internal/runner"
	"golang.org/x/sync/errgroup"
)

// failureClass drives the retry backoff: connectivity failures are given
// more room to recover than script-level failures.
type failureClass int

const (
	classConnect failureClass = iota
	classScript
)

// defaultStagger spreads target starts out to avoid connection storms.
func defaultStagger(index int) time.Duration {
	return 750*time.Millisecond + time.Duration(index)*250*time.Millisecond
}

func defaultBackoff(class failureClass, attempt int) time.Duration {
	if class == classConnect {
		return time.Duration(attempt) * 5 * time.Second
	}
	return time.Duration(attempt) * time.Second
}

// fanOut runs every target concurrently with staggered starts and waits
// for all of them.
func fanOut(ctx context.Context, event *models.Event, req *runner.Request, c *Coordinator) []*runner.Result {
	results := make([]*runner.Result, len(event.Targets))

	var g errgroup.Group
	for i := range event.Targets {
		i := i
		g.Go(func() error {
			c.sleep(ctx, c.stagger(i))
			results[i] = c.runTarget(ctx, event, &event.Targets[i], req)
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if res == nil {
			results[i] = &runner.Result{Err: "target did not run"}
		}
	}
	return results
}
