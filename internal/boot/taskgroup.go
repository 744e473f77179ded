package boot

import (
	"context"
	"sync"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// taskGroup runs a fixed set of named long-lived goroutines (the per-group
// sweepers) and waits for all of them to return on stop.
type taskGroup struct {
	log    ops.Logger
	fns    []namedTask
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type namedTask struct {
	name string
	run  func(ctx context.Context) error
}

func newTaskGroup(log ops.Logger) *taskGroup {
	return &taskGroup{log: log}
}

// spawn registers a task to be started by start. Calling spawn after start
// has no effect on already-running tasks.
func (g *taskGroup) spawn(name string, run func(ctx context.Context) error) {
	g.fns = append(g.fns, namedTask{name: name, run: run})
}

// start launches every registered task on its own goroutine, derived from
// ctx so stop can cancel them all at once.
func (g *taskGroup) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	for _, t := range g.fns {
		t := t
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			if err := t.run(runCtx); err != nil && err != context.Canceled {
				if g.log != nil {
					g.log.WithFields(map[string]interface{}{"task": t.name, "err": err}).
						Warn("boot: background task exited with error")
				}
			}
		}()
	}
}

// stop cancels every running task and waits for them to return.
func (g *taskGroup) stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}
