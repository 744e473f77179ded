package timer

import (
	"context"
	"time"

	"github.com/driverqueue/dispatcher/internal/ops"
)

// Reclaimer is the subset of slot.Controller the sweeper drives: reclaim an
// expired slot, then activate the next waiter if the group is now idle.
type Reclaimer interface {
	RequeueExpiredActive(ctx context.Context) (bool, error)
	TryActivateIfIdle(ctx context.Context) error
}

// RunSweeper ticks every SweepInterval, reclaiming expired slots for group
// as a backstop for missed in-process timers (e.g. after a restart, since
// the timer token and slot metadata both survive in the KV store). It runs
// until ctx is cancelled.
func RunSweeper(ctx context.Context, log ops.Logger, group string, reclaimer Reclaimer) error {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			expired, err := reclaimer.RequeueExpiredActive(ctx)
			if err != nil {
				log.WithFields(map[string]interface{}{"group": group, "err": err}).
					Warn("sweeper: reclaim failed")
				continue
			}
			if !expired {
				if err := reclaimer.TryActivateIfIdle(ctx); err != nil {
					log.WithFields(map[string]interface{}{"group": group, "err": err}).
						Warn("sweeper: activate-if-idle failed")
				}
			}
		}
	}
}
