package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

const reconcileRetry = 30 * time.Second

type reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// reconcileLoop runs r on the cron schedule and whenever kick fires. An empty expr disables the
// schedule; kicks still run.
func reconcileLoop(ctx context.Context, log *slog.Logger, expr string, r reconciler, kick <-chan struct{}, now func() time.Time) error {
	run := func(reason string) {
		n, err := r.Reconcile(ctx)
		switch {
		case err == nil:
			log.Debug("reconcile.done", "reason", reason, "reloads", n)
		case errors.Is(err, context.Canceled):
		default:
			log.Warn("reconcile.fail", "reason", reason, "err", err)
		}
	}

	for {
		var tick <-chan time.Time
		var timer *time.Timer
		scheduled := false
		if expr != "" {
			wait := reconcileRetry
			next, err := gronx.NextTickAfter(expr, now().UTC(), false)
			if err != nil {
				log.Error("reconcile.nexttick_failed", "cron", expr, "err", err)
			} else {
				wait = max(next.Sub(now()), time.Second)
				scheduled = true
			}
			timer = time.NewTimer(wait)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-kick:
			if timer != nil {
				timer.Stop()
			}
			run("reconnect")
		case <-tick:
			if scheduled {
				run("schedule")
			}
		}
	}
}
