package scheduler

import (
	"context"
	"time"

	"epipanel/internal/history"
)

// NextRun returns the first instant strictly after from that falls on the
// given weekday at hour:minute, in from's location.
func NextRun(from time.Time, weekday time.Weekday, hour, minute int) time.Time {
	next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
	days := (int(weekday) - int(from.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// NextScheduledRun returns the instant the weekly loop will fire next, or
// the zero time when the loop is not running.
func (o *Orchestrator) NextScheduledRun() time.Time {
	o.schedMu.Lock()
	defer o.schedMu.Unlock()
	return o.nextRun
}

func (o *Orchestrator) setNextRun(t time.Time) {
	o.schedMu.Lock()
	o.nextRun = t
	o.schedMu.Unlock()
}

// Start launches the weekly refresh loop in a background goroutine. The
// loop runs until ctx is cancelled; each firing triggers one full run and
// then waits for the next weekly slot.
func (o *Orchestrator) Start(ctx context.Context) {
	next := NextRun(o.now(), o.cfg.Weekday, o.cfg.Hour, o.cfg.Minute)
	o.setNextRun(next)
	o.logger.Info("refresh schedule armed",
		"weekday", o.cfg.Weekday.String(),
		"at", formatClock(o.cfg.Hour, o.cfg.Minute),
		"next_run", next,
	)

	go func() {
		timer := time.NewTimer(next.Sub(o.now()))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				o.setNextRun(time.Time{})
				o.logger.Info("refresh schedule stopped")
				return
			case <-timer.C:
				o.RunOnce(ctx, history.TriggerScheduled)
				next = NextRun(o.now(), o.cfg.Weekday, o.cfg.Hour, o.cfg.Minute)
				o.setNextRun(next)
				o.logger.Info("next refresh scheduled", "next_run", next)
				timer.Reset(next.Sub(o.now()))
			}
		}
	}()
}

func formatClock(hour, minute int) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04")
}
