package engine

import (
	"context"
	"time"
)

// Scheduler periods. Each reconciliation concern runs on its own ticker so
// a slow concern cannot starve the others.
const (
	credentialsPeriod = 5 * time.Second
	namesPeriod       = 10 * time.Second
	deletesPeriod     = 5 * time.Second
	enablesPeriod     = 10 * time.Second
	settingsPeriod    = 30 * time.Second
	timeSyncPeriod    = 60 * time.Second
	doorPumpPeriod    = 2 * time.Second
	queuePumpPeriod   = 5 * time.Second
	logSweepPeriod    = 60 * time.Second
	bulkCheckPeriod   = 30 * time.Second
	trackerPeriod     = 30 * time.Second
)

// job is one periodic reconciliation concern.
type job struct {
	name  string
	every time.Duration
	run   func(ctx context.Context)
}

// Start launches the reconciliation schedulers. They stop when ctx is
// cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	jobs := []job{
		{"credentials", credentialsPeriod, e.tickCredentials},
		{"names", namesPeriod, e.tickNames},
		{"deletes", deletesPeriod, e.tickDeletes},
		{"enables", enablesPeriod, e.tickEnables},
		{"settings", settingsPeriod, e.tickSettings},
		{"timesync", timeSyncPeriod, e.tickTimeSync},
		{"doors", doorPumpPeriod, e.tickDoors},
		{"queues", queuePumpPeriod, e.tickQueues},
		{"logsweep", logSweepPeriod, e.sweepOpenLogs},
		{"bulk", bulkCheckPeriod, e.tickBulk},
		{"trackers", trackerPeriod, e.tickTrackers},
	}

	for _, j := range jobs {
		e.wg.Add(1)
		go e.runJob(ctx, j)
	}
	e.log.Info("reconciliation schedulers started", "jobs", len(jobs))
}

// Stop halts the schedulers and the deferred send queue, blocking until
// all running ticks finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.stagger.Stop()
	e.log.Info("reconciliation schedulers stopped")
}

func (e *Engine) runJob(ctx context.Context, j job) {
	defer e.wg.Done()

	ticker := time.NewTicker(j.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.guard(j.name, func() { j.run(ctx) })
		}
	}
}

// tickTrackers abandons batch trackers whose terminal stopped responding.
func (e *Engine) tickTrackers(ctx context.Context) {
	for _, serial := range e.trackers.ExpireOlderThan(e.cfg.TrackerTimeout) {
		e.log.Warn("bulk push tracker timed out", "serial", serial)
	}
}
