package job

import (
	"context"
	"log/slog"
	"time"
)

// DefaultMonitorInterval is the pause between monitoring passes.
const DefaultMonitorInterval = 5 * time.Second

// Notifier is told once when a monitoring run drains.
type Notifier interface {
	Notify(ctx context.Context, completed, errored []*Job) error
}

// Monitor polls a set of in-flight jobs until none remain in the live queue.
// Jobs that leave the queue are collected as completed; jobs that enter an
// error state are collected as errored and, when KillErrored is set, killed
// with one batched delete command after the queue drains. Errored jobs (such
// as SGE "Eqw") are stuck and never leave on their own.
type Monitor struct {
	// Interval between polling passes; DefaultMonitorInterval when zero.
	Interval time.Duration
	// KillErrored controls whether errored jobs are deleted after draining.
	// Leaving it on is recommended, otherwise they sit in the queue forever.
	KillErrored bool

	killer   Killer
	notifier Notifier
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. killer may be nil when KillErrored is off.
func NewMonitor(killer Killer, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		Interval:    DefaultMonitorInterval,
		KillErrored: true,
		killer:      killer,
		logger:      logger,
	}
}

// WithNotifier attaches a Notifier invoked once after the queue drains.
func (m *Monitor) WithNotifier(n Notifier) *Monitor {
	m.notifier = n
	return m
}

// Run polls every job until the set is fully drained, then returns the
// completed and errored jobs. Run takes ownership of jobs; the caller must
// not touch the slice again. A nil or empty input fails fast with ErrNoJobs
// rather than looping forever.
//
// Each pass walks the remaining jobs in input order and classifies each one
// from its own fresh queue query; jobs are never classified from a shared
// queue snapshot, so concurrent external state changes between per-job
// queries are possible and accepted. Cancelling ctx aborts the loop and
// returns the buckets collected so far along with ctx.Err().
func (m *Monitor) Run(ctx context.Context, jobs []*Job) (completed, errored []*Job, err error) {
	if len(jobs) == 0 {
		m.logger.Error("no jobs to monitor")
		return nil, nil, ErrNoJobs
	}

	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}

	m.logger.Info("monitoring jobs for completion", "count", len(jobs), "interval", interval)

	remaining := jobs
	for len(remaining) > 0 {
		next := remaining[:0]
		for _, j := range remaining {
			snap := j.Refresh(ctx)
			switch {
			case !snap.Present:
				m.logger.Debug("job left the queue", "jobid", j.ID, "name", j.Name)
				completed = append(completed, j)
			case snap.Errored:
				m.logger.Warn("job is in error state", "jobid", j.ID, "name", j.Name, "status", snap.Status)
				errored = append(errored, j)
			default:
				next = append(next, j)
			}
		}
		remaining = next
		if len(remaining) == 0 {
			break
		}

		// heartbeat so unattended runs stay visible
		m.logger.Info("jobs remaining in the monitoring queue", "count", len(remaining))

		select {
		case <-ctx.Done():
			m.logger.Warn("monitoring cancelled", "remaining", len(remaining), "err", ctx.Err())
			return completed, errored, ctx.Err()
		case <-time.After(interval):
		}
	}

	m.logger.Info("no jobs remaining in the monitoring queue",
		"completed", len(completed), "errored", len(errored))

	if len(errored) > 0 {
		ids := make([]string, 0, len(errored))
		for _, j := range errored {
			ids = append(ids, j.ID)
		}
		m.logger.Error("jobs were left in error state", "count", len(errored), "jobids", ids)
		if m.KillErrored {
			if m.killer == nil {
				m.logger.Error("kill requested but no kill client configured", "jobids", ids)
			} else if kerr := m.killer.Kill(ctx, ids); kerr != nil {
				m.logger.Error("unable to kill errored jobs", "jobids", ids, "err", kerr)
			}
		}
	}

	if m.notifier != nil {
		if nerr := m.notifier.Notify(ctx, completed, errored); nerr != nil {
			m.logger.Error("unable to send monitoring notification", "err", nerr)
		}
	}

	return completed, errored, nil
}
