// Package schedule triggers the announcer on a cron cadence. Ticks never
// overlap: a tick that is still running when the next one is due causes
// that next one to be skipped.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	appLog "eventannouncer/internal/log"
)

// Job is one scheduled invocation. ctx expires when the next tick is due.
type Job func(ctx context.Context, now time.Time)

// Interval estimates the cadence of spec from two consecutive activations
// after from.
func Interval(spec string, from time.Time) (time.Duration, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, err
	}
	first := sched.Next(from)
	second := sched.Next(first)
	if first.IsZero() || second.IsZero() {
		return 0, errors.New("schedule never fires")
	}
	return second.Sub(first), nil
}

// Runner owns the cron instance.
type Runner struct {
	cron     *cron.Cron
	spec     string
	interval time.Duration
	job      Job
}

// New validates spec and prepares a Runner. Schedules are evaluated in UTC.
func New(spec string, job Job) (*Runner, error) {
	if job == nil {
		return nil, errors.New("schedule: job is nil")
	}
	interval, err := Interval(spec, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Runner{cron: c, spec: spec, interval: interval, job: job}, nil
}

// Interval returns the estimated tick cadence.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running tick to finish.
func (r *Runner) Run(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.spec, func() {
		tickCtx, cancel := context.WithTimeout(ctx, r.interval)
		defer cancel()
		r.job(tickCtx, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	appLog.Info("scheduler started", "schedule", r.spec, "interval", r.interval)
	r.cron.Start()

	<-ctx.Done()
	appLog.Info("scheduler stopping; waiting for running tick")
	<-r.cron.Stop().Done()
	return nil
}

// cronLogger adapts cron's logr-style logger to internal/log. cron's own
// chatter goes to debug, except for skipped ticks.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		appLog.Warn("tick skipped; previous tick still running", keysAndValues...)
		return
	}
	appLog.Debug("cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron "+msg, err, keysAndValues...)
}
