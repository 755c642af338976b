// Package announcer runs one reminder tick: fetch upcoming events, find the
// reminder windows that are open, and post one message per open pair.
package announcer

import (
	"context"
	"time"

	"github.com/google/uuid"

	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/message"
	"eventannouncer/internal/metrics"
	"eventannouncer/internal/model"
	"eventannouncer/internal/source"
	"eventannouncer/internal/window"
)

const defaultDispatchMargin = time.Second

// Notifier delivers a rendered message to the channel.
type Notifier interface {
	Dispatch(ctx context.Context, msg model.NotificationMessage) (int, error)
	// Destination identifies the target in logs; it must not leak secrets.
	Destination() string
}

// Report summarizes one tick.
type Report struct {
	RunID      string        `json:"run_id"`
	Now        time.Time     `json:"now"`
	Duration   time.Duration `json:"duration"`
	Fetched    int           `json:"fetched"`
	Malformed  int           `json:"malformed"`
	Due        int           `json:"due"`
	Delivered  int           `json:"delivered"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Suppressed int           `json:"suppressed"`
	Error      string        `json:"error,omitempty"`

	// Err is the source failure that aborted the tick, if any.
	Err error `json:"-"`
}

// Announcer is the run coordinator. It holds no per-tick state; the only
// mutable collaborator is the optional sent-set, which guards itself.
type Announcer struct {
	source   source.Source
	eval     *window.Evaluator
	notifier Notifier

	metrics *metrics.Metrics
	sent    *SentSet
	margin  time.Duration
	onTick  func(Report)
}

// Option customizes an Announcer.
type Option func(*Announcer)

// WithMetrics records tick and dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Announcer) { a.metrics = m }
}

// WithSentSet enables suppression of pairs already delivered.
func WithSentSet(s *SentSet) Option {
	return func(a *Announcer) { a.sent = s }
}

// WithDispatchMargin sets how much time must remain before the context
// deadline for another dispatch to be started.
func WithDispatchMargin(d time.Duration) Option {
	return func(a *Announcer) { a.margin = d }
}

// WithReportHook calls fn with every finished Report.
func WithReportHook(fn func(Report)) Option {
	return func(a *Announcer) { a.onTick = fn }
}

// New wires an Announcer.
func New(src source.Source, eval *window.Evaluator, n Notifier, opts ...Option) *Announcer {
	a := &Announcer{
		source:   src,
		eval:     eval,
		notifier: n,
		margin:   defaultDispatchMargin,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tick runs one invocation at now. Only a source failure aborts it; every
// other failure is contained to its event or dispatch and logged.
func (a *Announcer) Tick(ctx context.Context, now time.Time) (r Report) {
	began := time.Now()
	r = Report{RunID: uuid.NewString(), Now: now}
	defer func() {
		r.Duration = time.Since(began)
		outcome := metrics.TickOK
		if r.Err != nil {
			outcome = metrics.TickUnavailable
			r.Error = r.Err.Error()
		}
		a.metrics.ObserveTick(outcome, began)
		appLog.Info("tick finished",
			"run", r.RunID,
			"fetched", r.Fetched,
			"due", r.Due,
			"delivered", r.Delivered,
			"failed", r.Failed,
			"skipped", r.Skipped,
			"suppressed", r.Suppressed,
			"duration", r.Duration,
		)
		if a.onTick != nil {
			a.onTick(r)
		}
	}()

	events, err := a.source.Upcoming(ctx, now)
	if err != nil {
		appLog.Error("event fetch failed; skipping tick", err, "run", r.RunID)
		r.Err = err
		return r
	}
	r.Fetched = len(events)
	a.metrics.SetEventsFetched(len(events))
	appLog.Info("events fetched", "run", r.RunID, "count", len(events))

	due := a.eval.Evaluate(events, now, func(ev model.CalendarEvent, err error) {
		r.Malformed++
		a.metrics.IncMalformed()
		appLog.Warn("skipping malformed event", "run", r.RunID, "event", ev.ID, "summary", ev.Summary, "err", err)
	})
	r.Due = len(due)

	if a.sent != nil {
		if n := a.sent.Prune(now); n > 0 {
			appLog.Debug("sent-set pruned", "run", r.RunID, "removed", n)
		}
	}

	for i, d := range due {
		if a.sent != nil && a.sent.Seen(d.Event, d.Window) {
			r.Suppressed++
			appLog.Info("already announced; not sending again", "run", r.RunID, "event", d.Event.ID, "window", d.Window.Name)
			continue
		}
		if reason := a.stopReason(ctx); reason != "" {
			a.skipRest(&r, due[i:], reason)
			break
		}
		a.dispatch(ctx, &r, d, now)
	}
	return r
}

func (a *Announcer) dispatch(ctx context.Context, r *Report, d window.Due, now time.Time) {
	msg := message.Format(d.Event, d.Window.Name)

	start := time.Now()
	status, err := a.notifier.Dispatch(ctx, msg)
	if err != nil {
		r.Failed++
		a.metrics.ObserveDispatch(d.Window.Name, metrics.DispatchFailed, start)
		appLog.Error("dispatch failed", err,
			"run", r.RunID,
			"event", d.Event.ID,
			"window", d.Window.Name,
			"destination", a.notifier.Destination(),
			"status", status,
		)
		return
	}

	r.Delivered++
	a.metrics.ObserveDispatch(d.Window.Name, metrics.DispatchDelivered, start)
	if a.sent != nil {
		a.sent.Mark(d.Event, d.Window, now)
	}
	appLog.Info("dispatch delivered",
		"run", r.RunID,
		"event", d.Event.ID,
		"window", d.Window.Name,
		"destination", a.notifier.Destination(),
		"status", status,
	)
}

// stopReason returns why no further dispatch should start, or "".
func (a *Announcer) stopReason(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return err.Error()
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < a.margin {
		return "deadline near"
	}
	return ""
}

// skipRest logs every remaining pair; a still-open window is picked up by
// the next tick.
func (a *Announcer) skipRest(r *Report, rest []window.Due, reason string) {
	for _, d := range rest {
		if a.sent != nil && a.sent.Seen(d.Event, d.Window) {
			r.Suppressed++
			continue
		}
		r.Skipped++
		a.metrics.ObserveDispatch(d.Window.Name, metrics.DispatchSkipped, time.Time{})
		appLog.Warn("dispatch skipped",
			"run", r.RunID,
			"event", d.Event.ID,
			"window", d.Window.Name,
			"destination", a.notifier.Destination(),
			"reason", reason,
		)
	}
}
