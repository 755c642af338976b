// Package window decides which reminder windows are open for an event at a
// given tick.
//
// A window with lead L and tolerance T has its trigger instant at
// start-L. With the default leading alignment it is open for ticks in
// [trigger-T, trigger); with trailing alignment it is open in
// (trigger, trigger+T]. Either way the span is exactly one tolerance wide,
// so a cadence equal to the tolerance lands in it exactly once.
package window

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"eventannouncer/internal/model"
)

// ErrMalformedEvent is returned for a timed event without usable start data.
var ErrMalformedEvent = errors.New("event has no usable start time")

// Align selects on which side of the trigger instant the window sits.
type Align string

const (
	AlignLeading  Align = "leading"
	AlignTrailing Align = "trailing"
)

// ParseAlign validates an alignment string from config.
func ParseAlign(s string) (Align, error) {
	switch a := Align(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AlignLeading, nil
	case AlignLeading, AlignTrailing:
		return a, nil
	default:
		return "", fmt.Errorf("window_align %q must be %q or %q", s, AlignLeading, AlignTrailing)
	}
}

// Due is one (event, window) pair that should be announced this tick.
type Due struct {
	Event  model.CalendarEvent
	Window model.ReminderWindow
}

// Evaluator holds a validated, immutable set of windows.
type Evaluator struct {
	windows []model.ReminderWindow
	align   Align
}

// New validates windows and returns an Evaluator. Windows are evaluated in
// the order given.
func New(windows []model.ReminderWindow, align Align) (*Evaluator, error) {
	if err := Validate(windows); err != nil {
		return nil, err
	}
	if align == "" {
		align = AlignLeading
	}
	if align != AlignLeading && align != AlignTrailing {
		return nil, fmt.Errorf("unknown window alignment %q", align)
	}
	ws := make([]model.ReminderWindow, len(windows))
	copy(ws, windows)
	return &Evaluator{windows: ws, align: align}, nil
}

// Windows returns a copy of the configured windows.
func (e *Evaluator) Windows() []model.ReminderWindow {
	out := make([]model.ReminderWindow, len(e.windows))
	copy(out, e.windows)
	return out
}

// Open returns the windows open for ev at now. All-day events never have an
// open window; timed events without a start yield ErrMalformedEvent.
func (e *Evaluator) Open(ev model.CalendarEvent, now time.Time) ([]model.ReminderWindow, error) {
	if ev.AllDay {
		return nil, nil
	}
	if !ev.HasStart() {
		return nil, fmt.Errorf("event %q: %w", ev.ID, ErrMalformedEvent)
	}

	var open []model.ReminderWindow
	for _, w := range e.windows {
		if e.isOpen(w, ev.Start, now) {
			open = append(open, w)
		}
	}
	return open, nil
}

func (e *Evaluator) isOpen(w model.ReminderWindow, start, now time.Time) bool {
	trigger := w.Trigger(start)
	switch e.align {
	case AlignTrailing:
		// (trigger, trigger+T]
		return now.After(trigger) && !now.After(trigger.Add(w.Tolerance))
	default:
		// [trigger-T, trigger)
		return !now.Before(trigger.Add(-w.Tolerance)) && now.Before(trigger)
	}
}

// Evaluate returns every due pair for events, in event order then window
// order. Malformed events are reported through skip and otherwise ignored.
func (e *Evaluator) Evaluate(events []model.CalendarEvent, now time.Time, skip func(model.CalendarEvent, error)) []Due {
	var due []Due
	for _, ev := range events {
		open, err := e.Open(ev, now)
		if err != nil {
			if skip != nil {
				skip(ev, err)
			}
			continue
		}
		for _, w := range open {
			due = append(due, Due{Event: ev, Window: w})
		}
	}
	return due
}

// Validate checks a window set: non-empty, unique non-empty names, positive
// tolerances, and no tolerance wider than the gap to the next larger lead
// (which would let two windows fire for the same tick).
func Validate(windows []model.ReminderWindow) error {
	if len(windows) == 0 {
		return errors.New("at least one reminder window is required")
	}

	seen := make(map[string]bool, len(windows))
	for _, w := range windows {
		if strings.TrimSpace(w.Name) == "" {
			return errors.New("reminder window name is empty")
		}
		if seen[w.Name] {
			return fmt.Errorf("reminder window %q is defined twice", w.Name)
		}
		seen[w.Name] = true
		if w.Lead < 0 {
			return fmt.Errorf("reminder window %q: lead must not be negative", w.Name)
		}
		if w.Tolerance <= 0 {
			return fmt.Errorf("reminder window %q: tolerance must be positive", w.Name)
		}
	}

	sorted := make([]model.ReminderWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lead < sorted[j].Lead })

	for i := 0; i+1 < len(sorted); i++ {
		cur, next := sorted[i], sorted[i+1]
		gap := next.Lead - cur.Lead
		if gap == 0 {
			return fmt.Errorf("reminder windows %q and %q share lead %s", cur.Name, next.Name, cur.Lead)
		}
		// Leading spans extend towards the larger lead, trailing spans towards
		// the smaller one; checking both keeps either alignment overlap-free.
		for _, w := range []model.ReminderWindow{cur, next} {
			if w.Tolerance > gap {
				return fmt.Errorf("reminder window %q: tolerance %s exceeds gap %s between %q and %q", w.Name, w.Tolerance, gap, cur.Name, next.Name)
			}
		}
	}
	return nil
}
