package model

import "time"

// CalendarEvent is one upcoming event instance as returned by an event
// source. Recurring events arrive already expanded, one value per instance.
type CalendarEvent struct {
	ID string // upstream event / instance identifier

	Summary     string
	Description string // empty when absent
	Location    string // empty when absent

	// AllDay is set when the upstream record only carries a date. Start
	// then holds midnight of that date and is only useful for ordering.
	AllDay bool
	Start  time.Time
}

// HasStart reports whether the event has a concrete start instant that
// lead-time arithmetic can be applied to.
func (e CalendarEvent) HasStart() bool {
	return !e.AllDay && !e.Start.IsZero()
}

// ReminderWindow is a named lead time plus the tolerance span during which
// the reminder is considered due.
type ReminderWindow struct {
	// Name doubles as the human-readable label in the headline ("soon").
	Name      string
	Lead      time.Duration
	Tolerance time.Duration
}

// Trigger returns the ideal reminder instant for an event starting at start.
func (w ReminderWindow) Trigger(start time.Time) time.Time {
	return start.Add(-w.Lead)
}

// NotificationMessage is the rendered text sent to the webhook.
type NotificationMessage string

func (m NotificationMessage) String() string {
	return string(m)
}
