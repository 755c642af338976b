package message

import (
	"strings"
	"time"

	"eventannouncer/internal/model"
)

// TimeLayout is the clock format used for event start times. Times are
// always rendered in UTC so every reader sees the same value.
const TimeLayout = "15:04"

// Format renders the announcement for ev, where label is the lead-time
// phrase of the window ("soon", "in 30 minutes"). Optional description and
// location lines are omitted when empty.
func Format(ev model.CalendarEvent, label string) model.NotificationMessage {
	var b strings.Builder

	b.WriteString("The next clan event will begin **")
	b.WriteString(label)
	b.WriteString("**. The event is:\n\n")

	b.WriteString("**")
	b.WriteString(ev.Start.In(time.UTC).Format(TimeLayout))
	b.WriteString(" - ")
	b.WriteString(ev.Summary)
	b.WriteString("**\n")
	if d := strings.TrimSpace(ev.Description); d != "" {
		b.WriteString("*")
		b.WriteString(d)
		b.WriteString("*\n")
	}
	b.WriteString("\n")

	if loc := strings.TrimSpace(ev.Location); loc != "" {
		b.WriteString("We'll be meeting up at: *")
		b.WriteString(loc)
		b.WriteString("*\n\n")
	}

	b.WriteString("See you there!")
	return model.NotificationMessage(b.String())
}
