package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "eventannouncer/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT before
// recurrence expansion.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	// Cancelled is set for STATUS:CANCELLED.
	Cancelled bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides only
}

// IsOverride reports whether the VEVENT replaces one recurring instance.
func (p ParsedEvent) IsOverride() bool {
	return p.Recurrence != nil
}

// Parse parses an ICS payload. VEVENTs that cannot be parsed are logged and
// skipped; only an unreadable calendar is an error.
func Parse(body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "err", perr)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	// DTEND is optional; fall back to a zero-length (or one-day) event.
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propLocation(p)
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, propLocation(p)); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// isDateValue reports whether a DTSTART carries a date without a time.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propLocation resolves the TZID parameter of p, defaulting to UTC.
func propLocation(p *ical.IANAProperty) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return time.UTC
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
