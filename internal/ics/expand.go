package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// RangeStart / RangeEnd bound the occurrences returned (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into concrete event instances intersecting
// the configured range. It handles single events, RRULE recurrence, EXDATE,
// RECURRENCE-ID overrides and STATUS:CANCELLED on both base events and
// overrides. The result is unordered.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("ics: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	bases := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	var order []string
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, ok := bases[ev.UID]; !ok {
			order = append(order, ev.UID)
		}
		bases[ev.UID] = append(bases[ev.UID], ev)
	}

	out := make([]model.CalendarEvent, 0)
	for _, uid := range order {
		for _, ev := range bases[uid] {
			if ev.Cancelled {
				continue
			}
			if ev.RawRRule == "" {
				out = append(out, expandSingle(ev, overrides[uid], cfg)...)
				continue
			}
			occ, hitCap := expandRecurring(ev, overrides[uid], cfg)
			if hitCap {
				appLog.Warn("ics expand truncated occurrences", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.CalendarEvent {
	if o, ok := findOverride(overrides, ev.Start); ok {
		if o.Cancelled {
			return nil
		}
		ev = o
	}
	if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.CalendarEvent{instance(ev, ev.Start)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.CalendarEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event's duration so instances already in
	// progress at RangeStart are still seen by the overlap check.
	dur := ev.End.Sub(ev.Start)
	lo := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	hi := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(lo, hi, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.CalendarEvent, 0, len(starts))
	for _, s := range starts {
		occ := ev
		occ.Start = s
		occ.End = s.Add(dur)

		if o, ok := findOverride(overrides, s); ok {
			if o.Cancelled {
				continue
			}
			occ = o
		}
		if !overlaps(occ.Start, occ.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		// Instance identity stays tied to the original slot even when an
		// override moves it.
		out = append(out, instance(occ, s))
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals slot.
func findOverride(overrides []ParsedEvent, slot time.Time) (ParsedEvent, bool) {
	for _, o := range overrides {
		if o.Recurrence != nil && o.Recurrence.Equal(slot) {
			return o, true
		}
	}
	return ParsedEvent{}, false
}

func instance(ev ParsedEvent, slot time.Time) model.CalendarEvent {
	return model.CalendarEvent{
		ID:          ev.UID + "@" + slot.UTC().Format(time.RFC3339),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       ev.Start,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	return !bEnd.Before(aStart)
}
