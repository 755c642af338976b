// Package source provides the upcoming-events adapters the announcer reads
// from. Every adapter honours the same contract: at most K events whose
// start is not before now, cancelled entries dropped, recurring events
// expanded to instances, ascending by start.
package source

import (
	"context"
	"errors"
	"sort"
	"time"

	"eventannouncer/internal/model"
)

// ErrSourceUnavailable wraps every upstream failure. A tick that sees it
// processes nothing.
var ErrSourceUnavailable = errors.New("event source unavailable")

// Source returns upcoming events as of now.
type Source interface {
	Upcoming(ctx context.Context, now time.Time) ([]model.CalendarEvent, error)
}

// upcoming applies the shared contract to an unfiltered instance list.
func upcoming(events []model.CalendarEvent, now time.Time, limit int) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.AllDay {
			// Keep today's all-day entries; the date itself is the start.
			if ev.Start.AddDate(0, 0, 1).After(now) {
				out = append(out, ev)
			}
			continue
		}
		if !ev.Start.Before(now) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
