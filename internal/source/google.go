package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/model"
)

const applicationName = "EventAnnouncer"

// maxPages bounds the follow-up requests made when filtered events leave
// fewer than MaxResults upcoming ones.
const maxPages = 5

// GoogleOptions configures a Google Calendar source.
type GoogleOptions struct {
	CalendarID string
	MaxResults int
	// Timeout bounds each Events.list call.
	Timeout time.Duration
}

// Google reads upcoming events through the Calendar API v3 Events.list
// endpoint, which already expands recurring events and orders by start.
type Google struct {
	svc  *calendar.Service
	opts GoogleOptions
}

// NewGoogle builds a Google source. clientOpts carry authentication
// (option.WithAPIKey or option.WithCredentialsFile) and, in tests, the
// endpoint override.
func NewGoogle(ctx context.Context, opts GoogleOptions, clientOpts ...option.ClientOption) (*Google, error) {
	if opts.CalendarID == "" {
		return nil, errors.New("google source: calendar ID is empty")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	clientOpts = append([]option.ClientOption{option.WithUserAgent(applicationName)}, clientOpts...)
	svc, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google source: %w", err)
	}
	return &Google{svc: svc, opts: opts}, nil
}

// Upcoming implements Source.
func (g *Google) Upcoming(ctx context.Context, now time.Time) ([]model.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	out := make([]model.CalendarEvent, 0, g.opts.MaxResults)
	pageToken := ""
	for page := 0; page < maxPages && len(out) < g.opts.MaxResults; page++ {
		call := g.svc.Events.List(g.opts.CalendarID).
			TimeMin(now.UTC().Format(time.RFC3339)).
			ShowDeleted(false).
			SingleEvents(true).
			MaxResults(int64(g.opts.MaxResults)).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%w: google events.list: %v", ErrSourceUnavailable, err)
		}

		for _, item := range resp.Items {
			if item == nil || item.Status == "cancelled" {
				continue
			}
			ev := fromGoogle(item)
			// timeMin bounds the end time, so events already running come back
			// too. They take a page slot, hence the paging above.
			if ev.HasStart() && ev.Start.Before(now) {
				continue
			}
			out = append(out, ev)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if len(out) > g.opts.MaxResults {
		out = out[:g.opts.MaxResults]
	}
	return out, nil
}

// fromGoogle converts an API record. A timed event whose dateTime cannot be
// parsed keeps a zero Start so the evaluator reports it as malformed.
func fromGoogle(item *calendar.Event) model.CalendarEvent {
	ev := model.CalendarEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.Start == nil {
		return ev
	}

	switch {
	case item.Start.DateTime != "":
		t, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			appLog.Warn("google event has unparseable start", "id", item.Id, "start", item.Start.DateTime, "err", err)
			return ev
		}
		ev.Start = t
	case item.Start.Date != "":
		ev.AllDay = true
		if t, err := time.Parse("2006-01-02", item.Start.Date); err == nil {
			ev.Start = t
		}
	}
	return ev
}
