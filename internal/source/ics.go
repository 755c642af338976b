package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventannouncer/internal/ics"
	"eventannouncer/internal/model"
)

// ICSOptions configures an ICS feed source.
type ICSOptions struct {
	URL        string
	MaxResults int
	// Horizon is how far ahead recurring events are expanded. It must
	// cover the largest reminder lead.
	Horizon time.Duration
	Timeout time.Duration
}

// ICS reads upcoming events from an iCalendar feed.
type ICS struct {
	fetcher *ics.Fetcher
	opts    ICSOptions
}

// NewICS builds an ICS source around fetcher.
func NewICS(fetcher *ics.Fetcher, opts ICSOptions) (*ICS, error) {
	if fetcher == nil {
		return nil, errors.New("ics source: fetcher is nil")
	}
	if opts.URL == "" {
		return nil, errors.New("ics source: feed URL is empty")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 48 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &ICS{fetcher: fetcher, opts: opts}, nil
}

// Upcoming implements Source.
func (s *ICS) Upcoming(ctx context.Context, now time.Time) ([]model.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	body, err := s.fetcher.Fetch(ctx, s.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	parsed, err := ics.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %v", ErrSourceUnavailable, err)
	}

	instances, err := ics.Expand(parsed, ics.ExpandConfig{
		RangeStart: now,
		RangeEnd:   now.Add(s.opts.Horizon),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: expand feed: %v", ErrSourceUnavailable, err)
	}
	return upcoming(instances, now, s.opts.MaxResults), nil
}
