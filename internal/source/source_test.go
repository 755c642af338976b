package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"

	"eventannouncer/internal/ics"
	"eventannouncer/internal/model"
)

const eventsJSON = `{
  "kind": "calendar#events",
  "items": [
    {"id": "allday", "status": "confirmed", "summary": "Holiday", "start": {"date": "2024-01-01"}},
    {"id": "running", "status": "confirmed", "summary": "Already started", "start": {"dateTime": "2024-01-01T19:00:00Z"}},
    {"id": "raid", "status": "confirmed", "summary": "Raid Night", "description": "Bring potions", "start": {"dateTime": "2024-01-01T20:00:00Z"}},
    {"id": "gone", "status": "cancelled", "summary": "Called off", "start": {"dateTime": "2024-01-01T20:30:00Z"}},
    {"id": "broken", "status": "confirmed", "summary": "Broken", "start": {"dateTime": "not-a-time"}},
    {"id": "later", "status": "confirmed", "summary": "Later", "location": "Guild Hall", "start": {"dateTime": "2024-01-01T22:00:00+01:00"}}
  ]
}`

func TestGoogleUpcoming(t *testing.T) {
	now := time.Date(2024, 1, 1, 19, 59, 30, 0, time.UTC)

	var gotQuery map[string]string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k, v := range r.URL.Query() {
			gotQuery[k] = v[0]
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, eventsJSON)
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(),
		GoogleOptions{CalendarID: "clan@group.calendar.google.com", MaxResults: 5, Timeout: time.Second},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}

	events, err := g.Upcoming(context.Background(), now)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}

	if !strings.Contains(gotPath, "clan@group.calendar.google.com") || !strings.HasSuffix(gotPath, "/events") {
		t.Errorf("path = %q", gotPath)
	}
	wantQuery := map[string]string{
		"timeMin":      "2024-01-01T19:59:30Z",
		"showDeleted":  "false",
		"singleEvents": "true",
		"maxResults":   "5",
		"orderBy":      "startTime",
	}
	for k, v := range wantQuery {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}

	var ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if got := strings.Join(ids, ","); got != "allday,raid,broken,later" {
		t.Fatalf("ids = %s", got)
	}

	if !events[0].AllDay {
		t.Error("date-only event should be all-day")
	}
	if events[1].Description != "Bring potions" || !events[1].Start.Equal(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)) {
		t.Errorf("raid = %+v", events[1])
	}
	if events[2].HasStart() {
		t.Error("unparseable start should leave the event without a start")
	}
	if events[3].Location != "Guild Hall" || !events[3].Start.Equal(time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("later = %+v", events[3])
	}
}

func TestGoogleUpcomingPagesPastRunningEvents(t *testing.T) {
	now := time.Date(2024, 1, 1, 19, 30, 0, 0, time.UTC)
	pages := map[string]string{
		"": `{"nextPageToken": "p2", "items": [
			{"id": "running-1", "status": "confirmed", "start": {"dateTime": "2024-01-01T18:00:00Z"}},
			{"id": "running-2", "status": "confirmed", "start": {"dateTime": "2024-01-01T19:00:00Z"}},
			{"id": "a", "status": "confirmed", "start": {"dateTime": "2024-01-01T20:00:00Z"}}
		]}`,
		"p2": `{"nextPageToken": "p3", "items": [
			{"id": "b", "status": "confirmed", "start": {"dateTime": "2024-01-01T21:00:00Z"}},
			{"id": "c", "status": "confirmed", "start": {"dateTime": "2024-01-01T22:00:00Z"}},
			{"id": "d", "status": "confirmed", "start": {"dateTime": "2024-01-01T23:00:00Z"}}
		]}`,
	}

	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("pageToken")
		requests = append(requests, token)
		body, ok := pages[token]
		if !ok {
			t.Errorf("unexpected page %q", token)
			body = `{"items": []}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(),
		GoogleOptions{CalendarID: "clan", MaxResults: 3, Timeout: time.Second},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}

	events, err := g.Upcoming(context.Background(), now)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}

	var ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	if got := strings.Join(ids, ","); got != "a,b,c" {
		t.Errorf("ids = %s, want a,b,c", got)
	}
	if got := strings.Join(requests, ","); got != ",p2" {
		t.Errorf("page tokens requested = %q, want \",p2\"", got)
	}
}

func TestGoogleUpcomingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 503, "message": "backend"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, err := NewGoogle(context.Background(),
		GoogleOptions{CalendarID: "c", Timeout: time.Second},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewGoogle: %v", err)
	}

	if _, err := g.Upcoming(context.Background(), time.Now()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:b\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240101T210000Z\r\nDTEND:20240101T220000Z\r\nSUMMARY:Second\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240101T200000Z\r\nDTEND:20240101T210000Z\r\nSUMMARY:First\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:past\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20240101T190000Z\r\nDTEND:20240101T210000Z\r\nSUMMARY:Past\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:daily\r\nDTSTAMP:20240101T000000Z\r\nDTSTART:20231230T230000Z\r\nDTEND:20231230T233000Z\r\nRRULE:FREQ=DAILY\r\nSUMMARY:Daily\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestICSUpcoming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, feed)
	}))
	defer srv.Close()

	s, err := NewICS(ics.NewFetcher(srv.Client()), ICSOptions{URL: srv.URL, MaxResults: 4, Horizon: 48 * time.Hour})
	if err != nil {
		t.Fatalf("NewICS: %v", err)
	}

	events, err := s.Upcoming(context.Background(), time.Date(2024, 1, 1, 19, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}

	var got []string
	for _, ev := range events {
		got = append(got, ev.Summary+"@"+ev.Start.UTC().Format("02T15:04"))
	}
	want := "First@01T20:00,Second@01T21:00,Daily@01T23:00,Daily@02T23:00"
	if strings.Join(got, ",") != want {
		t.Errorf("got %v, want %s", got, want)
	}
}

func TestICSUpcomingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewICS(ics.NewFetcher(srv.Client()), ICSOptions{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upcoming(context.Background(), time.Now()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestICSUpcomingUnavailableAfterCachedFetch(t *testing.T) {
	tests := []struct {
		name   string
		second func(w http.ResponseWriter)
	}{
		{"server error", func(w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) }},
		{"timeout", func(w http.ResponseWriter) { time.Sleep(300 * time.Millisecond) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) == 1 {
					w.Header().Set("ETag", `"v1"`)
					_, _ = io.WriteString(w, feed)
					return
				}
				tt.second(w)
			}))
			defer srv.Close()

			s, err := NewICS(ics.NewFetcher(srv.Client()), ICSOptions{URL: srv.URL, Timeout: 100 * time.Millisecond})
			if err != nil {
				t.Fatal(err)
			}
			now := time.Date(2024, 1, 1, 19, 30, 0, 0, time.UTC)

			if _, err := s.Upcoming(context.Background(), now); err != nil {
				t.Fatalf("first Upcoming: %v", err)
			}
			events, err := s.Upcoming(context.Background(), now)
			if !errors.Is(err, ErrSourceUnavailable) {
				t.Fatalf("second Upcoming = %d events, err %v; want ErrSourceUnavailable", len(events), err)
			}
			if events != nil {
				t.Errorf("events = %v, want nil", events)
			}
		})
	}
}

func TestUpcomingOrdersAndCaps(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		{ID: "c", Start: now.Add(3 * time.Hour)},
		{ID: "past", Start: now.Add(-time.Minute)},
		{ID: "a", Start: now},
		{ID: "yesterday", AllDay: true, Start: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
		{ID: "today", AllDay: true, Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "b", Start: now.Add(time.Hour)},
	}

	got := upcoming(events, now, 3)
	var ids []string
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}
	if strings.Join(ids, ",") != "today,a,b" {
		t.Errorf("ids = %v", ids)
	}
}
