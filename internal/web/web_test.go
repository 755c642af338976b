package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eventannouncer/internal/announcer"
	"eventannouncer/internal/config"
	"eventannouncer/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return NewServer(config.DefaultConfig(), reg), m
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusReportsLastTick(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name     string
		record   *announcer.Report
		wantTick bool
	}{
		{"before first tick", nil, false},
		{"after tick", &announcer.Report{RunID: "run-1", Fetched: 2, Delivered: 1, Now: time.Date(2024, 1, 1, 19, 58, 30, 0, time.UTC)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.record != nil {
				s.RecordTick(*tt.record)
			}

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}

			var resp statusResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Schedule != "* * * * *" || len(resp.Windows) != 2 || resp.Windows[0].Lead != "1m0s" {
				t.Errorf("unexpected config echo: %+v", resp)
			}
			if (resp.LastTick != nil) != tt.wantTick {
				t.Fatalf("last_tick present = %v, want %v", resp.LastTick != nil, tt.wantTick)
			}
			if tt.wantTick && (resp.LastTick.RunID != "run-1" || resp.LastTick.Delivered != 1) {
				t.Errorf("last_tick = %+v", resp.LastTick)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(t)
	m.SetEventsFetched(4)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "announcer_events_fetched 4") {
		t.Errorf("metrics body missing gauge:\n%s", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
