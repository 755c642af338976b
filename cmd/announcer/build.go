package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"eventannouncer/internal/announcer"
	"eventannouncer/internal/config"
	"eventannouncer/internal/ics"
	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/metrics"
	"eventannouncer/internal/source"
	"eventannouncer/internal/web"
	"eventannouncer/internal/webhook"
	"eventannouncer/internal/window"
)

// services is everything a command needs after wiring.
type services struct {
	announcer *announcer.Announcer
	// server is nil unless requested.
	server *web.Server
}

func build(ctx context.Context, cfg *config.Config, withServer bool) (*services, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hc := &http.Client{}

	notifier, err := webhook.NewClient(webhook.Options{
		BaseURL:    cfg.Webhook.BaseURL,
		WebhookID:  cfg.Webhook.ID,
		Timeout:    cfg.Webhook.Timeout,
		HTTPClient: hc,
	})
	if err != nil {
		return nil, err
	}

	src, err := buildSource(ctx, cfg, hc)
	if err != nil {
		return nil, err
	}

	align, err := window.ParseAlign(cfg.WindowAlign)
	if err != nil {
		return nil, err
	}
	eval, err := window.New(cfg.ReminderWindows(), align)
	if err != nil {
		return nil, err
	}

	svc := &services{}
	opts := []announcer.Option{
		announcer.WithMetrics(m),
		announcer.WithDispatchMargin(cfg.Webhook.Timeout),
	}
	if cfg.Dedupe.Enabled {
		opts = append(opts, announcer.WithSentSet(announcer.NewSentSet(cfg.Dedupe.Retention)))
	}
	if withServer {
		svc.server = web.NewServer(cfg, reg)
		opts = append(opts, announcer.WithReportHook(svc.server.RecordTick))
	}
	svc.announcer = announcer.New(src, eval, notifier, opts...)

	appLog.Info("notifier ready", "destination", notifier.Destination())
	return svc, nil
}

func buildSource(ctx context.Context, cfg *config.Config, hc *http.Client) (source.Source, error) {
	switch cfg.Calendar.Provider {
	case config.ProviderGoogle:
		var auth option.ClientOption
		if cfg.Calendar.CredentialsFile != "" {
			auth = option.WithCredentialsFile(cfg.Calendar.CredentialsFile)
		} else {
			auth = option.WithAPIKey(cfg.Calendar.APIKey)
		}
		return source.NewGoogle(ctx, source.GoogleOptions{
			CalendarID: cfg.Calendar.ID,
			MaxResults: cfg.Calendar.MaxResults,
			Timeout:    cfg.Calendar.Timeout,
		}, auth, option.WithScopes(calendar.CalendarReadonlyScope))
	case config.ProviderICS:
		return source.NewICS(ics.NewFetcher(hc), source.ICSOptions{
			URL:        cfg.Calendar.ICSURL,
			MaxResults: cfg.Calendar.MaxResults,
			Horizon:    cfg.Calendar.Horizon,
			Timeout:    cfg.Calendar.Timeout,
		})
	default:
		return nil, fmt.Errorf("calendar provider %q not supported", cfg.Calendar.Provider)
	}
}
