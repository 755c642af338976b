package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"eventannouncer/internal/announcer"
	"eventannouncer/internal/config"
	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/schedule"
)

var version = "0.1.0-dev"

var configPath string

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to the YAML config file",
		Value:       "/etc/eventannouncer/config.yaml",
		EnvVar:      "ANNOUNCER_CONFIG",
		Destination: &configPath,
	},
}

func main() {
	app := cli.App{
		Name:      "EventAnnouncer",
		HelpName:  "announcer",
		Usage:     "posts calendar event reminders to a Discord webhook",
		Version:   version,
		UsageText: "announcer [--config FILE] <command>",
		Flags:     globalFlags,
		Commands: []cli.Command{
			{
				Name:   "run",
				Usage:  "run the scheduler until interrupted (default)",
				Action: run,
			},
			{
				Name:   "once",
				Usage:  "run a single tick now and exit",
				Action: once,
			},
			{
				Name:   "check-config",
				Usage:  "load and validate the config, then exit",
				Action: checkConfig,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "announcer: %s\n", err.Error())
		os.Exit(1)
	}
}

// loadConfig reads, applies the log level and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, err := appLog.ParseLevel(cfg.LogLevel); err == nil {
		appLog.SetLevel(lvl)
	} else {
		appLog.Warn("unknown log level; keeping info", "log_level", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func run(_ *cli.Context) error {
	appLog.Info("announcer starting", "version", version, "config_path", configPath)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := build(ctx, cfg, cfg.Listen != "")
	if err != nil {
		return err
	}

	runner, err := schedule.New(cfg.Schedule, tickJob(svc.announcer))
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	warnShortTolerances(cfg, runner.Interval())

	appLog.Info("effective config",
		"schedule", cfg.Schedule,
		"interval", runner.Interval(),
		"provider", cfg.Calendar.Provider,
		"window_align", cfg.WindowAlign,
		"windows", len(cfg.Windows),
		"dedupe", cfg.Dedupe.Enabled,
		"listen", cfg.Listen,
	)

	errCh := make(chan error, 1)
	if svc.server != nil {
		go func() {
			if err := svc.server.ListenAndServe(ctx); err != nil {
				appLog.Error("HTTP server failed", err)
				errCh <- err
				stop()
			}
		}()
	}

	if err := runner.Run(ctx); err != nil {
		return err
	}

	appLog.Info("announcer exiting")
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func once(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	svc, err := build(ctx, cfg, false)
	if err != nil {
		return err
	}

	interval, err := schedule.Interval(cfg.Schedule, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	tickCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	r := svc.announcer.Tick(tickCtx, time.Now().UTC())
	if r.Err != nil {
		return cli.NewExitError("tick aborted: "+r.Err.Error(), 2)
	}
	if r.Failed > 0 {
		return cli.NewExitError(fmt.Sprintf("%d of %d notifications failed", r.Failed, r.Due), 3)
	}
	return nil
}

func checkConfig(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	interval, err := schedule.Interval(cfg.Schedule, time.Now().UTC())
	if err != nil {
		return err
	}
	warnShortTolerances(cfg, interval)
	fmt.Printf("config %s OK (provider=%s, windows=%d, interval=%s)\n",
		configPath, cfg.Calendar.Provider, len(cfg.Windows), interval)
	return nil
}

// tickJob adapts the coordinator to the scheduler; the report reaches the
// ops server through the report hook.
func tickJob(a *announcer.Announcer) schedule.Job {
	return func(ctx context.Context, now time.Time) {
		a.Tick(ctx, now)
	}
}

// warnShortTolerances flags windows that a tick can step over.
func warnShortTolerances(cfg *config.Config, interval time.Duration) {
	for _, w := range cfg.Windows {
		if w.Tolerance < interval {
			appLog.Warn("window tolerance is shorter than the schedule interval; reminders may be missed",
				"window", w.Name, "tolerance", w.Tolerance, "interval", interval)
		}
	}
}
