package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"epdash/internal/appstate"
	"epdash/internal/calendar"
	"epdash/internal/config"
	appLog "epdash/internal/log"
	"epdash/internal/refresh"
	"epdash/internal/render"
	"epdash/internal/scheduler"
	"epdash/internal/user"
	"epdash/internal/weather"
	"epdash/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("epdash starting", "version", "0.1.0")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	// An invalid user registry is fatal: a dashboard server with no valid
	// users has no useful role.
	registry, err := user.Load(conf.Users)
	if err != nil {
		appLog.Error("failed to load user registry", err, "users_path", conf.Users)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"users", registry.Len(),
		"refresh", conf.Refresh,
		"startup_refresh", *conf.StartupRefresh,
		"render_page", conf.Render.PageURL,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Construct shared state once and inject it; nothing here is a global.
	state := appstate.New()
	calendars := calendar.New(calendar.Config{
		Timeout: time.Duration(conf.Fetch.CalendarTimeoutSec) * time.Second,
	})
	weatherSrc := weather.New(weather.Config{
		Timeout: time.Duration(conf.Fetch.WeatherTimeoutSec) * time.Second,
	})
	renderer := render.NewChromiumRenderer(conf.Render)
	cache := render.NewCache(renderer, state, registry)
	coord := refresh.New(registry, calendars, weatherSrc, state, cache, refresh.Config{
		Parallelism: conf.Fetch.Parallelism,
	})
	cache.SetRefreshFunc(coord.RefreshUser)

	if flags.once {
		// Single-shot cycle for cron-style deployments and smoke tests.
		coord.RefreshAll(ctx)
		appLog.Info("single refresh cycle done, exiting")
		return
	}

	if *conf.StartupRefresh {
		appLog.Info("performing startup refresh before serving")
		coord.RefreshAll(ctx)
	}

	sched, err := scheduler.New(ctx, conf.Refresh, coord.RefreshAll)
	if err != nil {
		appLog.Error("failed to set up scheduler", err, "spec", conf.Refresh)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	server := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, registry, cache, coord).Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Error("HTTP server shutdown failed", err)
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}

	appLog.Info("epdash exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epdash/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh cycle and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
