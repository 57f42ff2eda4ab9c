package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"orchestra/internal/cli"
	"orchestra/internal/config"
	"orchestra/internal/event"
	"orchestra/internal/logging"
	"orchestra/internal/metrics"
	orchestraotel "orchestra/internal/otel"
	"orchestra/internal/persistence"
	"orchestra/internal/server"
	"orchestra/internal/version"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	shutdownTimeout = 10 * time.Second
)

type runDeps struct {
	Stdout    io.Writer
	Stderr    io.Writer
	LookupEnv func(string) (string, bool)
	Signals   <-chan os.Signal
	// ForceExit runs when a second signal arrives during shutdown.
	ForceExit func()
	// Ready is called once the server is listening.
	Ready func(*server.Server)
}

// run starts the bus and blocks until ctx ends or a shutdown signal arrives.
func run(parent context.Context, args []string, deps runDeps) int {
	if deps.Stdout == nil {
		deps.Stdout = io.Discard
	}
	if deps.Stderr == nil {
		deps.Stderr = io.Discard
	}
	if deps.LookupEnv == nil {
		deps.LookupEnv = os.LookupEnv
	}

	options, err := parseFlags(args, deps.LookupEnv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printHelp(deps.Stdout)
			return exitOK
		}
		fmt.Fprintf(deps.Stderr, "orchestra: %v\n", err)
		printHelp(deps.Stderr)
		return exitUsage
	}
	if options.Help {
		printHelp(deps.Stdout)
		return exitOK
	}
	if options.Version {
		cli.PrintVersion(deps.Stdout)
		return exitOK
	}

	loadOptions := config.LoadOptions{
		Path:      options.ConfigPath,
		LookupEnv: deps.LookupEnv,
		Overrides: options.Overrides,
	}
	settings, err := config.Load(loadOptions)
	if err != nil {
		fmt.Fprintf(deps.Stderr, "orchestra: load config: %v\n", err)
		return exitUsage
	}

	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), settings.Log.Level, deps.Stderr)
	logger.Debug("config resolved", settings.SourceFields())
	if settings.Path != "" {
		logger.Info("config file loaded", map[string]string{"path": settings.Path})
	}
	if len(settings.Unknown) > 0 {
		logger.Warn("config file has unknown keys", map[string]string{
			"path": settings.Path,
			"keys": strings.Join(settings.Unknown, ","),
		})
	}
	if settings.Server.AuthToken != "" {
		logger.Info("connection auth enabled", map[string]string{
			"token": cli.MaskToken(settings.Server.AuthToken),
		})
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stopSignals := watchShutdownSignals(logger, cancel, deps.ForceExit, deps.Signals)
	defer stopSignals()

	coordinator := newShutdownCoordinator(logger)
	shutdown := func() int {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := coordinator.Run(shutdownCtx); err != nil {
			return exitFailure
		}
		return exitOK
	}

	telemetryShutdown, err := orchestraotel.SetupSDK(ctx, orchestraotel.SDKOptions{
		Enabled:            settings.Telemetry.Enabled,
		HTTPEndpoint:       settings.Telemetry.Endpoint,
		ServiceName:        settings.Telemetry.ServiceName,
		ServiceVersion:     version.Version,
		ResourceAttributes: orchestraotel.ParseResourceAttributes(settings.Telemetry.ResourceAttributes),
	})
	if err != nil {
		logger.Warn("telemetry disabled", map[string]string{"error": err.Error()})
		telemetryShutdown = nil
	}

	collector := metrics.NewPrometheusCollector(nil)
	store := persistence.Open(ctx, persistence.Config{
		Path:       settings.Persistence.Path,
		MaxEntries: settings.Persistence.MaxEntries,
	}, logger)

	bus := event.NewBus[event.Event](context.Background(), event.BusOptions{
		Name:    "server_events",
		Metrics: collector,
		Logger:  logger,
	})
	events, unsubscribe := bus.SubscribeTypes(
		event.TypeLogicalIDReassigned,
		event.TypeClientEvicted,
	)
	go logServerEvents(logger, events)

	srv := server.New(server.Options{
		Host:              settings.Server.Host,
		Port:              settings.Server.Port,
		MaxPortAttempts:   settings.Server.MaxPortAttempts,
		MaxFrameBytes:     settings.Server.MaxFrameBytes,
		AuthToken:         settings.Server.AuthToken,
		AllowedOrigins:    settings.Server.AllowedOrigins,
		RateLimit:         settings.Server.RateLimit,
		RateBurst:         settings.Server.RateBurst,
		MetricsInterval:   settings.Server.MetricsInterval,
		HeartbeatInterval: settings.Heartbeat.Interval,
		HeartbeatTimeout:  settings.Heartbeat.Timeout,
		ReplayLimit:       settings.Replay.Limit,
		ReplayWindow:      settings.Replay.Window,
		Store:             store,
		Metrics:           collector,
		MetricsHandler:    collector.Handler(),
		Events:            bus,
		Logger:            logger,
	})

	if settings.Path != "" {
		watcher, err := config.Watch(ctx, loadOptions, logger, config.ApplyLogLevel(logger))
		if err != nil {
			logger.Warn("config watch disabled", map[string]string{"error": err.Error()})
		} else {
			coordinator.Add("config watcher", func(context.Context) error { return watcher.Close() })
		}
	}
	// The server drains before the bus and store it writes to are closed.
	coordinator.Add("server", srv.Stop)
	coordinator.Add("event bus", func(context.Context) error {
		unsubscribe()
		bus.Close()
		return nil
	})
	coordinator.Add("message store", func(context.Context) error { return store.Close() })
	coordinator.Add("telemetry", telemetryShutdown)

	if err := srv.Start(ctx); err != nil {
		logger.Error("orchestra failed to start", map[string]string{"error": err.Error()})
		shutdown()
		return exitFailure
	}
	logger.Info("orchestra ready", map[string]string{
		"version": version.Version,
		"port":    strconv.Itoa(srv.Port()),
	})
	if deps.Ready != nil {
		deps.Ready(srv)
	}

	<-ctx.Done()
	return shutdown()
}

func logServerEvents(logger *logging.Logger, events <-chan event.Event) {
	for evt := range events {
		switch typed := evt.(type) {
		case event.ReassignmentEvent:
			logger.Info("logical id reassigned", map[string]string{
				"logical_id": typed.LogicalID,
				"previous":   typed.PreviousClientID,
				"client_id":  typed.NewClientID,
			})
		case event.ConnectionEvent:
			logger.Warn("client evicted", map[string]string{
				"client_id": typed.ClientID,
				"identity":  typed.Identity,
			})
		}
	}
}
