package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	httpapi "github.com/i474232898/climate-risk-alerts/internal/api/http"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/climate/providers"
	"github.com/i474232898/climate-risk-alerts/internal/config"
	"github.com/i474232898/climate-risk-alerts/internal/dashboard"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
	"github.com/i474232898/climate-risk-alerts/internal/logging"
	"github.com/i474232898/climate-risk-alerts/internal/metrics"
	"github.com/i474232898/climate-risk-alerts/internal/notify"
	"github.com/i474232898/climate-risk-alerts/internal/pipeline"
	"github.com/i474232898/climate-risk-alerts/internal/scheduler"
	"github.com/i474232898/climate-risk-alerts/internal/store"
)

const usage = `usage: climate-risk <command>

commands:
  serve             run the scheduler and HTTP server until interrupted (default)
  run-once          run the full pipeline once; exit status reports the result
  generate-sample   write synthetic history to the combined data file
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 2
	}

	closer, err := logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		return 2
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// A second signal kills the process without waiting for running work.
	go func() {
		<-ctx.Done()
		stop()
	}()

	switch cmd {
	case "serve":
		if err := serve(ctx, cfg); err != nil {
			slog.Error("serve failed", "err", err)
			return 1
		}
		return 0
	case "run-once":
		return runOnce(ctx, cfg)
	case "generate-sample":
		if err := generateSample(cfg, args); err != nil {
			slog.Error("generate-sample failed", "err", err)
			return 1
		}
		return 0
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

// app holds the wired components shared by every command.
type app struct {
	cfg          *config.AppConfig
	readings     *store.MemoryStore
	models       *store.SQLiteModelStore
	alerts       *alert.Log
	metrics      *metrics.Metrics
	orchestrator *pipeline.Orchestrator
}

func build(cfg *config.AppConfig) (*app, error) {
	// Shared HTTP client for outbound provider and bot calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// In-memory store with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	models, err := store.NewSQLiteModelStore(cfg.ModelsPath())
	if err != nil {
		return nil, err
	}

	creds := cfg.Credentials

	// Providers with resilience (backoff + circuit breaker).
	var weather []climate.WeatherProvider
	if creds.WeatherAPIKey != "" {
		weather = append(weather, providers.NewOpenWeatherProvider(httpClient, creds.WeatherAPIKey))
	}
	if creds.WeatherAPIComKey != "" {
		weather = append(weather, providers.NewWeatherAPIProvider(httpClient, creds.WeatherAPIComKey))
	}
	// Open-Meteo needs no key but only takes coordinates; cities without
	// lat/lon are geocoded, which requires a Google API key.
	weather = append(weather, providers.NewOpenMeteoProvider(httpClient, providers.GoogleGeocoder(creds.GeocoderAPIKey)))
	aqi := providers.NewAQICNProvider(httpClient, creds.AQIAPIKey)

	evaluator, err := alert.NewEvaluator(cfg.Thresholds)
	if err != nil {
		models.Close()
		return nil, err
	}
	for _, r := range evaluator.Rules() {
		slog.Debug("alert: threshold loaded", "metric", r.Metric, "low", r.Low, "high", r.High)
	}

	m := metrics.New()

	var senders []notify.Sender
	if s := notify.NewEmailSender(notify.SMTPConfig{
		Host:     creds.SMTPHost,
		Port:     creds.SMTPPort,
		Username: creds.EmailUser,
		Password: creds.EmailPass,
	}); s != nil {
		senders = append(senders, s)
	}
	if s := notify.NewSMSSender(creds.SMSSID, creds.SMSToken, creds.SMSFrom); s != nil {
		senders = append(senders, s)
	}
	if s := notify.NewTelegramSender(creds.TelegramToken, httpClient); s != nil {
		senders = append(senders, s)
	}
	dispatcher := notify.NewDispatcher(cfg.HTTPTimeout, senders...)
	dispatcher.SetObserver(func(c notify.Channel, ok bool) { m.Notified(string(c), ok) })
	slog.Info("notify: channels enabled", "channels", dispatcher.Channels())

	check, err := pipeline.NewTrainingCheck(strings.ToLower(cfg.TrainingCheck), models, cityNames(cfg))
	if err != nil {
		models.Close()
		return nil, err
	}

	alerts := alert.NewLog()
	svc := &pipeline.Service{
		Locations: cfg.Cities,
		Paths: pipeline.Paths{
			Realtime:  cfg.RealtimePath(),
			Processed: cfg.ProcessedPath(),
			Combined:  cfg.CombinedPath(),
			AlertLog:  cfg.AlertLogPath(),
		},
		Collector:  climate.NewCollector(memStore, weather, aqi, cfg.HTTPTimeout*3),
		Latest:     memStore,
		Trainer:    forecast.NewTrainer(models, nil),
		Forecasts:  alert.NewForecastJob(models, evaluator),
		Evaluator:  evaluator,
		Log:        alerts,
		Dispatcher: dispatcher,
		Recipients: cfg.Recipients,
		Metrics:    m,
		LiveMaxAge: cfg.LiveReadingMaxAge,
	}

	return &app{
		cfg:          cfg,
		readings:     memStore,
		models:       models,
		alerts:       alerts,
		metrics:      m,
		orchestrator: pipeline.New(svc, check, m),
	}, nil
}

func runOnce(ctx context.Context, cfg *config.AppConfig) int {
	a, err := build(cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}
	defer a.models.Close()

	// An interrupt does not abort the run; stages finish on their own timeouts.
	res := a.orchestrator.RunPipeline(context.WithoutCancel(ctx))
	slog.Info("pipeline finished", "run", res.RunID.String(), "result", res.String(),
		"took", res.Finished.Sub(res.Started))
	if !res.OK() {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	a, err := build(cfg)
	if err != nil {
		return err
	}
	defer a.models.Close()

	// Seed the latest-reading store so alert checks and the API have data
	// before the first collection.
	history, err := store.ReadReadingsIfExists(cfg.CombinedPath())
	if err != nil {
		slog.Warn("failed to load reading history", "path", cfg.CombinedPath(), "err", err)
	}
	a.readings.Load(history)

	themes, err := dashboard.LoadThemes(cfg.ThemesFile)
	if err != nil {
		return err
	}
	registry := dashboard.NewRegistry(themes)
	if _, err := os.Stat(cfg.ThemesFile); err == nil {
		go func() {
			if err := dashboard.Watch(ctx, cfg.ThemesFile, registry.Set); err != nil {
				slog.Error("dashboard: theme watcher stopped", "err", err)
			}
		}()
	}

	// Scheduler that runs the pipeline jobs.
	sched := scheduler.New(cfg.Schedule, a.orchestrator)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	server := fiber.New(fiber.Config{
		AppName:               "climate-risk-alerts",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	server.Use(logger.New())
	server.Use(recover.New())

	server.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  "climate-risk-alerts",
			"pipeline": a.orchestrator.State(),
			"jobs":     sched.Jobs(),
		})
	})

	cities := cityNames(cfg)

	// API routes.
	httpapi.RegisterRoutes(server, httpapi.Deps{
		Readings:   a.readings,
		Models:     a.models,
		Alerts:     a.alerts,
		Pipeline:   a.orchestrator,
		Metrics:    a.metrics,
		Themes:     registry,
		Cities:     cities,
		RunContext: context.WithoutCancel(ctx),
	})

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			slog.Error("fiber server stopped", "err", err)
		}
	}()
	slog.Info("server listening", "port", cfg.Port)

	// Wait for termination signal
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "err", err)
	}

	slog.Info("waiting for running pipeline work to finish")
	sched.Stop()
	a.orchestrator.Wait()
	return nil
}

func generateSample(cfg *config.AppConfig, args []string) error {
	fs := flag.NewFlagSet("generate-sample", flag.ContinueOnError)
	days := fs.Int("days", 30, "days of history to generate")
	out := fs.String("out", cfg.CombinedPath(), "output CSV file")
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("days must be positive")
	}

	cities := cityNames(cfg)

	readings := climate.GenerateSample(cities, *days, time.Now().UTC(), rand.New(rand.NewSource(*seed)))
	if err := store.WriteReadings(*out, readings); err != nil {
		return err
	}
	slog.Info("sample data written", "path", *out, "records", len(readings), "cities", len(cities))
	return nil
}

func cityNames(cfg *config.AppConfig) []string {
	cities := make([]string, 0, len(cfg.Cities))
	for _, loc := range cfg.Cities {
		cities = append(cities, loc.City)
	}
	return cities
}
