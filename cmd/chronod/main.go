package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/neofinancial/chrono/config"
	"github.com/neofinancial/chrono/internal/chrono"
	"github.com/neofinancial/chrono/internal/cronbridge"
	"github.com/neofinancial/chrono/internal/health"
	ctxlog "github.com/neofinancial/chrono/internal/log"
	"github.com/neofinancial/chrono/internal/memstore"
	"github.com/neofinancial/chrono/internal/metrics"
	"github.com/neofinancial/chrono/internal/notify"
	httptransport "github.com/neofinancial/chrono/internal/transport/http"
	"github.com/neofinancial/chrono/internal/transport/http/handler"
	"github.com/neofinancial/chrono/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := memstore.New()

	c := chrono.New(backend, nil, logger)
	metrics.Attach(c.Events)

	bridge := cronbridge.New(c, nil, logger)

	// "webhook" is scheduled ad hoc via the admin API and never recurs on
	// its own. "digest" is the same HTTP-firing handler wired instead to
	// the cron bridge, so it rearms its own next occurrence on completion.
	const digestKind = "digest"

	webhookExecutor := webhook.NewExecutor(logger)
	defaultProcessorConfig := chrono.ProcessorConfig{
		ClaimIntervalMs:      cfg.ClaimIntervalMs,
		IdleIntervalMs:       cfg.IdleIntervalMs,
		TaskHandlerTimeoutMs: cfg.TaskHandlerTimeoutMs,
		ClaimStaleTimeoutMs:  cfg.ClaimStaleTimeoutMs,
		MaxRetries:           cfg.MaxRetries,
	}

	webhookProc, err := c.RegisterTaskHandler(chrono.HandlerRegistration{
		Kind:            webhook.Kind,
		Handler:         webhookExecutor.Handler(),
		ProcessorConfig: defaultProcessorConfig,
	})
	if err != nil {
		log.Fatalf("register webhook handler: %v", err)
	}
	processors := []*chrono.SimpleProcessor{webhookProc}

	if cfg.CronDigestExpr != "" {
		digestProc, err := c.RegisterTaskHandler(chrono.HandlerRegistration{
			Kind:            digestKind,
			Handler:         bridge.WithRearmOnCompletion(webhookExecutor.Handler()),
			ProcessorConfig: defaultProcessorConfig,
		})
		if err != nil {
			log.Fatalf("register digest handler: %v", err)
		}
		processors = append(processors, digestProc)
	}

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.New(sender, cfg.NotifyRecipient, logger)
	// Task lifecycle events are emitted by each kind's processor, not by the
	// orchestrator, so metrics and the notifier subscribe per processor.
	for _, p := range processors {
		metrics.Attach(p.Events)
		notifier.Attach(p.Events)
	}

	if cfg.CronDigestExpr != "" {
		digestSchedule, err := cronbridge.NewSchedule(digestKind, cfg.CronDigestExpr, []byte(`{}`), 0)
		if err != nil {
			log.Fatalf("cron digest schedule: %v", err)
		}
		if err := bridge.Register(ctx, digestSchedule); err != nil {
			log.Fatalf("register cron digest schedule: %v", err)
		}
	}

	if err := c.Start(ctx); err != nil {
		log.Fatalf("start chrono: %v", err)
	}

	stats := chrono.NewStatisticsCollector(backend, chrono.StatisticsCollectorConfig{
		StatCollectionIntervalMs: cfg.StatCollectionIntervalMs,
	}, nil, logger)
	if stats != nil {
		metrics.Attach(stats.Events)
		stats.Start(ctx, []string{webhook.Kind, digestKind})
	}

	metrics.Register()
	checker := health.NewChecker(map[string]health.Pinger{
		"backend": backend,
		"chrono":  c,
	}, logger, prometheus.DefaultRegisterer)

	taskHandler := handler.NewTaskHandler(c, logger)
	statisticsHandler := handler.NewStatisticsHandler(backend, logger)
	healthHandler := handler.NewHealthHandler(checker)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taskHandler, statisticsHandler, healthHandler, []byte(cfg.JWTSecret)),
	}
	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("admin server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	if stats != nil {
		stats.Stop()
	}
	c.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("chronod shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
