package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/delivery"
	"forwarding-audit-go/internal/handler"
	"forwarding-audit-go/internal/importer"
	"forwarding-audit-go/internal/jobs"
	"forwarding-audit-go/internal/metrics"
	"forwarding-audit-go/internal/report"
	"forwarding-audit-go/internal/router"
	"forwarding-audit-go/internal/scheduler"
	"forwarding-audit-go/internal/service"
	"forwarding-audit-go/internal/storage"
)

// App is the assembled audit service.
type App struct {
	cfg       *config.Config
	backend   *storage.Backend
	pool      *jobs.Pool
	scheduler *scheduler.Scheduler
	router    http.Handler
}

// ConfigureLogging applies the log level and format from cfg.
func ConfigureLogging(cfg config.LogConfig) error {
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := logrus.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	logrus.SetLevel(level)
	return nil
}

// New wires every component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, fs afero.Fs, reg *prometheus.Registry) (*App, error) {
	backend, err := storage.Open(cfg, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	m := metrics.NewMetrics(reg)

	renderer, err := report.NewRenderer(cfg.Reports.Format)
	if err != nil {
		backend.Close()
		return nil, err
	}
	generator := report.NewGenerator(fs, cfg.Reports.OutputDir, renderer, backend.Rules, backend.Filters)

	pool := jobs.NewPool(jobs.Options{
		Workers:     cfg.Reports.Workers,
		QueueSize:   cfg.Reports.QueueSize,
		MaxAttempts: cfg.Reports.MaxAttempts,
		Backoff:     cfg.Reports.RetryBackoff,
	})

	var deliverer service.Deliverer
	if cfg.Delivery.Enabled {
		sender, err := delivery.NewGmailSender(ctx, cfg.Delivery)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to create Gmail sender: %w", err)
		}
		deliverer = delivery.NewMailer(sender, fs, cfg.Delivery.UserEmail, cfg.Delivery.Recipients)
		logrus.Infof("Report delivery enabled for %d recipients", len(cfg.Delivery.Recipients))
	}

	reports := service.NewReportService(pool, generator, renderer.Extension(), deliverer, m)
	sched := scheduler.NewScheduler(cfg.Scheduler, reports)

	h := handler.NewHandlers(handler.Dependencies{
		BackendName: backend.Name,
		Backend:     backend,
		Rules:       backend.Rules,
		Filters:     backend.Filters,
		Importer:    importer.New(backend.Rules, backend.Filters),
		Reports:     reports,
		Queue:       pool,
		Scheduler:   sched,
		Metrics:     m,
		Gatherer:    reg,
	})

	return &App{
		cfg:       cfg,
		backend:   backend,
		pool:      pool,
		scheduler: sched,
		router:    router.SetupRouter(h),
	}, nil
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler { return a.router }

// Start launches the report workers and, when enabled, the scheduler.
func (a *App) Start(ctx context.Context) error {
	a.pool.Start(ctx)
	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Shutdown stops the scheduler, drains queued reports and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.scheduler.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	if err := a.pool.Stop(ctx); err != nil {
		logrus.Errorf("Failed to drain report queue: %v", err)
	}
	return a.backend.Close()
}

// Run initializes and starts the application
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := ConfigureLogging(cfg.Log); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logrus.Info("Starting Forwarding Audit Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := New(ctx, cfg, afero.NewOsFs(), reg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Failed to close storage: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
