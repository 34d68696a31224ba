package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/config"
	"github.com/t77yq/schoolrun/internal/events"
	"github.com/t77yq/schoolrun/internal/execution"
	"github.com/t77yq/schoolrun/internal/model"
	"github.com/t77yq/schoolrun/internal/monitor"
	"github.com/t77yq/schoolrun/internal/registry"
	"github.com/t77yq/schoolrun/internal/reminder"
	"github.com/t77yq/schoolrun/internal/session"
	"github.com/t77yq/schoolrun/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("app", cfg.App.Name))

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	var (
		js        nats.JetStreamContext
		publisher events.Publisher = events.NopPublisher{}
	)
	if cfg.NATS.Enabled {
		nc := connectNATS(cfg, logger)
		defer nc.Drain()

		js, err = nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		jsPublisher, err := events.NewJetStreamPublisher(ctx, js, logger)
		if err != nil {
			logger.Fatal("Failed to create event publisher", zap.Error(err))
		}
		publisher = jsPublisher
	} else {
		logger.Warn("NATS disabled, lifecycle events are dropped")
	}

	journal, err := storage.NewSQLiteJournal(logger, cfg.Journal.Path)
	if err != nil {
		logger.Fatal("Failed to create execution journal", zap.Error(err))
	}
	defer journal.Close()

	runs := registry.New(logger)
	sess := session.New(
		session.Config{ConfirmDelay: cfg.Session.ConfirmDelay},
		runs,
		func() *execution.Controller { return execution.NewController(logger) },
		logger,
		session.WithPublisher(publisher),
		session.WithJournal(journal),
	)

	if cfg.Seed {
		for _, child := range session.DemoChildren() {
			logger.Debug("Demo child profile", zap.String("child_id", child.ID), zap.String("name", child.Name))
		}
		for _, draft := range session.DemoRuns(time.Now()) {
			if _, err := sess.CreateRun(ctx, draft); err != nil {
				logger.Error("Failed to seed run", zap.String("name", draft.Name), zap.Error(err))
			}
		}
	}

	if cfg.Reminder.Enabled {
		reminders, err := reminder.NewScheduler(reminder.Config{
			Spec: cfg.Reminder.Spec,
			Lead: cfg.Reminder.Lead,
		}, runs, publisher, nil, logger)
		if err != nil {
			logger.Fatal("Failed to create reminder scheduler", zap.Error(err))
		}
		if err := reminders.Start(ctx); err != nil {
			logger.Fatal("Failed to start reminder scheduler", zap.Error(err))
		}
		defer reminders.Stop()
	}

	if cfg.Metrics.Enabled && js != nil {
		collector := monitor.NewMetricsCollector(js, runs, cfg.Metrics.Interval, logger)
		if err := collector.Start(ctx); err != nil {
			logger.Fatal("Failed to start metrics collector", zap.Error(err))
		}
		defer collector.Stop()

		if cfg.Alerts.Enabled {
			alerts := monitor.NewAlertManager(js, collector, cfg.Alerts.Interval, nil, logger)
			for _, rule := range []*model.AlertRule{
				{Name: "Run overrunning", Type: model.AlertTypeOverrun, Threshold: cfg.Alerts.OverrunThreshold, Severity: model.AlertSeverityWarning},
				{Name: "Run paused too long", Type: model.AlertTypeStalled, Threshold: cfg.Alerts.StallThreshold, Severity: model.AlertSeverityInfo},
			} {
				if err := alerts.AddRule(rule); err != nil {
					logger.Fatal("Failed to add alert rule", zap.String("name", rule.Name), zap.Error(err))
				}
			}
			if err := alerts.Start(ctx); err != nil {
				logger.Fatal("Failed to start alert manager", zap.Error(err))
			}
			defer alerts.Stop()
		}
	}

	counts := runs.Counts()
	logger.Info("School run engine started",
		zap.Int("runs", counts.Total),
		zap.Int("upcoming", counts.Upcoming),
		zap.Int("past", counts.Past))

	// Report upcoming runs and prune the journal
	go func() {
		statusTicker := time.NewTicker(time.Minute)
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer statusTicker.Stop()
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-statusTicker.C:
				for _, run := range runs.Upcoming() {
					logger.Info("Upcoming run",
						zap.String("run_id", run.ID),
						zap.String("name", run.Name),
						zap.Time("scheduled_at", run.ScheduledAt()),
						zap.Duration("estimated", run.EstimatedDuration()))
				}
				snapshot := sess.Snapshot()
				if snapshot.RunID != "" {
					logger.Info("Current execution",
						zap.String("run_id", snapshot.RunID),
						zap.String("state", snapshot.State.String()),
						zap.Float64("progress", snapshot.Progress()))
				}
			case <-cleanupTicker.C:
				cutoff := time.Now().Add(-cfg.Journal.Retention)
				if err := journal.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to prune execution journal", zap.Error(err))
				}
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	if snapshot := sess.Snapshot(); snapshot.State == model.ExecutionActive || snapshot.State == model.ExecutionPaused {
		logger.Warn("Shutting down with a run in progress",
			zap.String("run_id", snapshot.RunID),
			zap.Int("stops_completed", snapshot.CompletedCount()))
	}

	logger.Info("Server shutting down gracefully")
}

// connectNATS connects with retry and exits the process when every attempt
// fails
func connectNATS(cfg *config.Config, logger *zap.Logger) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(10 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	retries := cfg.NATS.ConnectRetries
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc
}
