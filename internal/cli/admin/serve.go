package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/kbbot/internal/api/handlers"
	"github.com/cloo-solutions/kbbot/internal/api/middleware"
	"github.com/cloo-solutions/kbbot/internal/database"
	"github.com/cloo-solutions/kbbot/internal/jobs"
	"github.com/cloo-solutions/kbbot/internal/server"
	"github.com/cloo-solutions/kbbot/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the daily summary scheduler",
		Long:  "Start the kbbot API server on the specified port. The summary scheduler runs in the same process.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBBOT_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().Bool("no-scheduler", false, "Do not run the daily summary scheduler in this process")
	cmd.Flags().String("migrations", defaultMigrationsDir, "Directory holding migration files")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer log.Sync()

	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, log)
	if err != nil {
		log.Warn("telemetry init failed, continuing without tracing", "error", err)
	} else {
		defer shutdownTelemetry()
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		dir, _ := cmd.Flags().GetString("migrations")
		if _, err := database.RunMigrations(cfg.DatabaseURL, dir, log); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Initialize(ctx); err != nil {
		return err
	}

	var worker *jobs.Worker
	if noScheduler, _ := cmd.Flags().GetBool("no-scheduler"); !noScheduler {
		worker = jobs.NewWorker(a.scheduler, cfg.SchedulerPoll, cfg.SummaryRunTimeout, log)
		go worker.Start(ctx)
		log.Info("summary scheduler started", "time", cfg.SummaryTime, "timezone", cfg.Timezone)
	}

	tokens := middleware.StaticTokens{}
	for name, token := range cfg.APITokens {
		tokens[token] = name
	}
	if len(tokens) == 0 {
		log.Warn("no API tokens configured, every authenticated route will answer 401")
	}

	router := server.NewRouter(server.RouterConfig{
		TokenValidator:      tokens,
		Logger:              log,
		AskHandler:          handlers.NewAskHandler(a.answers),
		SummaryHandler:      handlers.NewSummaryHandler(a.summaries, a.reviews, a.scheduler),
		KnowledgeHandler:    handlers.NewKnowledgeHandler(a.store),
		ConversationHandler: handlers.NewConversationHandler(a.history),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	if worker != nil {
		worker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

// runUntilSignal is a helper for one-shot commands that should stop on Ctrl-C
func runUntilSignal(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}
