package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/ledgersync/internal/auth"
	"github.com/mmynk/ledgersync/internal/middleware"
	"github.com/mmynk/ledgersync/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local API and run scheduled syncs",
		Long: `Serve the ledger API over Connect (JSON) with /metrics and /healthz, and
run a sync cycle on the configured cron schedule when a remote is set.

Example:
  ledgerd serve --config ./ledgerd.yaml
  LEDGER_JWT_SECRET=dev ledgerd serve --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger
	if cfg.Auth.JWTSecret == "" {
		return errNoJWTSecret
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Error("Error closing storage", "error", closeErr)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newHandler(a, auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	var scheduler *cron.Cron
	if a.engine != nil && cfg.Sync.Schedule != "" {
		if scheduler, err = newScheduler(ctx, a); err != nil {
			return err
		}
	}

	g.Go(func() error {
		logger.Info("Connect server starting", "address", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if scheduler != nil {
		scheduler.Start()
		g.Go(func() error {
			<-ctx.Done()
			// Wait for an in-flight cycle; its context is already cancelled.
			<-scheduler.Stop().Done()
			return nil
		})
	}

	return g.Wait()
}

// newHandler builds the HTTP surface: the authenticated ledger API,
// Prometheus metrics and a health probe.
func newHandler(a *app, jwtManager *auth.JWTManager) http.Handler {
	mux := http.NewServeMux()

	var syncer service.Syncer
	if a.engine != nil {
		syncer = a.engine
	}
	path, handler := service.NewLedgerServiceHandler(
		service.NewLedgerService(a.ledger, syncer, a.logger),
		connect.WithInterceptors(
			middleware.RequireAuth(jwtManager),
			middleware.LoggingInterceptor(a.logger),
		),
	)
	mux.Handle(path, handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// h2c serves HTTP/2 without TLS for Connect clients.
	return h2c.NewHandler(loggingMiddleware(a.logger, corsMiddleware(mux)), &http2.Server{})
}

// newScheduler runs a sync cycle for the configured user on every tick.
// Overlapping ticks are skipped.
func newScheduler(ctx context.Context, a *app) (*cron.Cron, error) {
	logger := cronLogger{a.logger.With("component", "scheduler")}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger)))

	_, err := c.AddFunc(a.cfg.Sync.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		report, err := a.engine.Sync(ctx, a.cfg.UserID)
		if err != nil {
			logger.l.Warn("Scheduled sync pending", "error", err)
			return
		}
		logger.l.Info("Scheduled sync completed",
			"pushed", report.Push.Sent,
			"conflicts", report.Push.Conflicts,
			"pulled", report.Pull.Applied,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule sync %q: %w", a.cfg.Sync.Schedule, err)
	}
	return c, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
