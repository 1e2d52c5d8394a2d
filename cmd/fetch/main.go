package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/italolelis/fetch/internal/config"
	"github.com/italolelis/fetch/internal/fetcher"
	"github.com/italolelis/fetch/internal/logctx"
	"github.com/italolelis/fetch/internal/notifier"
	"github.com/italolelis/fetch/internal/storage"
	"github.com/italolelis/fetch/internal/storage/sqlite"
	"github.com/italolelis/fetch/internal/telemetry"
	"github.com/italolelis/fetch/internal/transfer"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

const shutdownTimeout = 5 * time.Second

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}

		fmt.Fprintln(stderr, "fetch:", err)

		return ExitFailure
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logctx.WithLogger(ctx, logger)

	if cfg.HistoryRunID != "" {
		if err := listHistory(ctx, cfg, stdout); err != nil {
			logger.ErrorContext(ctx, "failed to list history", "run_id", cfg.HistoryRunID, "err", err)

			return ExitFailure
		}

		return ExitSuccess
	}

	logger.DebugContext(ctx, "fetch starting", "version", version, "log_level", cfg.LogLevel)

	if err := runFetch(ctx, cfg); err != nil {
		logger.ErrorContext(ctx, "fetch failed", "err", err)

		return ExitFailure
	}

	return ExitSuccess
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.JSONLogs() {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(logctx.NewTraceHandler(h))
}

func runFetch(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start History
	var history storage.AttemptRepository

	if cfg.HistoryDB != "" {
		database, err := sqlite.InitDB(cfg.HistoryDB)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer database.Close()

		history = sqlite.NewInstrumentedAttemptRepository(database, tel)
	}

	// =========================================================================
	// Start Transport
	client := transfer.NewHTTPClient(transfer.Options{
		Timeout:     cfg.Timeout,
		UserAgent:   cfg.UserAgent,
		BearerToken: cfg.BearerToken,
		Instrument:  tel.Enabled(),
	})
	defer client.Close()

	var transport transfer.Transport = client
	if tel.Enabled() {
		transport = transfer.NewInstrumentedTransport(client, tel)
	}

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier = notifier.Nop{}
	if cfg.NotifyWebhookURL != "" {
		notif = notifier.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}

	f := fetcher.NewFetcher(transport, history, tel, cfg.RetryDelay)
	req := fetcher.Request{
		URL:         cfg.URL,
		Destination: cfg.DestinationFile,
		MaxAttempts: cfg.Attempts,
	}

	if !tel.Enabled() || cfg.Telemetry.MetricsAddr == "" {
		return fetchAndNotify(ctx, f, req, notif)
	}

	// =========================================================================
	// Serve metrics for as long as the fetch runs
	g, gctx := errgroup.WithContext(ctx)
	server := telemetry.NewMetricsServer(gctx, cfg.Telemetry.MetricsAddr, tel)
	fetchDone := make(chan struct{})

	g.Go(func() error {
		defer close(fetchDone)

		return fetchAndNotify(gctx, f, req, notif)
	})

	g.Go(func() error {
		logger.InfoContext(ctx, "serving metrics", "addr", cfg.Telemetry.MetricsAddr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		select {
		case <-fetchDone:
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the metrics server", "err", err)

			return server.Close()
		}

		return nil
	})

	return g.Wait()
}

// fetchAndNotify runs the fetch and reports its final outcome through notif.
func fetchAndNotify(ctx context.Context, f *fetcher.Fetcher, req fetcher.Request, notif notifier.Notifier) error {
	res, err := f.Fetch(ctx, req)

	msg := fmt.Sprintf("✅ Fetched %s to %s in %d attempt(s)", req.URL, req.Destination, res.Attempts)
	if err != nil {
		msg = fmt.Sprintf("❌ Fetch of %s failed after %d attempt(s): %v", req.URL, res.Attempts, err)
	}

	if notifyErr := notif.Notify(context.WithoutCancel(ctx), msg); notifyErr != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification", "run_id", res.RunID, "err", notifyErr)
	}

	return err
}
