package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanlog/server/internal/config"
	"github.com/scanlog/server/internal/handlers"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/services"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (overrides SERVER_ADDRESS)")
	serveCmd.Flags().Bool("request-log", true, "Log every HTTP request")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live feed",
	Long: `Serve the tally over HTTP. The API lives under /api, live updates are
pushed over WebSocket at /ws, and /health answers without authentication.
The default address is loopback only; set API_KEY before exposing it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ServerAddress = addr
	}
	requestLog, _ := cmd.Flags().GetBool("request-log")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.NewTelemetryConfig("scanlog", Version))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	tallyMetrics, err := observability.NewTallyMetrics()
	if err != nil {
		return err
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		return err
	}

	a, err := openAppWith(cfg, tallyMetrics)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.UsePostgres() {
		logger.Info("using PostgreSQL database")
	} else {
		logger.Info("using SQLite database", "path", cfg.DatabasePath)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := services.NewFeedHub()
	go hub.Run(hubCtx)
	if err := hub.Follow(hubCtx, a.session, a.projector); err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.ServerAddress,
		Handler: handlers.NewRouter(handlers.RouterDeps{
			Session:      a.session,
			Projector:    a.projector,
			Catalog:      a.catalog,
			Hub:          hub,
			APIKey:       cfg.Security.APIKey,
			APIKeyHeader: cfg.Security.APIKeyHeader,
			HTTPMetrics:  httpMetrics,
			RequestLog:   requestLog,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("scanlog server starting",
			"address", cfg.ServerAddress,
			"version", Version,
			"auth", cfg.Security.APIKey != "",
			"catalog_entries", a.catalog.Len(),
			"time_zone", cfg.Location().String(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing the hub drops WebSocket viewers, which Shutdown does not wait for
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
