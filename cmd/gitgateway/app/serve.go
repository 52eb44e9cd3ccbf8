package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/codecampus/gitgateway/internal/api"
	v0 "github.com/codecampus/gitgateway/internal/api/v0"
	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/config"
	"github.com/codecampus/gitgateway/internal/githost"
	"github.com/codecampus/gitgateway/internal/httpclient"
	"github.com/codecampus/gitgateway/internal/pipeline"
	"github.com/codecampus/gitgateway/internal/provision"
	"github.com/codecampus/gitgateway/internal/proxy"
	"github.com/codecampus/gitgateway/internal/records"
	"github.com/codecampus/gitgateway/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the gateway server.

The server requires a configuration file (--config) that specifies:
- The gateway's public URL and the backing git host
- The assignment directory endpoint
- Credential locations for the git host token and the session secret`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 30 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides configuration)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.GetAddress()
	}

	slog.Info("Starting git workspace gateway",
		"address", address,
		"publicUrl", cfg.PublicURL,
		"gitHost", cfg.GitHost.BaseURL)

	adminToken, err := cfg.GitHost.GetToken()
	if err != nil {
		return err
	}
	sessionSecret, err := cfg.Auth.GetSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.GetRecordsPath()), 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := records.NewFileStore(cfg.GetRecordsPath())
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}

	resolver, err := auth.NewJWTResolver(sessionSecret)
	if err != nil {
		return fmt.Errorf("failed to create session resolver: %w", err)
	}
	host, err := githost.NewClient(cfg.GitHost.BaseURL, adminToken, httpclient.NewDefaultClient(0))
	if err != nil {
		return fmt.Errorf("failed to create git host client: %w", err)
	}
	directory := provision.NewHTTPDirectory(cfg.Directory.Endpoint, httpclient.NewDefaultClient(0))
	provisioner := provision.NewProvisioner(host, store, directory, cfg.PublicURL)

	pipe := pipeline.NewPipeline(cfg.GitHost.BaseURL, cfg.GitHost.AdminUser, adminToken,
		pipeline.WithWorkDir(cfg.Pipeline.WorkDir))

	meterProvider, metricsHandler, err := telemetry.NewMeterProvider(
		telemetry.WithMetricsEnabled(cfg.Metrics != nil && cfg.Metrics.Enabled))
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if sdkProvider, ok := meterProvider.(*sdkmetric.MeterProvider); ok {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sdkProvider.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down meter provider", "error", err)
			}
		}
	}()

	pipelineMetrics, err := telemetry.NewPipelineMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	metricsMiddleware, err := telemetry.MetricsMiddleware(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics middleware: %w", err)
	}

	routes := v0.NewRoutes(provisioner, store, pipe, host,
		v0.WithPipelineMetrics(pipelineMetrics))
	gitProxy := proxy.NewHandler(cfg.GitHost.BaseURL, cfg.GitHost.AdminUser, adminToken, resolver, store)

	// No global request timeout: git transfers and archive commits can be
	// long-lived.
	router := api.NewServer(routes, gitProxy,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			metricsMiddleware,
			api.LoggingMiddleware,
		),
		api.WithAuthMiddleware(auth.Middleware(resolver)),
		api.WithMetricsHandler(metricsHandler),
	)

	server := &http.Server{
		Addr:        address,
		Handler:     router,
		ReadTimeout: serverReadTimeout,
		IdleTimeout: serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
