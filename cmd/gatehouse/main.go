// Package main is the entry point for the gatehouse binary: a security
// enforcement pipeline placed in front of inbound HTTP requests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatehouse-io/gatehouse/pkg/config"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/logging"
	"github.com/gatehouse-io/gatehouse/pkg/telemetry"
)

const (
	defaultConfigPath        = "gatehouse.yaml"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for gatehouse
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatehouse",
		Short: "HTTP security enforcement pipeline",
		Long: `Gatehouse sits in front of an HTTP application and enforces a
security pipeline on every inbound request: a request firewall, first-match
chain selection, ordered authentication and authorization stages, and a
single terminal outcome per request.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the enforcement pipeline and admin listener",
		RunE:  runServe,
	}
	serveCmd.Flags().StringP("config", "c", defaultConfigPath, "Path to the configuration file (YAML)")
	serveCmd.Flags().String("data-listen", "", "HTTP listen address for the protected application")
	serveCmd.Flags().String("admin-listen", "", "HTTP listen address for the admin endpoints")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP endpoint")
	serveCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load .env file if present
	_ = godotenv.Load()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// Apply flag overrides
	if v, _ := cmd.Flags().GetString("data-listen"); v != "" {
		cfg.Server.DataAddress = v
	}
	if v, _ := cmd.Flags().GetString("admin-listen"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v, _ := cmd.Flags().GetString("otel-endpoint"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return run(ctx, cfg, configPath)
}

// run orchestrates the application lifecycle.
func run(ctx context.Context, cfg *config.Config, configPath string) error {
	logger := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  os.Getenv("GATEHOUSE_ENVIRONMENT"),
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	runtime, err := cfg.Build(ctx, logger)
	if err != nil {
		return fmt.Errorf("pipeline build failed: %w", err)
	}
	logger.Info("pipeline built", "chains", len(runtime.Registry.Chains()))

	holder := engine.NewHolder(runtime.Registry)

	watcher, err := config.NewWatcher(configPath, runtime, holder, logger)
	if err != nil {
		logger.Warn("config watching disabled", "error", err)
	} else {
		defer func() { _ = watcher.Close() }()
	}

	metrics := telemetry.NewMetrics()
	if runtime.SessionRegistry != nil {
		metrics.ObserveActiveSessions(func() float64 {
			return float64(runtime.SessionRegistry.ActiveCount())
		})
	}

	executor := engine.NewExecutor(engine.ExecutorConfig{
		Logger: logger,
		Events: metrics,
	})

	pipeline := engine.NewHandler(engine.HandlerConfig{
		Firewall:      runtime.Firewall,
		Chains:        holder,
		Executor:      executor,
		Protected:     protectedApp(),
		Logger:        logger,
		Events:        metrics,
		SessionCookie: cfg.Session.CookieName,
	})

	adminSrv := startAdminServer(cfg, holder, metrics, logger)
	defer shutdownServer(adminSrv, "admin", logger)

	dataSrv := startDataServer(cfg, pipeline, logger)
	defer shutdownServer(dataSrv, "data", logger)

	awaitShutdownSignal(ctx, logger)
	return nil
}

// protectedApp is the demo application served behind the pipeline. Real
// deployments replace it with their own handler or a reverse proxy.
func protectedApp() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		view := engine.ViewFromContext(req.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"path":          req.URL.Path,
			"principal":     view.Principal(),
			"authenticated": view.Authenticated(),
		})
	})
	return r
}

// startDataServer starts the listener fronting the protected application.
func startDataServer(cfg *config.Config, pipeline http.Handler, logger *slog.Logger) *http.Server {
	handler := otelhttp.NewHandler(pipeline, "gatehouse.data")
	server := &http.Server{
		Addr:         cfg.Server.DataAddress,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.Server.DataAddress)
		if err != nil {
			logger.Error("data listener failed", "address", cfg.Server.DataAddress, "error", err)
			return
		}
		logger.Info("data listener started", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("data server error", "error", err)
		}
	}()

	return server
}

// startAdminServer starts the admin listener: metrics, health and the active
// chain set.
func startAdminServer(cfg *config.Config, holder *engine.Holder, metrics *telemetry.Metrics, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/chains", func(w http.ResponseWriter, _ *http.Request) {
		type chainInfo struct {
			Name    string   `json:"name"`
			Pattern string   `json:"pattern"`
			Bypass  bool     `json:"bypass,omitempty"`
			Stages  []string `json:"stages,omitempty"`
		}
		chains := holder.Load().Chains()
		out := make([]chainInfo, 0, len(chains))
		for _, c := range chains {
			info := chainInfo{Name: c.Name, Pattern: c.Pattern.String(), Bypass: c.Bypass}
			for _, s := range c.Stages {
				info.Stages = append(info.Stages, s.Name())
			}
			out = append(out, info)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	server := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.Server.AdminAddress)
		if err != nil {
			logger.Error("admin listener failed", "address", cfg.Server.AdminAddress, "error", err)
			return
		}
		logger.Info("admin listener started", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", "error", err)
		}
	}()

	return server
}

func shutdownServer(server *http.Server, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "server", name, "error", err)
	}
}

func shutdownTelemetry(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}
}

func awaitShutdownSignal(ctx context.Context, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}
}
