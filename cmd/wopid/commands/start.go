package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/wopihost/cmd/wopid/cmdutil"
	"github.com/marmos91/wopihost/internal/logger"
	"github.com/marmos91/wopihost/internal/telemetry"
	"github.com/marmos91/wopihost/pkg/ability"
	"github.com/marmos91/wopihost/pkg/api"
	"github.com/marmos91/wopihost/pkg/api/auth"
	"github.com/marmos91/wopihost/pkg/config"
	"github.com/marmos91/wopihost/pkg/metrics"
	"github.com/marmos91/wopihost/pkg/wopi/content"
	"github.com/marmos91/wopihost/pkg/wopi/discovery"
	"github.com/marmos91/wopihost/pkg/wopi/lock"
	"github.com/marmos91/wopihost/pkg/wopi/proof"
	"github.com/marmos91/wopihost/pkg/wopi/token"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the WOPI host",
	Long: `Start the WOPI host in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/wopid/config.yaml. Run it under a
process supervisor (systemd, Kubernetes) for background operation.

Examples:
  # Start with the default config
  wopid start

  # Start with custom config file
  wopid start --config /etc/wopid/config.yaml

  # Start with environment variable overrides
  WOPID_LOGGING_LEVEL=DEBUG wopid start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceVersion = Version
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(cfg.Telemetry.Profiling, cfg.Telemetry.ServiceName, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(cmdutil.Flags.ConfigFile))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}
	wopiMetrics := metrics.NewWopiMetrics()

	deps, cleanup, err := buildDependencies(ctx, cfg, wopiMetrics)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := deps.Discovery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	defer deps.Discovery.Stop()

	server := api.NewServer(cfg.Server, deps)
	server.SetShutdownTimeout(cfg.ShutdownTimeout)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()
	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server error", logger.Err(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// buildDependencies opens the cache and stores and assembles the engine.
// cleanup closes what was opened.
func buildDependencies(ctx context.Context, cfg *config.Config, wm *metrics.WopiMetrics) (api.Dependencies, func(), error) {
	c, err := config.CreateCache(cfg.Cache)
	if err != nil {
		return api.Dependencies{}, nil, err
	}
	logger.Info("Cache opened", "type", cfg.Cache.Type)

	stores, err := config.CreateStores(ctx, cfg, c)
	if err != nil {
		_ = c.Close()
		return api.Dependencies{}, nil, err
	}
	cleanup := func() {
		if err := stores.Close(); err != nil {
			logger.Error("Item store close error", logger.Err(err))
		}
		if err := c.Close(); err != nil {
			logger.Error("Cache close error", logger.Err(err))
		}
	}
	logger.Info("Stores opened", "item_db", cfg.Store.Database.Type, "mounts", len(cfg.Mounts))

	policy, err := ability.NewPolicy(cfg.Abilities, stores.Resources)
	if err != nil {
		cleanup()
		return api.Dependencies{}, nil, fmt.Errorf("invalid ability policy: %w", err)
	}

	var lockOpts []lock.Option
	if metrics.IsEnabled() {
		lockOpts = append(lockOpts, lock.WithMetrics(lock.NewMetrics(metrics.Registerer())))
	}
	locks := lock.NewRegistry(c, lock.Config{TTL: cfg.Wopi.LockTTL}, lockOpts...)

	tokens := token.NewService(c, token.Config{TTL: cfg.Wopi.TokenTTL},
		token.WithIssuedCounter(wm.TokensIssued()))

	gateway := content.New(stores.Resources, locks, content.Config{
		ChunkSize:         cfg.Wopi.ChunkSize,
		PostMessageOrigin: cfg.Server.PostMessageOrigin,
	}, content.WithMetrics(wm))

	resolver, err := discovery.New(cfg.Discovery, cfg.Clients, c, discovery.WithMetrics(wm))
	if err != nil {
		cleanup()
		return api.Dependencies{}, nil, fmt.Errorf("invalid discovery configuration: %w", err)
	}

	deps := api.Dependencies{
		Tokens:    tokens,
		Locks:     locks,
		Content:   gateway,
		Oracle:    policy,
		Proof:     proof.NewVerifier(cfg.Wopi.ProofMaxAge),
		Discovery: resolver,
		Cache:     c,
		Store:     stores.Resources,
		Items:     stores.Items,
		Metrics:   wm,
	}

	if cfg.Admin.Enabled() {
		jwtService, err := auth.NewJWTService(cfg.Admin)
		if err != nil {
			cleanup()
			return api.Dependencies{}, nil, fmt.Errorf("failed to initialize admin API: %w", err)
		}
		deps.JWT = jwtService
		logger.Info("Admin API enabled", "path", "/api/v1")
	} else {
		logger.Warn("admin.jwt_secret is empty, admin API disabled")
	}

	return deps, cleanup, nil
}

// getConfigSource describes where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
