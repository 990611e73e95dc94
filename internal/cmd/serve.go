package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/airq/internal/config"
	"github.com/3leaps/airq/internal/observability"
	"github.com/3leaps/airq/internal/server"
	"github.com/3leaps/airq/internal/server/handlers"
	"github.com/3leaps/airq/pkg/jobregistry"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ETL HTTP server",
	Long: `Start the HTTP server that accepts ETL jobs.

Endpoints:
  POST /v1/etl/jobs          submit file_history, file_measures, file_json (multipart)
  GET  /v1/etl/jobs/{id}     poll a job
  GET  /v1/etl/jobs          list jobs
  GET  /health[/live|/ready|/startup], /version

SIGINT or SIGTERM stops accepting requests and drains running jobs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		overrides["server"] = map[string]any{"host": serveHost}
	}
	if cmd.Flags().Changed("port") {
		srv, _ := overrides["server"].(map[string]any)
		if srv == nil {
			srv = map[string]any{}
		}
		srv["port"] = servePort
		overrides["server"] = srv
	}

	cfg, err := loadConfig(cmd.Context(), overrides)
	if err != nil {
		return err
	}
	if err := observability.InitServerLogger("airq", cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer observability.Sync()
	logger := observability.ServerLogger

	if err := os.MkdirAll(cfg.Storage.UploadDir, 0755); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create upload dir", err)
	}

	p, resolver, err := newPipeline(cfg, cfg.Pipeline.RulesPath, logger)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid cleaning rules", err)
	}
	defer func() { _ = resolver.Close() }()

	store, closeStore, err := newJobStore(cmd.Context(), cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job store", err)
	}
	defer closeStore()
	events, closeEvents, err := openEvents(cfg.Jobs.EventsPath, "airq.serve")
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open event log", err)
	}
	defer closeEvents()

	executor := jobregistry.NewExecutor(store, p,
		jobregistry.WithLogger(logger),
		jobregistry.WithEvents(events))

	if cfg.Health.Enabled {
		registerHealthChecks(handlers.InitHealthManager(versionInfo.Version), cfg, store)
	}

	jobs := handlers.NewJobsHandler(executor, p, jobregistry.NewStaging(cfg.Storage.UploadDir), handlers.JobsOptions{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		OutputBase:     cfg.OutputBase,
		KeepUploads:    cfg.Storage.KeepUploads,
		Logger:         logger,
	})
	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithJobs(jobs),
		server.WithHealth(cfg.Health.Enabled),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("airq server started",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("jobs_backend", cfg.Jobs.Backend))

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", zap.Int("jobs_in_flight", executor.InFlight()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Jobs still running at shutdown were cancelled", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("HTTP server exited with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
	return nil
}

func registerHealthChecks(m *handlers.HealthManager, cfg *config.Config, store jobregistry.Store) {
	m.RegisterChecker("signal", signalHealthChecker{})
	if id := GetAppIdentity(); id != nil {
		m.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	m.RegisterChecker("upload_dir", dirHealthChecker{path: cfg.Storage.UploadDir})
	if cfg.Jobs.Backend == config.JobsBackendFile {
		m.RegisterChecker("jobs_dir", dirHealthChecker{path: cfg.Jobs.Dir, optional: true})
	}
	if p, ok := store.(pinger); ok {
		m.RegisterChecker("jobs_db", pingHealthChecker{p})
	}
}

// pinger is implemented by job stores backed by a database.
type pinger interface {
	Ping(ctx context.Context) error
}

type pingHealthChecker struct{ p pinger }

func (c pingHealthChecker) CheckHealth(ctx context.Context) error { return c.p.Ping(ctx) }

// signalHealthChecker reports healthy while the process is handling signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

// dirHealthChecker requires path to be a directory. Optional directories
// may not exist yet.
type dirHealthChecker struct {
	path     string
	optional bool
}

func (c dirHealthChecker) CheckHealth(context.Context) error {
	info, err := os.Stat(c.path)
	if err != nil {
		if c.optional && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.path)
	}
	return nil
}
