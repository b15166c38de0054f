package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/api"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/blob"
	"github.com/filedepot/filedepot/pkg/config"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/groups"
	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/storage/postgres"
	"github.com/filedepot/filedepot/pkg/versioning"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: serviceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := observability.ShutdownOTel(shutdownCtx, providers, logger); err != nil {
			logger.WithError(err).Warn("OpenTelemetry shutdown failed")
		}
	}()

	// Database
	cm, err := postgres.NewConnectionManager(cfg.Storage)
	if err != nil {
		return err
	}
	defer cm.Close()
	db := cm.Primary()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info("Database migrations applied")

	// Redis is optional; without it version-number assignment falls
	// back to in-process locks.
	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	// Blob backend
	var blobs blob.Store
	switch cfg.BlobBackend {
	case "s3":
		blobs, err = blob.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		logger.WithField("bucket", cfg.Storage.S3Bucket).Info("S3 blob store ready")
	default:
		blobs = blob.NewMemoryStore()
		logger.Warn("Using in-memory blob store; uploads will not survive a restart")
	}

	// Retention policy overlay with hot reload
	policy, err := config.NewPolicyWatcher(cfg.PolicyFile, logger)
	if err != nil {
		return err
	}
	defer policy.Close()

	// Audit trail
	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		return err
	}
	defer auditLog.Close()
	sink := audit.NewSink(auditLog, logger, metrics)

	// Services
	ruleStore := access.NewStore(db)
	accessSvc := access.NewService(ruleStore, access.NewResolver(ruleStore, metrics), sink, logger, metrics)
	versions := versioning.NewManager(versioning.NewStore(db), blobs, sink, logger, metrics, policy.VersionRetention, redisClient)
	filesSvc := files.NewService(files.NewStore(db), blobs, versions, ruleStore, sink, logger, metrics, files.DefaultConfig())
	groupSvc := groups.NewService(groups.NewStore(db), ruleStore, sink, logger)

	server := api.NewServer(accessSvc, filesSvc, versions, groupSvc, auditLog, logger, metrics)

	apiSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for probes and scraping
	var redisRaw *redis.Client
	if redisClient != nil {
		redisRaw = redisClient.Client()
	}
	health := observability.NewHealthChecker(db, redisRaw)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", apiSrv.Addr).Info("API server listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.WithField("addr", healthSrv.Addr).Info("Health server listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown failed")
		}
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Health server shutdown failed")
		}
		return nil
	})

	return g.Wait()
}
