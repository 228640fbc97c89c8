package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njprem/Visitor_Invite_Console/internal/config"
	"github.com/njprem/Visitor_Invite_Console/internal/logging"
	"github.com/njprem/Visitor_Invite_Console/internal/metrics"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/jobapi"
	miniorepo "github.com/njprem/Visitor_Invite_Console/internal/repository/minio"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/postgres"
	"github.com/njprem/Visitor_Invite_Console/internal/service"
	transport "github.com/njprem/Visitor_Invite_Console/internal/transport/http"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, logCloser := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		LogstashAddr: cfg.LogstashTCPAddr,
		Service:      "invite-console",
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionCfg := service.BulkUploadConfig{
		PollInterval:   cfg.PollInterval,
		EditDebounce:   cfg.EditDebounce,
		SearchDebounce: cfg.SearchDebounce,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	}

	var bulkMetrics *metrics.BulkMetrics
	if cfg.MetricsEnabled {
		bulkMetrics = metrics.New()
		sessionCfg.Observer = bulkMetrics
	}

	var history *service.UploadHistoryService
	if cfg.HistoryEnabled() {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		history = service.NewUploadHistoryService(postgres.NewUploadHistoryRepo(db))
		sessionCfg.History = history
	}

	if cfg.MinIOEnabled() {
		client, err := miniorepo.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
		if err != nil {
			log.Fatalf("minio: %v", err)
		}
		storage := miniorepo.NewObjectStorage(client, cfg.MinIOPublicURL)
		if err := storage.EnsureBucket(ctx, cfg.MinIOBucketUploads); err != nil {
			log.Fatalf("minio bucket: %v", err)
		}
		sessionCfg.Storage = storage
		sessionCfg.Bucket = cfg.MinIOBucketUploads
	}

	base := jobapi.NewClient(jobapi.Config{
		BaseURL: cfg.JobServiceURL,
		Timeout: cfg.JobServiceTimeout,
		Logger:  logger,
	}, nil)
	clients := service.ClientFactory(func(tokens util.TokenSource) ports.ValidationJobClient {
		return base.WithToken(tokens)
	})

	sessions := service.NewBulkSessionManager(clients, service.BulkSessionManagerConfig{
		Session:     sessionCfg,
		TTL:         cfg.SessionTTL,
		MaxPerOwner: cfg.MaxSessionsPerOwner,
		Logger:      logger,
	})
	go sessions.Run(ctx)

	var verifier *util.JWTManager
	if cfg.JWTSecret != "" {
		verifier = util.NewJWTManager(cfg.JWTSecret, time.Hour)
	} else {
		logger.Warn("JWT_SECRET not set; bearer tokens are decoded but not verified")
	}

	e := transport.NewRouter(cfg.AllowOrigins, logger)
	if bulkMetrics != nil {
		transport.RegisterMetrics(e, bulkMetrics.Handler())
	}
	transport.RegisterBulkSessions(e, verifier, sessions, clients, cfg.MaxUploadBytes)
	if history != nil {
		transport.RegisterUploadHistory(e, verifier, history)
	}
	transport.RegisterSwagger(e, "docs")

	go func() {
		logger.Info("invite console listening", "port", cfg.Port, "job_service", cfg.JobServiceURL)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	sessions.CloseAll()
}
