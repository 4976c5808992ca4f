package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cargodesk/api/internal/di"
	"github.com/cargodesk/api/internal/handlers"
	"github.com/cargodesk/api/internal/platform/auth"
	"github.com/cargodesk/api/internal/platform/config"
	pfirestore "github.com/cargodesk/api/internal/platform/firestore"
	"github.com/cargodesk/api/internal/platform/idempotency"
	"github.com/cargodesk/api/internal/platform/jobs"
	"github.com/cargodesk/api/internal/platform/observability"
	"github.com/cargodesk/api/internal/repositories"
	firestoreRepo "github.com/cargodesk/api/internal/repositories/firestore"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)

	var probes []repositories.DependencyProbe
	var publisher *jobs.PubSubGoodsPublisher
	if topicID := strings.TrimSpace(cfg.PubSub.GoodsTopic); topicID != "" {
		pubsubClient, err := jobs.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		goodsTopic := pubsubClient.Topic(topicID)
		defer goodsTopic.Stop()

		publisher, err = jobs.NewPubSubGoodsPublisher(goodsTopic)
		if err != nil {
			logger.Fatal("failed to initialise goods publisher", zap.Error(err))
		}
		probes = append(probes, repositories.DependencyProbe{Name: "pubsub", Check: jobs.TopicProbe(goodsTopic)})
	} else {
		logger.Info("goods topic not configured; submission events disabled")
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, probes)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	eventLogger, err := observability.MeteredEventLogger(nil, observability.EventLogger(logger.Named("editor")))
	if err != nil {
		logger.Fatal("failed to initialise editor metrics", zap.Error(err))
	}
	containerOpts := []di.Option{
		di.WithEventLogger(eventLogger),
	}
	if publisher != nil {
		containerOpts = append(containerOpts, di.WithPublisher(publisher))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	editorService := container.Services.Editor

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			defer cleanupTicker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(backgroundCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	sweepTicker := time.NewTicker(cfg.Editor.SweepInterval)
	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		defer sweepTicker.Stop()
		sweepLogger := logger.Named("editor")
		for {
			select {
			case <-sweepTicker.C:
				if evicted := editorService.EvictIdle(backgroundCtx); evicted > 0 {
					sweepLogger.Info("evicted idle editor sessions", zap.Int("count", evicted))
				}
			case <-backgroundCtx.Done():
				return
			}
		}
	}()

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.OperatorMiddleware,
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithHealthRepository(registry.Health()),
	)
	editorHandlers := handlers.NewEditorHandlers(editorService,
		handlers.WithSubmitMiddlewares(idempotencyMiddleware),
		handlers.WithSessionOpenLimit(cfg.Editor.OpenRateLimit, cfg.Editor.OpenRateWindow, time.Now),
	)

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithEditorRoutes(editorHandlers.Routes),
	}
	if authenticator := buildOperatorAuth(cfg.Auth, logger.Named("auth")); authenticator != nil {
		routerOpts = append(routerOpts, handlers.WithEditorMiddlewares(authenticator.Middleware))
	} else {
		logger.Warn("operator auth audience not configured; trusting operator header")
	}

	router := handlers.NewRouter(routerOpts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("cargodesk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildOperatorAuth(cfg config.AuthConfig, logger *zap.Logger) *auth.OperatorAuthenticator {
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil
	}
	keys, err := auth.NewKeySet(cfg.JWKSURL, auth.WithKeySetLogger(logger))
	if err != nil {
		logger.Fatal("failed to initialise jwks", zap.Error(err))
	}
	recorder, err := observability.VerificationRecorder(nil)
	if err != nil {
		logger.Fatal("failed to initialise auth metrics", zap.Error(err))
	}
	authenticator, err := auth.NewOperatorAuthenticator(keys, auth.OperatorAuthConfig{
		Audience:       cfg.Audience,
		Issuers:        cfg.Issuers,
		AllowedDomains: cfg.AllowedDomains,
	},
		auth.WithVerificationRecorder(recorder),
		auth.WithOperatorAuthLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to initialise operator auth", zap.Error(err))
	}
	return authenticator
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("CONSOLE_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("CONSOLE_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("CONSOLE_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
