// Package main runs the VigilOps investigation orchestrator: sandbox
// lifecycle, session broker, event stream relay, and the credential-proof
// file proxy behind a single HTTP server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/broker"
	brokerapi "github.com/vigilops/vigilops/internal/broker/api"
	"github.com/vigilops/vigilops/internal/broker/streaming"
	"github.com/vigilops/vigilops/internal/common/config"
	"github.com/vigilops/vigilops/internal/common/httpmw"
	"github.com/vigilops/vigilops/internal/common/logger"
	"github.com/vigilops/vigilops/internal/common/tracing"
	"github.com/vigilops/vigilops/internal/configclient"
	"github.com/vigilops/vigilops/internal/events/bus"
	"github.com/vigilops/vigilops/internal/fileproxy"
	"github.com/vigilops/vigilops/internal/persistence"
	"github.com/vigilops/vigilops/internal/sandbox"
	"github.com/vigilops/vigilops/internal/sandbox/docker"
	"github.com/vigilops/vigilops/internal/sandbox/routerclient"
	"github.com/vigilops/vigilops/internal/tokenvault"
)

const serviceName = "vigilops-orchestrator"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting VigilOps orchestrator...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (NATS if configured, otherwise in-memory)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
		log.Info("Connected to NATS event bus")
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 5. Connect to the container runtime
	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		log.Fatal("Failed to initialize Docker client", zap.Error(err))
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Fatal("Docker daemon not available", zap.Error(err))
	}
	log.Info("Connected to Docker daemon")

	// 6. Open the investigation record store
	records, err := persistence.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open investigation store", zap.Error(err))
	}
	defer records.Close()

	// 7. Build the orchestration components
	runtime := sandbox.NewDockerRuntime(dockerClient, log)
	router := routerclient.New(cfg.Sandbox, log)
	manager := sandbox.NewManager(cfg.Sandbox, runtime, router, eventBus, log)
	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start sandbox manager", zap.Error(err))
	}
	defer manager.Stop()

	vault := tokenvault.New(cfg.Vault, log)
	proxy := fileproxy.New(cfg.FileProxy, log)
	configSvc := configclient.New(cfg.ConfigService, log)
	if configSvc.Enabled() {
		log.Info("Config service enabled", zap.String("base_url", cfg.ConfigService.BaseURL))
	}

	hub := streaming.NewHub(log)
	go hub.Run(ctx)
	if _, err := streaming.MirrorLifecycle(eventBus, hub, log); err != nil {
		log.Fatal("Failed to subscribe lifecycle mirror", zap.Error(err))
	}

	service := broker.NewService(cfg, manager, vault, proxy, router, configSvc, records, eventBus, hub, log)

	// 8. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(httpmw.Recovery(log))
	engine.Use(httpmw.CORS())
	engine.Use(httpmw.RequestLogger(log, serviceName))
	engine.Use(httpmw.OtelTracing(serviceName))

	api := engine.Group("/v1")
	brokerapi.SetupRoutes(api, service, hub, log)

	handler := brokerapi.NewHandler(service, log)
	engine.GET("/health", handler.Health)
	engine.GET("/proxy/files/:token", proxy.ServeDownload)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Orchestrator listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("investigate", "/v1/investigate"),
		zap.String("files", "/proxy/files/:token"),
		zap.String("observers", "/v1/ws/threads/:thread_id"),
		zap.String("health", "/health"),
	)

	// 9. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down orchestrator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("Orchestrator stopped")
}
