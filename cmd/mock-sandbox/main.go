// Package main implements a mock investigation sandbox agent. It speaks the
// HTTP surface the orchestrator expects (/claim, /execute, /interrupt,
// /answer, /health) and emits scripted event streams, selected by keywords
// in the prompt, for local development and e2e testing.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vigilops/vigilops/internal/common/logger"
)

func main() {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "info", Format: "text"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	port := os.Getenv("MOCK_SANDBOX_PORT")
	if port == "" {
		port = "8888"
	}

	agent := newAgent(log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/claim", agent.handleClaim)
	router.POST("/execute", agent.handleExecute)
	router.POST("/interrupt", agent.handleInterrupt)
	router.POST("/answer", agent.handleAnswer)
	router.GET("/health", agent.handleHealth)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("Mock sandbox listening", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Close()
}
