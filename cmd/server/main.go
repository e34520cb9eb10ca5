// Command server runs the STJ GraphRAG HTTP API and its background job
// workers in one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stjgraph/stjrag"
)

func main() {
	cfg := stjrag.LoadConfig()

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(log)

	ctx := context.Background()
	svc, err := stjrag.New(ctx, cfg, log)
	if err != nil {
		log.Error("service initialization failed", "error", err)
		os.Exit(1)
	}
	svc.Start()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(recoveryMiddleware(log), requestLogger(log), corsMiddleware())

	h := newHandler(svc, cfg, log)

	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/auth/login", h.login)

	api := router.Group("/api", h.sessionMiddleware())
	{
		api.GET("/auth/me", h.me)
		api.POST("/auth/logout", h.logout)

		api.GET("/datasets", h.listDatasets)
		api.GET("/datasets/stats", h.resourceStats)
		api.GET("/datasets/:slug", h.getDataset)
		api.POST("/datasets/sync", h.requireAuth(), h.syncDatasets)

		api.GET("/resources", h.listResources)
		api.GET("/resources/:id/status", h.resourceStatus)
		api.POST("/resources/:id/download", h.requireAuth(), h.downloadResource)
		api.POST("/resources/:id/process", h.requireAuth(), h.processResource)

		api.GET("/documents", h.requireAuth(), h.listDocuments)
		api.POST("/documents/upload", h.requireAuth(), h.uploadDocument)
		api.POST("/documents/:id/process", h.requireAuth(), h.processDocument)

		api.GET("/graph/nodes", h.graphNodes)
		api.GET("/graph/nodes/stats", h.nodeStats)
		api.GET("/graph/edges/stats", h.edgeStats)
		api.GET("/graph/communities", h.communities)
		api.POST("/graph/communities/build", h.requireAuth(), h.buildCommunities)
		api.GET("/graph/visualization", h.visualization)

		api.GET("/embeddings/collections", h.collections)

		api.POST("/rag/query", h.requireAuth(), h.ragQuery)
		api.GET("/rag/history", h.requireAuth(), h.ragHistory)

		api.GET("/audit", h.requireAuth(), h.auditLogs)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	// Drain the job workers after the HTTP surface is closed.
	svc.Close()
	log.Info("stopped")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
