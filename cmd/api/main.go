package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-jobs/internal/config"
	"github.com/michaelayoade/dotmac-jobs/internal/engine"
	"github.com/michaelayoade/dotmac-jobs/internal/handlers"
	"github.com/michaelayoade/dotmac-jobs/internal/job"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
	"github.com/michaelayoade/dotmac-jobs/middleware"
	"github.com/michaelayoade/dotmac-jobs/pkg/log"
)

func main() {
	logger := log.InitLog(zap.NewAtomicLevelAt(zap.InfoLevel)).Sugar()
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	dbCfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		logger.Fatalw("failed to load database config", "error", err)
	}
	engCfg, err := config.LoadEngineFromEnv(ctx)
	if err != nil {
		logger.Fatalw("failed to load engine config", "error", err)
	}

	db, err := postgres.ConnectDB(ctx, dbCfg)
	if err != nil {
		logger.Fatalw("database connection failed", "error", err)
	}
	if err := postgres.MigrateModels(db, &models.Job{}, &models.JobLog{}); err != nil {
		logger.Fatalw("migration failed", "error", err)
	}

	repo := postgres.NewJobRepository(db)

	eng := engine.New(repo, engCfg, logger)
	handlers.RegisterAll(eng.Registry())
	if err := eng.Start(ctx); err != nil {
		logger.Fatalw("engine start failed", "error", err)
	}

	service := job.NewJobService(repo, eng, engCfg)
	handler := job.NewJobHandler(service)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.ErrorHandler())
	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	addr := ":8080"
	if v := os.Getenv("API_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), engCfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("server shutdown error", "error", err)
	}
	eng.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}
