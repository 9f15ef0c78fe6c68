// The worker binary runs the engine without the HTTP API. Jobs submitted
// by another process are picked up through the shared record store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/michaelayoade/dotmac-jobs/internal/config"
	"github.com/michaelayoade/dotmac-jobs/internal/engine"
	"github.com/michaelayoade/dotmac-jobs/internal/handlers"
	"github.com/michaelayoade/dotmac-jobs/internal/models"
	"github.com/michaelayoade/dotmac-jobs/internal/storage/postgres"
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

	eng := engine.New(postgres.NewJobRepository(db), engCfg, logger)
	handlers.RegisterAll(eng.Registry())
	if err := eng.Start(ctx); err != nil {
		logger.Fatalw("engine start failed", "error", err)
	}
	logger.Info("worker active")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), engCfg.ShutdownTimeout)
	defer cancel()
	eng.Stop(shutdownCtx)
	logger.Info("shutdown complete")
}
