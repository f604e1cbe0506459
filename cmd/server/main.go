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
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"propwatch/server/config"
	"propwatch/server/internal/api"
	"propwatch/server/internal/database"
	"propwatch/server/internal/geometry"
	"propwatch/server/internal/processor"
	"propwatch/server/internal/queue"
	"propwatch/server/internal/scheduler"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	opts := database.DefaultOptions()
	opts.PriceChangeThreshold = cfg.Database.PriceChangeThreshold
	opts.PriceRefreshInterval = cfg.Database.PriceRefreshInterval
	opts.BusyTimeout = cfg.Database.BusyTimeout

	logger.WithField("path", cfg.Database.Path).Info("Opening database")
	db, err := database.NewDatabase(cfg.Database.Path, opts, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	var resolver database.DistrictResolver
	if cfg.Geometry.DistrictsPath != "" {
		r, err := geometry.LoadResolver(cfg.Geometry.DistrictsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load district boundaries")
		}
		resolver = r
	}

	q := queue.NewListingQueue(cfg.BatchProcessing.QueueSize, logger)
	proc := processor.NewBatchProcessor(db, q, cfg, logger)
	proc.Start()
	q.Start()

	sched := scheduler.NewScheduler(db, resolver, cfg.Maintenance.CompactionHourUTC, logger)
	sched.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, db, q, logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.HTTP.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}

	sched.Stop()
	q.Close()
	proc.Stop()
}
