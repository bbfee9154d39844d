package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/oncoscopic-api/internal/config"
	"github.com/Brownie44l1/oncoscopic-api/internal/handlers"
	"github.com/Brownie44l1/oncoscopic-api/internal/inference"
	"github.com/Brownie44l1/oncoscopic-api/internal/logging"
	"github.com/Brownie44l1/oncoscopic-api/internal/metrics"
	"github.com/Brownie44l1/oncoscopic-api/internal/preprocess"
	"github.com/Brownie44l1/oncoscopic-api/internal/report"
	"github.com/Brownie44l1/oncoscopic-api/internal/store"
)

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	filter, err := preprocess.ParseFilter(cfg.ResizeFilter)
	if err != nil {
		logger.Fatalf("[Main] %v", err)
	}

	artifacts := inference.LoadArtifacts(inference.LoadConfig{
		ModelPath:         cfg.ModelPath,
		MetadataPath:      cfg.MetadataPath,
		LabelsPath:        cfg.LabelsPath,
		SharedLibraryPath: cfg.ORTLibPath,
		Sessions:          cfg.Sessions,
	}, inference.OpenONNX, logger)
	defer artifacts.Close()

	pipeline, err := inference.NewFromArtifacts(artifacts, inference.Options{
		Preprocess: preprocess.Options{Size: artifacts.Metadata.ImageSize, Filter: filter},
		Timeout:    cfg.PredictTimeout,
		Logger:     logger,
	})
	if err != nil {
		if cfg.RequireModel {
			logger.WithError(err).Fatal("[Main] Failed to initialize model server")
		}
		logger.WithError(err).Warn("[Main] Serving without a classifier; /predict will answer 503")
	}

	results, err := openStore(cfg)
	if err != nil {
		logger.WithError(err).Fatal("[Main] Failed to open result store")
	}
	if results != nil {
		defer results.Close()
	}

	reporter, err := report.New(cfg.SentryDSN)
	if err != nil {
		logger.WithError(err).Fatal("[Main] Failed to configure error reporting")
	}
	defer reporter.Close()

	handler := handlers.NewHandler(pipeline, results, metrics.New(), reporter, logger, handlers.Options{
		ServiceName:    config.ServiceName,
		LegacyStatus:   cfg.LegacyStatus,
		MaxUploadBytes: cfg.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithFields(log.Fields{
		"port":          cfg.Port,
		"model":         cfg.ModelPath,
		"model_loaded":  pipeline.Status().ModelLoaded,
		"image_size":    pipeline.ImageSize(),
		"legacy_status": cfg.LegacyStatus,
		"result_store":  cfg.ResultStore,
	}).Info("[Main] Server starting")
	if vocab := pipeline.Vocabulary(); vocab != nil {
		logger.Infof("[Main] Classes: %v", vocab.Labels())
	}
	logger.Info("[Main] Endpoints: GET / | GET /health | GET /metrics | POST /predict | POST /predict/tensor")
	logger.Infof("[Main] Upload test: curl -X POST -F \"file=@lesion.jpg\" http://localhost:%s/predict", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("[Main] Server failed")
	}
	logger.Info("[Main] Server stopped")
}

func openStore(cfg config.Server) (store.Store, error) {
	switch cfg.ResultStore {
	case "memory":
		return store.NewMemory(cfg.ResultTTL), nil
	case "redis":
		opts := store.DefaultRedisOptions()
		opts.Address = cfg.RedisAddr
		opts.Password = cfg.RedisPassword
		opts.DB = cfg.RedisDB
		opts.TTL = cfg.ResultTTL
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return store.NewRedis(ctx, opts)
	default:
		return nil, nil
	}
}
