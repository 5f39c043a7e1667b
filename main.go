package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"knowyourcar/config"
	"knowyourcar/db"
	khttp "knowyourcar/http"
	"knowyourcar/logger"
	"knowyourcar/ml"
	"knowyourcar/monitoring"
	"knowyourcar/valuation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "knowyourcar: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	// 2. Load the model once; the process does not serve without it
	model, err := ml.LoadModel(cfg.ML.ArtifactPath, log)
	if err != nil {
		log.Error("failed to load model",
			zap.String("path", cfg.ML.ArtifactPath),
			zap.String("kind", ml.ErrorKind(err)),
			zap.Error(err))
		return err
	}
	defer model.Close()
	if cfg.ML.WatchArtifact {
		if err := model.Watch(); err != nil {
			log.Warn("artifact watch disabled", zap.Error(err))
		}
	}

	// 3. Audit store
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	estimator, err := valuation.NewService(model.Pipeline(), valuation.Options{
		ReferenceYear: model.Pipeline().ReferenceYear,
		CacheSize:     cfg.Http.CacheSize,
		Recorder:      store,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	// 4. Start HTTP server
	server, err := khttp.NewServer(khttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, khttp.Dependencies{
		Model:     model,
		Estimator: estimator,
		Audit:     store,
		Metrics:   monitoring.NewEstimateMetrics(),
		Logger:    log,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("exiting")
	return nil
}
