/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// riskline-worker drains the task queue, running analysis pipelines
// and exports.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/analyzer/stub"
	"github.com/jordigilh/riskline/internal/blobstore"
	"github.com/jordigilh/riskline/internal/config"
	"github.com/jordigilh/riskline/internal/database"
	"github.com/jordigilh/riskline/internal/exportrunner"
	"github.com/jordigilh/riskline/internal/logging"
	"github.com/jordigilh/riskline/internal/mediaproc"
	"github.com/jordigilh/riskline/internal/orchestrator"
	"github.com/jordigilh/riskline/internal/progress"
	"github.com/jordigilh/riskline/internal/reasoner"
	"github.com/jordigilh/riskline/internal/taskqueue"
	"github.com/jordigilh/riskline/internal/worker"
	"github.com/jordigilh/riskline/pkg/datastorage/repository"
	"github.com/jordigilh/riskline/pkg/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("RISKLINE_CONFIG"), "path to the YAML configuration file")
	consumerName := flag.String("consumer", hostnameOr("worker"), "consumer name for the task queue's processing list")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, logLevel, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()
	if err := database.Migrate(db.DB); err != nil {
		log.Fatal("database migration failed", zap.Error(err))
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal("invalid redis url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	var blobs blobstore.Store
	if cfg.Storage.UseGCS {
		blobs, err = blobstore.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.GCSSigningServiceAccount)
	} else {
		blobs, err = blobstore.NewS3Store(ctx, cfg.Storage.Endpoint, cfg.Storage.Bucket, cfg.Storage.AccessKey, cfg.Storage.SecretKey)
	}
	if err != nil {
		log.Fatal("blob store init failed", zap.Error(err))
	}

	jobs := repository.NewAnalysisJobRepository(db, log)
	videos := repository.NewVideoRepository(db, log)
	risks := repository.NewRiskItemRepository(db, log)
	exports := repository.NewExportJobRepository(db, log)

	progressStore := progress.NewRedisStore(redisClient)

	// The perceptual analyzers are external collaborators; the stubs
	// stand in until a deployment points this process at real ones.
	pipeline := orchestrator.New(
		stub.SpeechAnalyzer{}, stub.OCRAnalyzer{}, stub.VisionAnalyzer{},
		reasoner.NewAnthropicReasoner(cfg.Reasoner.APIKey, cfg.Reasoner.Model, log),
		progressStore, risks, jobs, log,
	)

	exporter := exportrunner.NewRunner(
		exports, blobs,
		mediaproc.NewProcessor(cfg.Media.ProcessorBinaryPath),
		progressStore, cfg.Media.FontFilePath, log,
	)

	queue := taskqueue.New(redisClient, *consumerName)
	if n, err := queue.Recover(ctx); err != nil {
		log.Warn("stranded task recovery failed", zap.Error(err))
	} else if n > 0 {
		log.Info("recovered stranded tasks from previous run", zap.Int("count", n))
	}
	w := worker.New(queue, jobs, videos, blobs, pipeline, exporter, progressStore, log)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, log)
	metricsServer.StartAsync()

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, log, func(fresh *config.Config) {
				if err := logLevel.UnmarshalText([]byte(fresh.Logging.Level)); err != nil {
					log.Warn("invalid log level in reloaded config", zap.String("level", fresh.Logging.Level))
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	log.Info("worker started", zap.String("consumer", *consumerName))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Warn("metrics shutdown incomplete", zap.Error(err))
	}
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}
