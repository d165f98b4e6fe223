package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/config"
	"github.com/soundlane/audio-pipeline/internal/httpapi"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
	"github.com/soundlane/audio-pipeline/internal/transcript"
)

func main() {
	config.SetupLogging()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid REDIS_URL")
	}
	stateStore := state.NewRedisStore(redis.NewClient(redisOpts))

	objectStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to object store")
	}

	producer, err := broker.NewProducer(cfg.RabbitMQURL)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect broker producer")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close producer")
		}
	}()

	syncer := transcript.NewSyncer(objectStore, cfg.TempDir)
	server := httpapi.NewServer(stateStore, objectStore, producer, syncer)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}
	go func() {
		logrus.WithField("addr", cfg.ListenAddr).Info("Gateway listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Gateway server error")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Gateway shutdown error")
	}
}
