package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/config"
	"github.com/soundlane/audio-pipeline/internal/orchestrator"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
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

	consumer, err := broker.NewConsumer(cfg.RabbitMQURL, "orchestrator")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect broker consumer")
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close consumer")
		}
	}()

	workflow := orchestrator.NewWorkflow(producer, stateStore, objectStore)
	failures := orchestrator.NewFailureHandler(stateStore, objectStore, producer, nil)
	if err := orchestrator.Register(ctx, consumer, workflow, failures); err != nil {
		logrus.WithError(err).Fatal("Failed to register subscriptions")
	}

	logrus.Info("Orchestrator is running. Press CTRL-C to exit.")
	<-ctx.Done()
	logrus.Info("Shutting down gracefully...")
}
