package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/config"
	"github.com/soundlane/audio-pipeline/internal/storage"
	"github.com/soundlane/audio-pipeline/internal/worker"
	"github.com/soundlane/audio-pipeline/pkg/engine"
)

var (
	StageList  string
	EngineType string
)

func init() {
	flag.StringVar(&StageList, "stage", "", "Comma-separated stages to host (default: all)")
	flag.StringVar(&EngineType, "engine", "mock", "Engine type: mock or ffmpeg")
	flag.Parse()

	if env := os.Getenv("WORKER_STAGES"); env != "" && StageList == "" {
		StageList = env
	}
	if env := os.Getenv("ENGINE_TYPE"); env != "" {
		EngineType = env
	}
}

func main() {
	config.SetupLogging()
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	stages := worker.Stages()
	if StageList != "" {
		stages = strings.Split(StageList, ",")
		for i := range stages {
			stages[i] = strings.TrimSpace(stages[i])
		}
	}

	engines := worker.MockEngines()
	switch strings.ToLower(EngineType) {
	case "ffmpeg":
		ff := engine.NewFFmpegEngine()
		engines.Normalizer = ff
		engines.Transcoder = ff
		logrus.Info("Using FFmpeg engines for normalize and HLS")
	case "mock":
		fallthrough
	default:
		logrus.Info("Using mock engines")
	}

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

	consumer, err := broker.NewConsumer(cfg.RabbitMQURL, "worker")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect broker consumer")
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close consumer")
		}
	}()

	service := worker.NewService(objectStore, producer, engines, cfg.TempDir)
	if err := service.Register(ctx, consumer, stages); err != nil {
		logrus.WithError(err).Fatal("Failed to register stages")
	}

	logrus.WithField("stages", strings.Join(stages, ",")).Info("Worker is running. Press CTRL-C to exit.")
	<-ctx.Done()
	logrus.Info("Shutting down gracefully...")
}
