// Package worker implements the seven pipeline stages plus the terminal
// postprocessor. Each handler consumes one command, runs a local
// computation through an injected engine, writes its artifacts to the
// object store, and publishes exactly one completion event. Handlers are
// stateless and idempotent over (job_id, index): re-running one
// overwrites the same artifacts and republishes the same event.
package worker

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
	"github.com/soundlane/audio-pipeline/pkg/engine"
)

// Engines bundles the local computations a worker process owns. Model
// holders are acquired once at startup and live for the process lifetime.
type Engines struct {
	Normalizer       engine.Normalizer
	Splitter         engine.Splitter
	QualityChecker   engine.QualityChecker
	Denoiser         engine.Denoiser
	Diarizer         engine.Diarizer
	LanguageDetector engine.LanguageDetector
	Recognizer       engine.Recognizer
	Transcoder       engine.HLSTranscoder
}

// MockEngines returns a bundle backed entirely by mock engines.
func MockEngines() Engines {
	return Engines{
		Normalizer:       engine.MockNormalizer{},
		Splitter:         engine.NewEnergySplitter(),
		QualityChecker:   engine.NewRMSQualityChecker(),
		Denoiser:         engine.MockDenoiser{},
		Diarizer:         engine.MockDiarizer{},
		LanguageDetector: engine.MockLanguageDetector{},
		Recognizer:       engine.NewSerialRecognizer(engine.MockRecognizer{}),
		Transcoder:       engine.MockTranscoder{},
	}
}

// Service hosts the stage handlers.
type Service struct {
	store    storage.Store
	producer broker.Publisher
	engines  Engines
	tempDir  string
	logger   *logrus.Entry
}

// NewService wires a worker. tempDir defaults to the system temp dir.
func NewService(store storage.Store, producer broker.Publisher, engines Engines, tempDir string) *Service {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "audio-pipeline")
	}
	return &Service{
		store:    store,
		producer: producer,
		engines:  engines,
		tempDir:  tempDir,
		logger:   logrus.WithField("component", "worker"),
	}
}

// Stage names accepted by Register and the -stage flag.
const (
	StagePreprocess  = "preprocess"
	StageSegment     = "segment"
	StageDiarize     = "diarize"
	StageEnhance     = "enhance"
	StageLangDetect  = "langdetect"
	StageRecognize   = "recognize"
	StageTranscode   = "transcode"
	StagePostProcess = "postprocess"
)

// Stages lists every stage a worker process can host.
func Stages() []string {
	return []string{
		StagePreprocess, StageSegment, StageDiarize, StageEnhance,
		StageLangDetect, StageRecognize, StageTranscode, StagePostProcess,
	}
}

// Register binds the named stages to their command queues.
func (s *Service) Register(ctx context.Context, consumer interface {
	Subscribe(ctx context.Context, exchange, routingKey string, handler broker.Handler, opts broker.SubscribeOptions) error
}, stages []string) error {
	bindings := map[string]struct {
		key     string
		handler broker.Handler
	}{
		StagePreprocess:  {schema.RouteCmdPreprocess, s.HandlePreprocess},
		StageSegment:     {schema.RouteCmdSegment, s.HandleSegment},
		StageDiarize:     {schema.RouteCmdDiarize, s.HandleDiarize},
		StageEnhance:     {schema.RouteCmdEnhance, s.HandleEnhance},
		StageLangDetect:  {schema.RouteCmdLangDetect, s.HandleLangDetect},
		StageRecognize:   {schema.RouteCmdRecognize, s.HandleRecognize},
		StageTranscode:   {schema.RouteCmdTranscode, s.HandleTranscode},
		StagePostProcess: {schema.RouteCmdPostProcess, s.HandlePostProcess},
	}
	for _, stage := range stages {
		binding, ok := bindings[stage]
		if !ok {
			continue
		}
		if err := consumer.Subscribe(ctx, schema.ExchangeAudioOps, binding.key, binding.handler, broker.SubscribeOptions{}); err != nil {
			return err
		}
		s.logger.WithField("stage", stage).Info("Stage registered")
	}
	return nil
}

// jobTempDir returns a per-job scratch directory.
func (s *Service) jobTempDir(jobID string) (string, error) {
	dir := filepath.Join(s.tempDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// removeTemp drops scratch files, tolerating files already gone.
func (s *Service) removeTemp(paths ...string) {
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			s.logger.WithError(err).WithField("path", p).Warn("Temp cleanup failed")
		}
	}
}
