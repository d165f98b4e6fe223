package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/schema"
)

// HandleLangDetect identifies the spoken language of one chunk. A failed
// detection is not fatal to the chunk: the recognizer accepts an empty
// language and autodetects.
func (s *Service) HandleLangDetect(ctx context.Context, body []byte) error {
	var cmd schema.LanguageDetectCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.lang_detect: %w", err)
	}

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, fmt.Sprintf("lang_%04d.wav", cmd.Index))
	defer s.removeTemp(localInput)

	if err := s.store.Download(ctx, cmd.InputPath, localInput); err != nil {
		return err
	}

	language, probability, err := s.engines.LanguageDetector.Detect(ctx, localInput)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": cmd.JobID,
			"index":  cmd.Index,
		}).Warn("Language detection failed, deferring to recognizer")
		language, probability = "", 0
	}

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteLangDetectDone,
		schema.LanguageDetectionCompletedEvent{
			JobID:       cmd.JobID,
			Language:    language,
			Probability: probability,
			Index:       cmd.Index,
			InputPath:   cmd.InputPath,
			StartMS:     cmd.StartMS,
			EndMS:       cmd.EndMS,
		})
}
