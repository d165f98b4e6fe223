package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// HandlePreprocess normalizes the raw upload to 16 kHz mono WAV. The
// command's input path is a prefix; the first listed file under it is the
// authoritative input.
func (s *Service) HandlePreprocess(ctx context.Context, body []byte) error {
	var cmd schema.PreprocessCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.preprocess: %w", err)
	}
	logger := s.logger.WithField("job_id", cmd.JobID)
	logger.Info("Preprocessing upload")

	files, err := s.store.ListFiles(ctx, cmd.InputPath)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files under prefix %s: %w", cmd.InputPath, storage.ErrNotFound)
	}
	inputKey := files[0]

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, "input")
	localOutput := filepath.Join(dir, "clean.wav")
	defer s.removeTemp(localInput, localOutput)

	if err := s.store.Download(ctx, inputKey, localInput); err != nil {
		return err
	}
	if err := s.engines.Normalizer.Normalize(ctx, localInput, localOutput); err != nil {
		return fmt.Errorf("normalize job %s: %w", cmd.JobID, err)
	}

	outputKey := storage.CleanAudioKey(cmd.JobID)
	if err := s.store.Upload(ctx, localOutput, outputKey); err != nil {
		return err
	}

	logger.WithField("key", outputKey).Info("Preprocess complete")
	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RoutePreprocessDone,
		schema.PreprocessCompletedEvent{
			JobID:          cmd.JobID,
			CleanAudioPath: outputKey,
		})
}
