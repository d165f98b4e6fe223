package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// HandleEnhance triages one chunk by SNR and denoises it when the level
// calls for it. The published path is the enhanced object when denoising
// ran, otherwise the original chunk.
func (s *Service) HandleEnhance(ctx context.Context, body []byte) error {
	var cmd schema.EnhanceCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.enhance: %w", err)
	}
	logger := s.logger.WithFields(logrus.Fields{
		"job_id": cmd.JobID,
		"index":  cmd.Index,
	})

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, fmt.Sprintf("chunk_%04d.wav", cmd.Index))
	localOutput := filepath.Join(dir, fmt.Sprintf("chunk_%04d_denoised.wav", cmd.Index))
	defer s.removeTemp(localInput, localOutput)

	if err := s.store.Download(ctx, cmd.S3Path, localInput); err != nil {
		return err
	}

	report, err := s.engines.QualityChecker.Check(ctx, localInput)
	if err != nil {
		return fmt.Errorf("quality check job %s chunk %d: %w", cmd.JobID, cmd.Index, err)
	}
	logger.WithFields(logrus.Fields{
		"snr":   report.SNR,
		"level": report.Level,
	}).Info("Chunk quality assessed")

	outputPath := cmd.S3Path
	if report.NeedDenoise {
		if err := s.engines.Denoiser.Denoise(ctx, localInput, localOutput); err != nil {
			return fmt.Errorf("denoise job %s chunk %d: %w", cmd.JobID, cmd.Index, err)
		}
		outputPath = storage.EnhancedChunkKey(cmd.JobID, cmd.Index)
		if err := s.store.Upload(ctx, localOutput, outputPath); err != nil {
			return err
		}
	}

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteEnhancementDone,
		schema.EnhancementCompletedEvent{
			JobID:      cmd.JobID,
			Index:      cmd.Index,
			S3Path:     outputPath,
			SNR:        report.SNR,
			IsDenoised: report.NeedDenoise,
			StartMS:    cmd.StartMS,
			EndMS:      cmd.EndMS,
		})
}
