package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/soundlane/audio-pipeline/internal/schema"
)

// HandleDiarize runs speaker diarization over the full clean audio.
func (s *Service) HandleDiarize(ctx context.Context, body []byte) error {
	var cmd schema.DiarizeCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.diarize: %w", err)
	}
	logger := s.logger.WithField("job_id", cmd.JobID)
	logger.Info("Diarizing audio")

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, "diarize.wav")
	defer s.removeTemp(localInput)

	if err := s.store.Download(ctx, cmd.InputPath, localInput); err != nil {
		return err
	}

	turns, err := s.engines.Diarizer.Diarize(ctx, localInput)
	if err != nil {
		return fmt.Errorf("diarize job %s: %w", cmd.JobID, err)
	}
	logger.WithField("turns", len(turns)).Info("Diarization complete")

	speakerTurns := make([]schema.SpeakerTurn, 0, len(turns))
	for _, t := range turns {
		speakerTurns = append(speakerTurns, schema.SpeakerTurn{
			Speaker: t.Speaker,
			Start:   t.Start,
			End:     t.End,
		})
	}

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteDiarizationDone,
		schema.DiarizationCompletedEvent{
			JobID:        cmd.JobID,
			SpeakerTurns: speakerTurns,
		})
}
