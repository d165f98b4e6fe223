package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// HandleSegment splits the clean audio into non-silent chunks of at most
// 60 seconds and uploads each one.
func (s *Service) HandleSegment(ctx context.Context, body []byte) error {
	var cmd schema.SegmentCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.segment: %w", err)
	}
	logger := s.logger.WithField("job_id", cmd.JobID)
	logger.Info("Segmenting audio")

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, "input.wav")
	chunksDir := filepath.Join(dir, "chunks")
	defer s.removeTemp(localInput, chunksDir)

	if err := s.store.Download(ctx, cmd.InputPath, localInput); err != nil {
		return err
	}

	chunks, err := s.engines.Splitter.Split(ctx, localInput, chunksDir)
	if err != nil {
		return fmt.Errorf("split job %s: %w", cmd.JobID, err)
	}
	logger.WithField("chunks", len(chunks)).Info("Audio split")

	segments := make([]schema.SegmentInfo, 0, len(chunks))
	for _, chunk := range chunks {
		key := storage.ChunkKey(cmd.JobID, chunk.Index)
		if err := s.store.Upload(ctx, chunk.LocalPath, key); err != nil {
			return err
		}
		segments = append(segments, schema.SegmentInfo{
			Index:   chunk.Index,
			S3Path:  key,
			StartMS: chunk.StartMS,
			EndMS:   chunk.EndMS,
		})
	}

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteSegmentDone,
		schema.SegmentCompletedEvent{
			JobID:     cmd.JobID,
			AudioPath: cmd.InputPath,
			Segments:  segments,
		})
}
