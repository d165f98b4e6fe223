package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// HandleTranscode renders the HLS rendition of the clean audio and
// uploads the playlist with its media segments.
func (s *Service) HandleTranscode(ctx context.Context, body []byte) error {
	var cmd schema.TranscodeCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.transcode: %w", err)
	}
	logger := s.logger.WithField("job_id", cmd.JobID)
	logger.Info("Transcoding to HLS")

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, "transcode_input.wav")
	hlsDir := filepath.Join(dir, "hls")
	defer s.removeTemp(localInput, hlsDir)

	if err := s.store.Download(ctx, cmd.InputPath, localInput); err != nil {
		return err
	}
	if err := os.MkdirAll(hlsDir, 0o755); err != nil {
		return err
	}
	if err := s.engines.Transcoder.GenerateHLS(ctx, localInput, hlsDir); err != nil {
		return fmt.Errorf("transcode job %s: %w", cmd.JobID, err)
	}

	entries, err := os.ReadDir(hlsDir)
	if err != nil {
		return err
	}
	prefix := storage.HLSPrefix(cmd.JobID)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := fmt.Sprintf("%s/%s", prefix, entry.Name())
		if err := s.store.Upload(ctx, filepath.Join(hlsDir, entry.Name()), key); err != nil {
			return err
		}
	}
	logger.WithField("files", len(entries)).Info("HLS rendition uploaded")

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteTranscodeDone,
		schema.TranscodeCompletedEvent{
			JobID:   cmd.JobID,
			HLSPath: storage.PlaylistKey(cmd.JobID),
		})
}
