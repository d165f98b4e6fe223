package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/align"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// HandlePostProcess builds the final transcript. It merges every chunk's
// word list into global time, aligns the words against the diarization,
// and writes the job metadata plus a human-readable text rendition.
func (s *Service) HandlePostProcess(ctx context.Context, body []byte) error {
	var cmd schema.PostProcessCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.postprocess: %w", err)
	}
	logger := s.logger.WithField("job_id", cmd.JobID)
	logger.Info("Postprocessing transcript")

	var records []schema.TranscriptRecord
	if err := s.store.ReadJSON(ctx, storage.ManifestKey(cmd.JobID), &records); err != nil {
		return fmt.Errorf("read manifest for job %s: %w", cmd.JobID, err)
	}

	words, err := s.mergeWords(ctx, cmd.JobID, records)
	if err != nil {
		return err
	}

	// A job may legitimately have no diarization yet when the file held a
	// single speaker and the model emitted nothing. Missing means empty.
	var turns []schema.SpeakerTurn
	if err := s.store.ReadJSON(ctx, storage.DiarizationKey(cmd.JobID), &turns); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		logger.Warn("No diarization found, aligning without speakers")
	}
	alignTurns := make([]align.Turn, 0, len(turns))
	for _, t := range turns {
		alignTurns = append(alignTurns, align.Turn{Speaker: t.Speaker, Start: t.Start, End: t.End})
	}

	segments := align.Align(words, alignTurns)
	logger.WithFields(logrus.Fields{
		"words":    len(words),
		"segments": len(segments),
	}).Info("Transcript aligned")

	metadata := schema.JobMetadata{
		JobID:       cmd.JobID,
		Status:      "completed",
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		Assets: schema.JobAssets{
			Original: fmt.Sprintf("raw/%s/input.wav", cmd.JobID),
			HLS:      storage.PlaylistKey(cmd.JobID),
			TextFile: storage.TranscriptTextKey(cmd.JobID),
		},
		Results: schema.JobResults{TranscriptAligned: segments},
	}
	metadataKey := storage.MetadataKey(cmd.JobID)
	if err := s.store.WriteJSON(ctx, metadataKey, metadata); err != nil {
		return err
	}
	if err := s.writeTranscriptText(ctx, cmd.JobID, segments); err != nil {
		return err
	}

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteJobFinalized,
		schema.JobCompletedEvent{
			JobID:        cmd.JobID,
			MetadataPath: metadataKey,
			Status:       "success",
		})
}

// mergeWords loads every chunk's word list and shifts it from chunk-local
// to global seconds using the manifest offsets.
func (s *Service) mergeWords(ctx context.Context, jobID string, records []schema.TranscriptRecord) ([]align.Word, error) {
	var merged []align.Word
	for _, rec := range records {
		var words []align.Word
		if err := s.store.ReadJSON(ctx, rec.TranscriptS3Path, &words); err != nil {
			return nil, fmt.Errorf("read transcript chunk %d of job %s: %w", rec.Index, jobID, err)
		}
		offset := float64(rec.StartMS) / 1000.0
		for _, w := range words {
			merged = append(merged, align.Word{
				Word:  w.Word,
				Start: w.Start + offset,
				End:   w.End + offset,
			})
		}
	}
	return merged, nil
}

// writeTranscriptText renders the aligned segments as a flat text file
// with [mm:ss] timestamps.
func (s *Service) writeTranscriptText(ctx context.Context, jobID string, segments []align.Segment) error {
	var b strings.Builder
	fmt.Fprintf(&b, "TRANSCRIPT FOR JOB: %s\n\n", jobID)
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatTimestamp(seg.Start), seg.Speaker, seg.Text)
	}

	dir, err := s.jobTempDir(jobID)
	if err != nil {
		return err
	}
	localPath := filepath.Join(dir, "transcript.txt")
	defer s.removeTemp(localPath)
	if err := os.WriteFile(localPath, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return s.store.Upload(ctx, localPath, storage.TranscriptTextKey(jobID))
}

// formatTimestamp renders seconds as mm:ss, minutes uncapped.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
