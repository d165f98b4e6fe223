package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/soundlane/audio-pipeline/internal/align"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

// HandleRecognize transcribes one chunk and uploads its word list with
// chunk-local timing. The event carries the joined text; word-level data
// travels through the object store only.
func (s *Service) HandleRecognize(ctx context.Context, body []byte) error {
	var cmd schema.RecognizeCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("decode cmd.recognize: %w", err)
	}
	logger := s.logger.WithFields(logrus.Fields{
		"job_id": cmd.JobID,
		"index":  cmd.Index,
	})

	dir, err := s.jobTempDir(cmd.JobID)
	if err != nil {
		return err
	}
	localInput := filepath.Join(dir, fmt.Sprintf("rec_%04d.wav", cmd.Index))
	defer s.removeTemp(localInput)

	if err := s.store.Download(ctx, cmd.InputPath, localInput); err != nil {
		return err
	}

	words, err := s.engines.Recognizer.Transcribe(ctx, localInput, cmd.Language)
	if err != nil {
		return fmt.Errorf("transcribe job %s chunk %d: %w", cmd.JobID, cmd.Index, err)
	}
	if words == nil {
		words = []align.Word{}
	}

	transcriptKey := storage.TranscriptChunkKey(cmd.JobID, cmd.Index)
	if err := s.store.WriteJSON(ctx, transcriptKey, words); err != nil {
		return err
	}

	texts := make([]string, 0, len(words))
	for _, w := range words {
		texts = append(texts, w.Word)
	}
	confidence := 0.0
	if len(words) > 0 {
		confidence = 1.0
	}
	logger.WithField("words", len(words)).Info("Chunk recognized")

	return s.producer.Publish(ctx, schema.ExchangeWorkerEvents, schema.RouteRecognitionDone,
		schema.RecognitionCompletedEvent{
			JobID:            cmd.JobID,
			Index:            cmd.Index,
			Text:             strings.Join(texts, " "),
			Confidence:       confidence,
			StartMS:          cmd.StartMS,
			EndMS:            cmd.EndMS,
			TranscriptS3Path: transcriptKey,
		})
}
