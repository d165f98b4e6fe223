// Package transcript propagates external edits of a finished transcript
// back into the object store.
package transcript

import (
	"context"
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

// Syncer rewrites the stored transcript artifacts after an edit. Writes
// happen in a fixed order, each through a temp-file-then-upload sequence,
// so a failure partway leaves the prior artifacts intact. Concurrent
// edits of the same job are serialized by the caller.
type Syncer struct {
	store   storage.Store
	tempDir string
	logger  *logrus.Entry
}

// NewSyncer wires a Syncer. tempDir defaults to the system temp dir.
func NewSyncer(store storage.Store, tempDir string) *Syncer {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "audio-pipeline")
	}
	return &Syncer{
		store:   store,
		tempDir: tempDir,
		logger:  logrus.WithField("component", "transcript-sync"),
	}
}

// Sync replaces the aligned transcript of a job with the edited segments.
// Artifacts are written in order: metadata JSON (merged with the prior
// record, or a fresh one when none exists), flat TXT, analysis JSON.
func (s *Syncer) Sync(ctx context.Context, jobID string, segments []align.Segment) error {
	logger := s.logger.WithField("job_id", jobID)

	var metadata schema.JobMetadata
	err := s.store.ReadJSON(ctx, storage.MetadataKey(jobID), &metadata)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.Warn("No metadata record, constructing fresh one")
		metadata = schema.JobMetadata{
			JobID:  jobID,
			Status: "completed",
			Assets: schema.JobAssets{
				HLS:      storage.PlaylistKey(jobID),
				TextFile: storage.TranscriptTextKey(jobID),
			},
		}
	case err != nil:
		return fmt.Errorf("read metadata for job %s: %w", jobID, err)
	}
	metadata.ProcessedAt = time.Now().UTC().Format(time.RFC3339)
	metadata.Results.TranscriptAligned = segments

	if err := s.store.WriteJSON(ctx, storage.MetadataKey(jobID), metadata); err != nil {
		return fmt.Errorf("write metadata for job %s: %w", jobID, err)
	}
	if err := s.writeText(ctx, jobID, segments); err != nil {
		return fmt.Errorf("write transcript text for job %s: %w", jobID, err)
	}
	if err := s.store.WriteJSON(ctx, storage.TranscriptFinalKey(jobID), segments); err != nil {
		return fmt.Errorf("write analysis transcript for job %s: %w", jobID, err)
	}

	logger.WithField("segments", len(segments)).Info("Transcript artifacts rewritten")
	return nil
}

func (s *Syncer) writeText(ctx context.Context, jobID string, segments []align.Segment) error {
	var b strings.Builder
	fmt.Fprintf(&b, "TRANSCRIPT FOR JOB: %s\n\n", jobID)
	for _, seg := range segments {
		total := int(seg.Start)
		fmt.Fprintf(&b, "[%02d:%02d] %s\n", total/60, total%60, seg.Text)
	}

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.tempDir, "transcript-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return s.store.Upload(ctx, tmp.Name(), storage.TranscriptTextKey(jobID))
}
