// Package state tracks per-job progress across stateless workers. All
// mutating operations are safe under at-least-once delivery: step marks
// are check-and-set, the segment counter is atomic, and the transcript
// list is append-only.
package state

import (
	"context"
	"errors"

	"github.com/soundlane/audio-pipeline/internal/schema"
)

// ErrJobNotFound is returned when a job hash is absent or expired.
var ErrJobNotFound = errors.New("job not found")

// Status enumerates the orchestrator state machine.
type Status string

const (
	StatusQueued         Status = "QUEUED"
	StatusPreprocessing  Status = "PREPROCESSING"
	StatusSegmenting     Status = "SEGMENTING"
	StatusProcessing     Status = "PROCESSING"
	StatusPostProcessing Status = "POST_PROCESSING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
	StatusCancelling     Status = "CANCELLING"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step keys of the per-job step set. Once set, never cleared.
const (
	StepPreprocess           = "preprocess"
	StepSegmentingTrigger    = "segmenting_trigger"
	StepSegmentDone          = "segment_done"
	StepTranscodeTrigger     = "transcode_trigger"
	StepTranscode            = "transcode"
	StepDiarization          = "diarization"
	StepRecognitionAll       = "recognition_all"
	StepPostprocessTriggered = "postprocess_triggered"
)

// Job is the mutable per-job record.
type Job struct {
	JobID    string `json:"job_id"`
	UserID   string `json:"user_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// Store is the durable job-state surface. The orchestrator may run as
// multiple replicas as long as MarkStepOnce and IncrDone stay atomic.
type Store interface {
	// InitJob creates the job hash with a TTL. Does not publish progress.
	InitJob(ctx context.Context, jobID, userID string) error

	// GetJob returns the job record, or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (Job, error)

	// GetStatus returns the job status, or "" when the job is unknown.
	GetStatus(ctx context.Context, jobID string) (Status, error)

	// UpdateProgress writes status/progress/message and publishes a frame
	// on the per-job progress channel.
	UpdateProgress(ctx context.Context, jobID string, status Status, progress int, message string) error

	// MarkStep records a step as done unconditionally.
	MarkStep(ctx context.Context, jobID, step string) error

	// MarkStepOnce records a step and reports whether this caller was the
	// first to do so. This is the fan-in compare-and-set.
	MarkStepOnce(ctx context.Context, jobID, step string) (bool, error)

	// StepDone reports whether a step has been recorded.
	StepDone(ctx context.Context, jobID, step string) (bool, error)

	// SetSegmentTotal stores the chunk count and resets the done counter.
	SetSegmentTotal(ctx context.Context, jobID string, total int) error

	// IncrSegmentsDone atomically increments the done counter and returns
	// the new value.
	IncrSegmentsDone(ctx context.Context, jobID string) (int, error)

	// SegmentTotal returns the stored total, 0 when unset.
	SegmentTotal(ctx context.Context, jobID string) (int, error)

	// AppendTranscript appends one recognition record to the per-job list.
	AppendTranscript(ctx context.Context, jobID string, rec schema.TranscriptRecord) error

	// Transcripts returns the full per-job recognition list.
	Transcripts(ctx context.Context, jobID string) ([]schema.TranscriptRecord, error)

	// SubscribeProgress delivers frames published for a job. The returned
	// cancel func releases the subscription.
	SubscribeProgress(ctx context.Context, jobID string) (<-chan schema.ProgressFrame, func(), error)
}

// TokenStore holds opaque per-user credentials with a TTL, used by the
// transcript editor integration.
type TokenStore interface {
	SetGoogleToken(ctx context.Context, userID, token string) error
	GetGoogleToken(ctx context.Context, userID string) (string, error)
}
