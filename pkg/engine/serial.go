package engine

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/soundlane/audio-pipeline/internal/align"
)

// SerialRecognizer serializes calls into a model that is not safe to run
// concurrently on one device. Horizontal scaling happens by adding worker
// processes, not by widening this semaphore.
type SerialRecognizer struct {
	inner Recognizer
	sem   *semaphore.Weighted
}

// NewSerialRecognizer wraps a Recognizer with a single-slot semaphore.
func NewSerialRecognizer(inner Recognizer) *SerialRecognizer {
	return &SerialRecognizer{
		inner: inner,
		sem:   semaphore.NewWeighted(1),
	}
}

// Transcribe acquires the slot, runs the model, and releases it.
func (r *SerialRecognizer) Transcribe(ctx context.Context, inputPath, language string) ([]align.Word, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)
	return r.inner.Transcribe(ctx, inputPath, language)
}
