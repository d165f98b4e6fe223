package state

import (
	"context"
	"sync"

	"github.com/soundlane/audio-pipeline/internal/schema"
)

type memoryJob struct {
	job         Job
	steps       map[string]bool
	total       int
	done        int
	transcripts []schema.TranscriptRecord
}

// MemoryStore is an in-process Store for tests and local development. It
// honors the same atomicity contract as the Redis implementation: step
// marks are check-and-set and the done counter increments under the lock.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]*memoryJob
	subs   map[string][]chan schema.ProgressFrame
	tokens map[string]string
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*memoryJob),
		subs:   make(map[string][]chan schema.ProgressFrame),
		tokens: make(map[string]string),
	}
}

func (s *MemoryStore) getOrCreate(jobID string) *memoryJob {
	j, ok := s.jobs[jobID]
	if !ok {
		j = &memoryJob{
			job:   Job{JobID: jobID},
			steps: make(map[string]bool),
		}
		s.jobs[jobID] = j
	}
	return j
}

// InitJob creates the job record.
func (s *MemoryStore) InitJob(_ context.Context, jobID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.getOrCreate(jobID)
	j.job.UserID = userID
	j.job.Status = StatusQueued
	j.job.Progress = 0
	j.job.Message = "Starting..."
	return nil
}

// GetJob returns the job record, or ErrJobNotFound.
func (s *MemoryStore) GetJob(_ context.Context, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok || j.job.Status == "" {
		return Job{}, ErrJobNotFound
	}
	return j.job, nil
}

// GetStatus returns the job status, "" when unknown.
func (s *MemoryStore) GetStatus(_ context.Context, jobID string) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return "", nil
	}
	return j.job.Status, nil
}

// UpdateProgress writes the record and fans the frame out to subscribers.
func (s *MemoryStore) UpdateProgress(_ context.Context, jobID string, status Status, progress int, message string) error {
	s.mu.Lock()
	j := s.getOrCreate(jobID)
	j.job.Status = status
	j.job.Progress = progress
	j.job.Message = message
	frame := schema.ProgressFrame{
		JobID:    jobID,
		Status:   string(status),
		Progress: progress,
		Message:  message,
	}
	subs := append([]chan schema.ProgressFrame(nil), s.subs[jobID]...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- frame:
		default: // slow subscribers recover from the job record
		}
	}
	return nil
}

// MarkStep records a step unconditionally.
func (s *MemoryStore) MarkStep(_ context.Context, jobID, step string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(jobID).steps[step] = true
	return nil
}

// MarkStepOnce records a step, reporting whether this caller was first.
func (s *MemoryStore) MarkStepOnce(_ context.Context, jobID, step string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.getOrCreate(jobID)
	if j.steps[step] {
		return false, nil
	}
	j.steps[step] = true
	return true, nil
}

// StepDone reports whether a step has been recorded.
func (s *MemoryStore) StepDone(_ context.Context, jobID, step string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	return j.steps[step], nil
}

// SetSegmentTotal stores the chunk count and resets the done counter.
func (s *MemoryStore) SetSegmentTotal(_ context.Context, jobID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.getOrCreate(jobID)
	j.total = total
	j.done = 0
	return nil
}

// IncrSegmentsDone increments the done counter under the lock.
func (s *MemoryStore) IncrSegmentsDone(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.getOrCreate(jobID)
	j.done++
	return j.done, nil
}

// SegmentTotal returns the stored total, 0 when unset.
func (s *MemoryStore) SegmentTotal(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return 0, nil
	}
	return j.total, nil
}

// AppendTranscript appends one recognition record.
func (s *MemoryStore) AppendTranscript(_ context.Context, jobID string, rec schema.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.getOrCreate(jobID)
	j.transcripts = append(j.transcripts, rec)
	return nil
}

// Transcripts returns a copy of the per-job recognition list.
func (s *MemoryStore) Transcripts(_ context.Context, jobID string) ([]schema.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return append([]schema.TranscriptRecord(nil), j.transcripts...), nil
}

// SubscribeProgress registers a buffered subscriber channel.
func (s *MemoryStore) SubscribeProgress(_ context.Context, jobID string) (<-chan schema.ProgressFrame, func(), error) {
	ch := make(chan schema.ProgressFrame, 16)
	s.mu.Lock()
	s.subs[jobID] = append(s.subs[jobID], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[jobID]
		for i, sub := range subs {
			if sub == ch {
				s.subs[jobID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel, nil
}

// SetGoogleToken stores an opaque editor credential.
func (s *MemoryStore) SetGoogleToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return nil
}

// GetGoogleToken returns the stored credential, "" when absent.
func (s *MemoryStore) GetGoogleToken(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[userID], nil
}
