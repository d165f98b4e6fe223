package state

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundlane/audio-pipeline/internal/schema"
)

func TestInitAndGetJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, s.InitJob(ctx, "job-1", "user-1"))
	job, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, 0, job.Progress)
}

func TestGetStatusUnknownJob(t *testing.T) {
	s := NewMemoryStore()
	status, err := s.GetStatus(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, Status(""), status)
}

func TestMarkStepOnceIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.MarkStepOnce(ctx, "job-1", StepPostprocessTriggered)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkStepOnce(ctx, "job-1", StepPostprocessTriggered)
	require.NoError(t, err)
	assert.False(t, second)

	done, err := s.StepDone(ctx, "job-1", StepPostprocessTriggered)
	require.NoError(t, err)
	assert.True(t, done)
}

// Exactly one winner even under concurrent callers.
func TestMarkStepOnceConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkStepOnce(ctx, "job-1", StepPostprocessTriggered)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestSegmentCounter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	total, err := s.SegmentTotal(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	require.NoError(t, s.SetSegmentTotal(ctx, "job-1", 3))
	total, err = s.SegmentTotal(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	for want := 1; want <= 3; want++ {
		done, err := s.IncrSegmentsDone(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, want, done)
	}

	// Re-recording the total resets the counter.
	require.NoError(t, s.SetSegmentTotal(ctx, "job-1", 3))
	done, err := s.IncrSegmentsDone(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, done)
}

func TestTranscriptsAppendOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	records, err := s.Transcripts(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, s.AppendTranscript(ctx, "job-1", schema.TranscriptRecord{Index: 1, StartMS: 10000}))
	require.NoError(t, s.AppendTranscript(ctx, "job-1", schema.TranscriptRecord{Index: 0, StartMS: 0}))

	records, err = s.Transcripts(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Arrival order is preserved; ordering is the reader's concern.
	assert.Equal(t, 1, records[0].Index)
}

func TestUpdateProgressPublishesFrames(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	frames, cancel, err := s.SubscribeProgress(ctx, "job-1")
	require.NoError(t, err)

	require.NoError(t, s.UpdateProgress(ctx, "job-1", StatusProcessing, 45, "Processing 3 chunks..."))

	frame := <-frames
	assert.Equal(t, "job-1", frame.JobID)
	assert.Equal(t, string(StatusProcessing), frame.Status)
	assert.Equal(t, 45, frame.Progress)

	cancel()
	_, open := <-frames
	assert.False(t, open, "cancel must close the channel")
}

func TestSubscribersAreIndependent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, cancelA, err := s.SubscribeProgress(ctx, "job-1")
	require.NoError(t, err)
	defer cancelA()
	b, cancelB, err := s.SubscribeProgress(ctx, "job-1")
	require.NoError(t, err)
	cancelB()

	require.NoError(t, s.UpdateProgress(ctx, "job-1", StatusCompleted, 100, "done"))
	frame := <-a
	assert.Equal(t, 100, frame.Progress)
	select {
	case _, open := <-b:
		assert.False(t, open)
	default:
		t.Fatal("cancelled subscriber channel should be closed")
	}
}

func TestGoogleTokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	token, err := s.GetGoogleToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.SetGoogleToken(ctx, "user-1", "ya29.token"))
	token, err = s.GetGoogleToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", token)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusCancelling.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
}
