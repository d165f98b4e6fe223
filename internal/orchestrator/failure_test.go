package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
)

type recordingNotifier struct {
	userIDs []string
	titles  []string
}

func (n *recordingNotifier) Notify(_ context.Context, userID, title, _ string) error {
	n.userIDs = append(n.userIDs, userID)
	n.titles = append(n.titles, title)
	return nil
}

type failureFixture struct {
	handler   *FailureHandler
	publisher *fakePublisher
	state     *state.MemoryStore
	store     *storage.MemoryStore
	notifier  *recordingNotifier
}

func newFailureFixture() *failureFixture {
	publisher := &fakePublisher{}
	st := state.NewMemoryStore()
	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	return &failureFixture{
		handler:   NewFailureHandler(st, store, publisher, notifier),
		publisher: publisher,
		state:     st,
		store:     store,
		notifier:  notifier,
	}
}

func (f *failureFixture) seedJob(t *testing.T, jobID string) {
	t.Helper()
	require.NoError(t, f.state.InitJob(context.Background(), jobID, "user-1"))
	f.store.Put(storage.CleanAudioKey(jobID), []byte("wav"))
	f.store.Put(storage.ChunkKey(jobID, 0), []byte("wav"))
	f.store.Put(storage.MetadataKey(jobID), []byte("{}"))
	f.store.Put(storage.PlaylistKey(jobID), []byte("#EXTM3U"))
}

func TestTerminateJobFailed(t *testing.T) {
	f := newFailureFixture()
	f.seedJob(t, "job-1")
	ctx := context.Background()

	require.NoError(t, f.handler.TerminateJob(ctx, "job-1", state.StatusFailed, "model crashed"))

	job, err := f.state.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Equal(t, "model crashed", job.Message)

	events := f.publisher.byKey(schema.RouteJobFailed)
	require.Len(t, events, 1)
	assert.Equal(t, schema.ExchangeAudioEvents, events[0].Exchange)

	// Cleanup sweeps every job-owned prefix, results included.
	keys, err := f.store.ListFiles(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Equal(t, []string{"user-1"}, f.notifier.userIDs)
}

func TestTerminateJobCancelledPublishesCancellingFirst(t *testing.T) {
	f := newFailureFixture()
	f.seedJob(t, "job-1")
	ctx := context.Background()

	frames, cancel, err := f.state.SubscribeProgress(ctx, "job-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, f.handler.TerminateJob(ctx, "job-1", state.StatusCancelled, "Cancelled by user"))

	first := <-frames
	assert.Equal(t, string(state.StatusCancelling), first.Status)
	second := <-frames
	assert.Equal(t, string(state.StatusCancelled), second.Status)

	require.Len(t, f.publisher.byKey(schema.RouteJobCancelled), 1)
}

func TestHandleDLQMessageTerminates(t *testing.T) {
	f := newFailureFixture()
	f.seedJob(t, "job-1")
	ctx := context.Background()

	require.NoError(t, f.handler.HandleDLQMessage(ctx, []byte(`{"job_id":"job-1","index":2}`)))

	job, err := f.state.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Equal(t, "System Error: Processing failed and rolled back.", job.Message)
}

func TestHandleDLQMessageWithoutJobIDIsDropped(t *testing.T) {
	f := newFailureFixture()
	require.NoError(t, f.handler.HandleDLQMessage(context.Background(), []byte(`{"other":"x"}`)))
	assert.Empty(t, f.publisher.entries)
}

func TestHandleCancelCommandDefaultReason(t *testing.T) {
	f := newFailureFixture()
	f.seedJob(t, "job-1")
	ctx := context.Background()

	require.NoError(t, f.handler.HandleCancelCommand(ctx, []byte(`{"job_id":"job-1"}`)))

	job, err := f.state.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, job.Status)
	assert.Equal(t, "Cancelled by user", job.Message)
}

func TestHandleCancelCommandWithoutJobIDIsError(t *testing.T) {
	f := newFailureFixture()
	require.Error(t, f.handler.HandleCancelCommand(context.Background(), []byte(`{}`)))
}
