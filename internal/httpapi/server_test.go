package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/state"
	"github.com/soundlane/audio-pipeline/internal/storage"
	"github.com/soundlane/audio-pipeline/internal/transcript"
)

type published struct {
	Exchange string
	Key      string
	Message  any
}

type fakePublisher struct {
	mu      sync.Mutex
	entries []published
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, published{Exchange: exchange, Key: routingKey, Message: message})
	return nil
}

type fixture struct {
	router    *gin.Engine
	state     *state.MemoryStore
	store     *storage.MemoryStore
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := state.NewMemoryStore()
	store := storage.NewMemoryStore()
	publisher := &fakePublisher{}
	server := NewServer(st, store, publisher, transcript.NewSyncer(store, t.TempDir()))
	return &fixture{router: server.Router(), state: st, store: store, publisher: publisher}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUploadIssuesURLAndStartsJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/uploads", `{"user_id":"user-1","filename":"talk.mp3"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID     string `json:"job_id"`
		UploadURL string `json:"upload_url"`
		Key       string `json:"key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	assert.NotEmpty(t, resp.UploadURL)
	assert.True(t, strings.HasPrefix(resp.Key, "raw/"))
	assert.True(t, strings.HasSuffix(resp.Key, "/talk.mp3"))

	job, err := f.state.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, job.Status)

	require.Len(t, f.publisher.entries, 1)
	event := f.publisher.entries[0].Message.(schema.FileUploadedEvent)
	assert.Equal(t, resp.JobID, event.JobID)
	assert.True(t, strings.HasSuffix(event.StoragePath, "/"))
}

func TestUploadRejectsMissingFields(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/uploads", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProgressSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.state.InitJob(ctx, "job-1", "user-1"))
	require.NoError(t, f.state.UpdateProgress(ctx, "job-1", state.StatusProcessing, 45, "Processing 3 chunks..."))

	w := f.do(http.MethodGet, "/progress/job-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var job state.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, state.StatusProcessing, job.Status)
	assert.Equal(t, 45, job.Progress)
}

func TestProgressUnknownJobIs404(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/progress/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// A stream opened on an already-terminal job delivers the final frame and
// closes immediately.
func TestProgressStreamTerminalOnSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.state.InitJob(ctx, "job-1", "user-1"))
	require.NoError(t, f.state.UpdateProgress(ctx, "job-1", state.StatusCompleted, 100, "done"))

	w := f.do(http.MethodGet, "/progress/job-1/stream", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, w.Body.String(), `"status":"COMPLETED"`)
	assert.Contains(t, w.Body.String(), `"progress":100`)
}

func TestProgressStreamUnknownJobIs404(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/progress/nope/stream", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelPublishesCommand(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/jobs/job-1/cancel", `{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, f.publisher.entries, 1)
	assert.Equal(t, schema.ExchangeMediaCommands, f.publisher.entries[0].Exchange)
	assert.Equal(t, schema.RouteCmdCancel, f.publisher.entries[0].Key)
	cmd := f.publisher.entries[0].Message.(schema.CancelCommand)
	assert.Equal(t, "job-1", cmd.JobID)
	assert.Equal(t, "changed my mind", cmd.Reason)
}

func TestTranscriptEditRewritesArtifacts(t *testing.T) {
	f := newFixture(t)

	body := `{"segments":[{"speaker":"SPEAKER_00","start":0,"end":3,"text":"edited"}]}`
	w := f.do(http.MethodPut, "/jobs/job-1/transcript", body)
	require.Equal(t, http.StatusOK, w.Code)

	var metadata schema.JobMetadata
	require.NoError(t, f.store.ReadJSON(context.Background(), storage.MetadataKey("job-1"), &metadata))
	require.Len(t, metadata.Results.TranscriptAligned, 1)
	assert.Equal(t, "edited", metadata.Results.TranscriptAligned[0].Text)

	_, ok := f.store.Get(storage.TranscriptTextKey("job-1"))
	assert.True(t, ok)
	_, ok = f.store.Get(storage.TranscriptFinalKey("job-1"))
	assert.True(t, ok)
}

func TestTranscriptEditRejectsMissingSegments(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPut, "/jobs/job-1/transcript", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
