package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundlane/audio-pipeline/internal/align"
	"github.com/soundlane/audio-pipeline/internal/schema"
	"github.com/soundlane/audio-pipeline/internal/storage"
	"github.com/soundlane/audio-pipeline/pkg/engine"
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

func (p *fakePublisher) last(t *testing.T) published {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.entries)
	return p.entries[len(p.entries)-1]
}

// stubChecker returns a fixed quality report.
type stubChecker struct {
	report engine.QualityReport
}

func (c stubChecker) Check(_ context.Context, _ string) (engine.QualityReport, error) {
	return c.report, nil
}

// stubSplitter emits fixed chunks backed by real temp files.
type stubSplitter struct {
	chunks int
}

func (s stubSplitter) Split(_ context.Context, _ string, outputDir string) ([]engine.Chunk, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	out := make([]engine.Chunk, s.chunks)
	for i := range out {
		name := fmt.Sprintf("chunk_%04d.wav", i)
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, []byte("wav"), 0o644); err != nil {
			return nil, err
		}
		out[i] = engine.Chunk{
			Index:     i,
			Filename:  name,
			LocalPath: path,
			StartMS:   i * 10000,
			EndMS:     i*10000 + 9000,
		}
	}
	return out, nil
}

func newTestService(t *testing.T, engines Engines) (*Service, *storage.MemoryStore, *fakePublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	publisher := &fakePublisher{}
	return NewService(store, publisher, engines, t.TempDir()), store, publisher
}

func TestHandlePreprocess(t *testing.T) {
	svc, store, publisher := newTestService(t, MockEngines())
	ctx := context.Background()
	store.Put("raw/2026-08-24/job-1/input.mp3", []byte("audio"))

	require.NoError(t, svc.HandlePreprocess(ctx, []byte(`{"job_id":"job-1","input_path":"raw/2026-08-24/job-1/"}`)))

	_, ok := store.Get(storage.CleanAudioKey("job-1"))
	assert.True(t, ok)

	event := publisher.last(t)
	assert.Equal(t, schema.RoutePreprocessDone, event.Key)
	assert.Equal(t, storage.CleanAudioKey("job-1"),
		event.Message.(schema.PreprocessCompletedEvent).CleanAudioPath)
}

func TestHandlePreprocessMissingInput(t *testing.T) {
	svc, _, publisher := newTestService(t, MockEngines())
	err := svc.HandlePreprocess(context.Background(), []byte(`{"job_id":"job-1","input_path":"raw/2026-08-24/job-1/"}`))
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, publisher.entries)
}

func TestHandleSegment(t *testing.T) {
	engines := MockEngines()
	engines.Splitter = stubSplitter{chunks: 3}
	svc, store, publisher := newTestService(t, engines)
	ctx := context.Background()
	store.Put(storage.CleanAudioKey("job-1"), []byte("wav"))

	require.NoError(t, svc.HandleSegment(ctx, []byte(`{"job_id":"job-1","input_path":"clean/job-1/audio.wav"}`)))

	for i := 0; i < 3; i++ {
		_, ok := store.Get(storage.ChunkKey("job-1", i))
		assert.True(t, ok, "chunk %d missing", i)
	}

	event := publisher.last(t).Message.(schema.SegmentCompletedEvent)
	require.Len(t, event.Segments, 3)
	assert.Equal(t, storage.CleanAudioKey("job-1"), event.AudioPath)
	assert.Equal(t, 10000, event.Segments[1].StartMS)
}

func TestHandleDiarize(t *testing.T) {
	svc, store, publisher := newTestService(t, MockEngines())
	ctx := context.Background()
	store.Put(storage.CleanAudioKey("job-1"), []byte("wav"))

	require.NoError(t, svc.HandleDiarize(ctx, []byte(`{"job_id":"job-1","input_path":"clean/job-1/audio.wav"}`)))

	event := publisher.last(t).Message.(schema.DiarizationCompletedEvent)
	require.Len(t, event.SpeakerTurns, 1)
	assert.Equal(t, "SPEAKER_00", event.SpeakerTurns[0].Speaker)
}

func TestHandleEnhanceCleanChunkPassesThrough(t *testing.T) {
	engines := MockEngines()
	engines.QualityChecker = stubChecker{report: engine.QualityReport{SNR: 22, Level: engine.LevelVeryClean}}
	svc, store, publisher := newTestService(t, engines)
	ctx := context.Background()
	store.Put(storage.ChunkKey("job-1", 0), []byte("wav"))

	cmd := schema.EnhanceCommand{JobID: "job-1", Index: 0, S3Path: storage.ChunkKey("job-1", 0), EndMS: 9000}
	body, _ := json.Marshal(cmd)
	require.NoError(t, svc.HandleEnhance(ctx, body))

	event := publisher.last(t).Message.(schema.EnhancementCompletedEvent)
	assert.False(t, event.IsDenoised)
	assert.Equal(t, storage.ChunkKey("job-1", 0), event.S3Path)
	_, ok := store.Get(storage.EnhancedChunkKey("job-1", 0))
	assert.False(t, ok, "clean chunk must not be re-uploaded")
}

func TestHandleEnhanceNoisyChunkIsDenoised(t *testing.T) {
	engines := MockEngines()
	engines.QualityChecker = stubChecker{report: engine.QualityReport{SNR: 3, Level: engine.LevelHeavyNoise, NeedDenoise: true}}
	svc, store, publisher := newTestService(t, engines)
	ctx := context.Background()
	store.Put(storage.ChunkKey("job-1", 0), []byte("wav"))

	cmd := schema.EnhanceCommand{JobID: "job-1", Index: 0, S3Path: storage.ChunkKey("job-1", 0), EndMS: 9000}
	body, _ := json.Marshal(cmd)
	require.NoError(t, svc.HandleEnhance(ctx, body))

	event := publisher.last(t).Message.(schema.EnhancementCompletedEvent)
	assert.True(t, event.IsDenoised)
	assert.Equal(t, storage.EnhancedChunkKey("job-1", 0), event.S3Path)
	_, ok := store.Get(storage.EnhancedChunkKey("job-1", 0))
	assert.True(t, ok)
}

func TestHandleLangDetect(t *testing.T) {
	svc, store, publisher := newTestService(t, MockEngines())
	ctx := context.Background()
	store.Put(storage.ChunkKey("job-1", 2), []byte("wav"))

	cmd := schema.LanguageDetectCommand{JobID: "job-1", InputPath: storage.ChunkKey("job-1", 2), Index: 2, StartMS: 20000, EndMS: 29000}
	body, _ := json.Marshal(cmd)
	require.NoError(t, svc.HandleLangDetect(ctx, body))

	event := publisher.last(t).Message.(schema.LanguageDetectionCompletedEvent)
	assert.Equal(t, "en", event.Language)
	assert.Equal(t, 1.0, event.Probability)
	assert.Equal(t, storage.ChunkKey("job-1", 2), event.InputPath)
	assert.Equal(t, 20000, event.StartMS)
}

func TestHandleRecognize(t *testing.T) {
	svc, store, publisher := newTestService(t, MockEngines())
	ctx := context.Background()
	store.Put(storage.ChunkKey("job-1", 0), []byte("wav"))

	cmd := schema.RecognizeCommand{JobID: "job-1", InputPath: storage.ChunkKey("job-1", 0), Index: 0, EndMS: 9000, Language: "en"}
	body, _ := json.Marshal(cmd)
	require.NoError(t, svc.HandleRecognize(ctx, body))

	var words []align.Word
	require.NoError(t, store.ReadJSON(ctx, storage.TranscriptChunkKey("job-1", 0), &words))
	require.Len(t, words, 2)

	event := publisher.last(t).Message.(schema.RecognitionCompletedEvent)
	assert.Equal(t, "mock transcription", event.Text)
	assert.Equal(t, storage.TranscriptChunkKey("job-1", 0), event.TranscriptS3Path)
}

func TestHandleTranscode(t *testing.T) {
	svc, store, publisher := newTestService(t, MockEngines())
	ctx := context.Background()
	store.Put(storage.CleanAudioKey("job-1"), []byte("wav"))

	require.NoError(t, svc.HandleTranscode(ctx, []byte(`{"job_id":"job-1","input_path":"clean/job-1/audio.wav"}`)))

	_, ok := store.Get(storage.PlaylistKey("job-1"))
	assert.True(t, ok)
	_, ok = store.Get(storage.HLSPrefix("job-1") + "/segment_000.ts")
	assert.True(t, ok)

	event := publisher.last(t).Message.(schema.TranscodeCompletedEvent)
	assert.Equal(t, storage.PlaylistKey("job-1"), event.HLSPath)
}

func TestHandlePostProcess(t *testing.T) {
	svc, store, publisher := newTestService(t, MockEngines())
	ctx := context.Background()

	// Two recognized chunks with chunk-local word times; the second starts
	// at 10 s global.
	require.NoError(t, store.WriteJSON(ctx, storage.TranscriptChunkKey("job-1", 0), []align.Word{
		{Word: "hello", Start: 0.0, End: 0.5},
		{Word: "there", Start: 0.6, End: 1.0},
	}))
	require.NoError(t, store.WriteJSON(ctx, storage.TranscriptChunkKey("job-1", 1), []align.Word{
		{Word: "good", Start: 0.0, End: 0.4},
		{Word: "bye", Start: 0.5, End: 0.8},
	}))
	require.NoError(t, store.WriteJSON(ctx, storage.ManifestKey("job-1"), []schema.TranscriptRecord{
		{Index: 0, StartMS: 0, EndMS: 9000, TranscriptS3Path: storage.TranscriptChunkKey("job-1", 0)},
		{Index: 1, StartMS: 10000, EndMS: 19000, TranscriptS3Path: storage.TranscriptChunkKey("job-1", 1)},
	}))
	require.NoError(t, store.WriteJSON(ctx, storage.DiarizationKey("job-1"), []schema.SpeakerTurn{
		{Speaker: "SPEAKER_00", Start: 0, End: 5},
		{Speaker: "SPEAKER_01", Start: 9, End: 12},
	}))

	require.NoError(t, svc.HandlePostProcess(ctx, []byte(`{"job_id":"job-1"}`)))

	var metadata schema.JobMetadata
	require.NoError(t, store.ReadJSON(ctx, storage.MetadataKey("job-1"), &metadata))
	assert.Equal(t, "completed", metadata.Status)
	assert.NotEmpty(t, metadata.ProcessedAt)
	assert.Equal(t, storage.PlaylistKey("job-1"), metadata.Assets.HLS)
	require.Len(t, metadata.Results.TranscriptAligned, 2)
	assert.Equal(t, "SPEAKER_00", metadata.Results.TranscriptAligned[0].Speaker)
	assert.Equal(t, "hello there", metadata.Results.TranscriptAligned[0].Text)
	assert.Equal(t, "SPEAKER_01", metadata.Results.TranscriptAligned[1].Speaker)
	assert.Equal(t, "good bye", metadata.Results.TranscriptAligned[1].Text)
	// Second chunk's words were shifted into global time.
	assert.Equal(t, 10.0, metadata.Results.TranscriptAligned[1].Start)

	text, ok := store.Get(storage.TranscriptTextKey("job-1"))
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(text), "TRANSCRIPT FOR JOB: job-1\n"))
	assert.Contains(t, string(text), "[00:00] SPEAKER_00: hello there")
	assert.Contains(t, string(text), "[00:10] SPEAKER_01: good bye")

	event := publisher.last(t)
	assert.Equal(t, schema.RouteJobFinalized, event.Key)
	assert.Equal(t, "success", event.Message.(schema.JobCompletedEvent).Status)
}

func TestHandlePostProcessMissingManifest(t *testing.T) {
	svc, _, publisher := newTestService(t, MockEngines())
	err := svc.HandlePostProcess(context.Background(), []byte(`{"job_id":"job-1"}`))
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, publisher.entries)
}

func TestHandlePostProcessWithoutDiarization(t *testing.T) {
	svc, store, _ := newTestService(t, MockEngines())
	ctx := context.Background()

	require.NoError(t, store.WriteJSON(ctx, storage.TranscriptChunkKey("job-1", 0), []align.Word{
		{Word: "solo", Start: 0.0, End: 0.5},
	}))
	require.NoError(t, store.WriteJSON(ctx, storage.ManifestKey("job-1"), []schema.TranscriptRecord{
		{Index: 0, StartMS: 0, EndMS: 9000, TranscriptS3Path: storage.TranscriptChunkKey("job-1", 0)},
	}))

	require.NoError(t, svc.HandlePostProcess(ctx, []byte(`{"job_id":"job-1"}`)))

	var metadata schema.JobMetadata
	require.NoError(t, store.ReadJSON(ctx, storage.MetadataKey("job-1"), &metadata))
	require.Len(t, metadata.Results.TranscriptAligned, 1)
	assert.Equal(t, align.UnknownSpeaker, metadata.Results.TranscriptAligned[0].Speaker)
}

func TestStagesCoverEveryBinding(t *testing.T) {
	assert.Len(t, Stages(), 8)
}
