package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 16000

// tone synthesizes a sine at the given amplitude for durMS milliseconds.
func tone(durMS int, amplitude float64) []float64 {
	n := testSampleRate * durMS / 1000
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*440*float64(i)/testSampleRate)
	}
	return out
}

func silence(durMS int) []float64 {
	return make([]float64, testSampleRate*durMS/1000)
}

func writeTestWAV(t *testing.T, dir, name string, samples []float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, writeWAV(path, samples, testSampleRate))
	return path
}

func TestSplitSpeechSilenceSpeech(t *testing.T) {
	dir := t.TempDir()
	var samples []float64
	samples = append(samples, tone(2000, 0.5)...)
	samples = append(samples, silence(1500)...)
	samples = append(samples, tone(2000, 0.5)...)
	input := writeTestWAV(t, dir, "input.wav", samples)

	chunks, err := NewEnergySplitter().Split(context.Background(), input, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
	// Padding extends each range by up to 200 ms on both sides.
	assert.LessOrEqual(t, chunks[0].StartMS, 200)
	assert.Greater(t, chunks[1].StartMS, chunks[0].EndMS)

	for _, c := range chunks {
		audio, err := readWAV(c.LocalPath)
		require.NoError(t, err)
		assert.Greater(t, len(audio.samples), 0)
	}
}

func TestSplitFullySilentInput(t *testing.T) {
	dir := t.TempDir()
	input := writeTestWAV(t, dir, "silent.wav", silence(3000))

	chunks, err := NewEnergySplitter().Split(context.Background(), input, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitCapsChunkLength(t *testing.T) {
	dir := t.TempDir()
	input := writeTestWAV(t, dir, "long.wav", tone(5000, 0.5))

	sp := NewEnergySplitter()
	sp.MaxChunkMS = 2000
	chunks, err := sp.Split(context.Background(), input, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	for i, c := range chunks {
		assert.LessOrEqual(t, c.EndMS-c.StartMS, 2000, "chunk %d too long", i)
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndMS, c.StartMS, "chunks must be contiguous")
		}
	}
}

func TestSplitShortSilenceDoesNotCut(t *testing.T) {
	dir := t.TempDir()
	var samples []float64
	samples = append(samples, tone(1000, 0.5)...)
	samples = append(samples, silence(300)...) // under the 700 ms minimum
	samples = append(samples, tone(1000, 0.5)...)
	input := writeTestWAV(t, dir, "input.wav", samples)

	chunks, err := NewEnergySplitter().Split(context.Background(), input, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestWAVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	samples := tone(500, 0.8)
	path := writeTestWAV(t, dir, "rt.wav", samples)

	audio, err := readWAV(path)
	require.NoError(t, err)
	assert.Equal(t, testSampleRate, audio.sampleRate)
	assert.Equal(t, len(samples), len(audio.samples))
	assert.InDelta(t, 500, audio.durationMS(), 1)
	for i := 0; i < len(samples); i += 1000 {
		assert.InDelta(t, samples[i], audio.samples[i], 0.001)
	}
}

func TestReadWAVMissingFile(t *testing.T) {
	_, err := readWAV(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
