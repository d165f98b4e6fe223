package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/soundlane/audio-pipeline/internal/align"
)

// Mock engines stand in for the external models so the pipeline can run
// end to end without GPUs. They copy inputs through and emit fixed,
// well-formed outputs.

// MockDiarizer reports a single speaker covering the whole file.
type MockDiarizer struct{}

// Diarize returns one SPEAKER_00 turn over [0, 3600).
func (MockDiarizer) Diarize(_ context.Context, _ string) ([]align.Turn, error) {
	return []align.Turn{{Speaker: "SPEAKER_00", Start: 0, End: 3600}}, nil
}

// MockLanguageDetector always reports English.
type MockLanguageDetector struct{}

// Detect returns "en" with full confidence.
func (MockLanguageDetector) Detect(_ context.Context, _ string) (string, float64, error) {
	return "en", 1.0, nil
}

// MockRecognizer emits a canned word list.
type MockRecognizer struct{}

// Transcribe returns two words with chunk-local timing.
func (MockRecognizer) Transcribe(_ context.Context, _, _ string) ([]align.Word, error) {
	return []align.Word{
		{Word: "mock", Start: 0.0, End: 0.5},
		{Word: "transcription", Start: 0.5, End: 1.2},
	}, nil
}

// MockDenoiser copies the input through unchanged.
type MockDenoiser struct{}

// Denoise copies inputPath to outputPath.
func (MockDenoiser) Denoise(_ context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inputPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", outputPath, err)
	}
	return os.WriteFile(outputPath, data, 0o644)
}

// MockNormalizer copies the input through unchanged.
type MockNormalizer struct{}

// Normalize copies inputPath to outputPath.
func (MockNormalizer) Normalize(_ context.Context, inputPath, outputPath string) error {
	return MockDenoiser{}.Denoise(context.Background(), inputPath, outputPath)
}

// MockTranscoder writes an empty playlist and one media segment.
type MockTranscoder struct{}

// GenerateHLS writes a minimal playlist.m3u8 and segment_000.ts.
func (MockTranscoder) GenerateHLS(_ context.Context, _, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outputDir, err)
	}
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n#EXTINF:10.0,\nsegment_000.ts\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(filepath.Join(outputDir, "playlist.m3u8"), []byte(playlist), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "segment_000.ts"), []byte{}, 0o644)
}
