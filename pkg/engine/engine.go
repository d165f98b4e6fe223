// Package engine defines the local computations workers run. Each engine
// is a pure function from a local audio file to structured output; model
// and FFmpeg choices stay behind these interfaces so worker processes own
// them for their lifetime and handlers receive them injected.
package engine

import (
	"context"

	"github.com/soundlane/audio-pipeline/internal/align"
)

// Chunk describes one non-silent range produced by a Splitter.
type Chunk struct {
	Index     int
	Filename  string
	LocalPath string
	StartMS   int
	EndMS     int
}

// QualityReport is the SNR triage verdict for one chunk.
type QualityReport struct {
	SNR         float64
	Level       string
	NeedDenoise bool
}

// Normalizer converts an arbitrary upload to 16 kHz mono WAV.
type Normalizer interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
}

// Splitter cuts clean audio into non-silent chunks of bounded length.
type Splitter interface {
	Split(ctx context.Context, inputPath, outputDir string) ([]Chunk, error)
}

// QualityChecker estimates the signal-to-noise ratio of a chunk.
type QualityChecker interface {
	Check(ctx context.Context, inputPath string) (QualityReport, error)
}

// Denoiser rewrites a noisy chunk as a cleaner one.
type Denoiser interface {
	Denoise(ctx context.Context, inputPath, outputPath string) error
}

// Diarizer produces speaker turns over the full clean audio.
type Diarizer interface {
	Diarize(ctx context.Context, inputPath string) ([]align.Turn, error)
}

// LanguageDetector identifies the spoken language of a chunk.
type LanguageDetector interface {
	Detect(ctx context.Context, inputPath string) (language string, probability float64, err error)
}

// Recognizer transcribes a chunk into words with chunk-local timing.
type Recognizer interface {
	Transcribe(ctx context.Context, inputPath, language string) ([]align.Word, error)
}

// HLSTranscoder renders a single-quality HLS playlist plus media
// segments into outputDir.
type HLSTranscoder interface {
	GenerateHLS(ctx context.Context, inputPath, outputDir string) error
}
