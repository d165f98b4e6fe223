package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FFmpegEngine runs normalization and HLS rendition through the ffmpeg
// binary. The filter graphs themselves are external collaborators; this
// type owns only the invocation.
type FFmpegEngine struct {
	// Binary overrides the ffmpeg executable path. Empty means $PATH.
	Binary string
}

// NewFFmpegEngine returns an engine that resolves ffmpeg from $PATH.
func NewFFmpegEngine() *FFmpegEngine {
	return &FFmpegEngine{}
}

func (f *FFmpegEngine) binary() string {
	if f.Binary != "" {
		return f.Binary
	}
	return "ffmpeg"
}

func (f *FFmpegEngine) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

// Normalize converts any decodable input to 16 kHz mono 16-bit PCM WAV.
func (f *FFmpegEngine) Normalize(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", outputPath, err)
	}
	logrus.WithFields(logrus.Fields{
		"input":  inputPath,
		"output": outputPath,
	}).Debug("Normalizing audio")
	return f.run(ctx,
		"-y", "-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outputPath,
	)
}

// GenerateHLS renders a single-quality AAC HLS playlist with 10-second
// media segments into outputDir.
func (f *FFmpegEngine) GenerateHLS(ctx context.Context, inputPath, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outputDir, err)
	}
	logrus.WithFields(logrus.Fields{
		"input":      inputPath,
		"output_dir": outputDir,
	}).Debug("Generating HLS rendition")
	return f.run(ctx,
		"-y", "-i", inputPath,
		"-c:a", "aac",
		"-b:a", "128k",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outputDir, "segment_%03d.ts"),
		filepath.Join(outputDir, "playlist.m3u8"),
	)
}
