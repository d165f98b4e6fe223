package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	defaultMinSilenceMS    = 700
	defaultSilenceThreshDB = -40.0
	defaultPadMS           = 200
	defaultMaxChunkMS      = 60_000
	splitFrameMS           = 10
)

// EnergySplitter cuts audio at silences: a range counts as silent when
// its frame dBFS stays below the threshold for at least the minimum
// silence length. Detected speech ranges are padded and capped at the
// maximum chunk length.
type EnergySplitter struct {
	MinSilenceMS    int
	SilenceThreshDB float64
	PadMS           int
	MaxChunkMS      int
}

// NewEnergySplitter returns a splitter with the pipeline defaults:
// 700 ms minimum silence, -40 dBFS threshold, 200 ms pad, 60 s cap.
func NewEnergySplitter() *EnergySplitter {
	return &EnergySplitter{
		MinSilenceMS:    defaultMinSilenceMS,
		SilenceThreshDB: defaultSilenceThreshDB,
		PadMS:           defaultPadMS,
		MaxChunkMS:      defaultMaxChunkMS,
	}
}

// Split writes chunk_NNNN.wav files into outputDir and returns their
// metadata ordered by start time. Fully silent input yields no chunks.
func (sp *EnergySplitter) Split(ctx context.Context, inputPath, outputDir string) ([]Chunk, error) {
	audio, err := readWAV(inputPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", outputDir, err)
	}

	ranges := sp.nonSilentRanges(audio)
	var chunks []Chunk
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := r[0] - sp.PadMS
		if start < 0 {
			start = 0
		}
		end := r[1] + sp.PadMS
		if end > audio.durationMS() {
			end = audio.durationMS()
		}

		// Long speech is cut at the cap so no chunk exceeds 60 s.
		for start < end {
			chunkEnd := start + sp.MaxChunkMS
			if chunkEnd > end {
				chunkEnd = end
			}
			index := len(chunks)
			filename := fmt.Sprintf("chunk_%04d.wav", index)
			outPath := filepath.Join(outputDir, filename)
			segment := audio.samples[audio.sampleAt(start):audio.sampleAt(chunkEnd)]
			if err := writeWAV(outPath, segment, audio.sampleRate); err != nil {
				return nil, fmt.Errorf("write chunk %d: %w", index, err)
			}
			chunks = append(chunks, Chunk{
				Index:     index,
				Filename:  filename,
				LocalPath: outPath,
				StartMS:   start,
				EndMS:     chunkEnd,
			})
			start = chunkEnd
		}
	}
	return chunks, nil
}

// nonSilentRanges returns [startMS, endMS) speech ranges.
func (sp *EnergySplitter) nonSilentRanges(audio *wavAudio) [][2]int {
	frameLen := audio.sampleRate * splitFrameMS / 1000
	if frameLen == 0 {
		return nil
	}

	numFrames := len(audio.samples) / frameLen
	loud := make([]bool, numFrames)
	for i := 0; i < numFrames; i++ {
		frame := audio.samples[i*frameLen : (i+1)*frameLen]
		loud[i] = frameDBFS(frame) >= sp.SilenceThreshDB
	}

	minSilenceFrames := sp.MinSilenceMS / splitFrameMS
	var ranges [][2]int
	inSpeech := false
	speechStart := 0
	silenceRun := 0
	for i, isLoud := range loud {
		if isLoud {
			if !inSpeech {
				inSpeech = true
				speechStart = i
			}
			silenceRun = 0
			continue
		}
		if !inSpeech {
			continue
		}
		silenceRun++
		if silenceRun >= minSilenceFrames {
			end := i - silenceRun + 1
			ranges = append(ranges, [2]int{speechStart * splitFrameMS, end * splitFrameMS})
			inSpeech = false
			silenceRun = 0
		}
	}
	if inSpeech {
		end := numFrames - silenceRun
		ranges = append(ranges, [2]int{speechStart * splitFrameMS, end * splitFrameMS})
	}
	return ranges
}

// frameDBFS computes RMS energy in dB relative to full scale.
func frameDBFS(frame []float64) float64 {
	if len(frame) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
