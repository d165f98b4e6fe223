package engine

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Noise levels derived from SNR bands.
const (
	LevelVeryClean     = "VERY_CLEAN"
	LevelClean         = "CLEAN"
	LevelLightNoise    = "LIGHT_NOISE"
	LevelModerateNoise = "MODERATE_NOISE"
	LevelHeavyNoise    = "HEAVY_NOISE"
)

// levelFromSNR buckets an SNR estimate. Denoising is worthwhile only
// below the LIGHT_NOISE band.
func levelFromSNR(snr float64) (level string, needDenoise bool) {
	switch {
	case snr > 20:
		return LevelVeryClean, false
	case snr > 15:
		return LevelClean, false
	case snr > 10:
		return LevelLightNoise, false
	case snr > 5:
		return LevelModerateNoise, true
	default:
		return LevelHeavyNoise, true
	}
}

// RMSQualityChecker estimates SNR from frame energies: the 10th
// percentile of frame power approximates the noise floor, the median
// approximates the signal level.
type RMSQualityChecker struct {
	FrameMS int
}

// NewRMSQualityChecker returns a checker with 50 ms analysis frames.
func NewRMSQualityChecker() *RMSQualityChecker {
	return &RMSQualityChecker{FrameMS: 50}
}

// Check loads the chunk and produces its quality report.
func (q *RMSQualityChecker) Check(_ context.Context, inputPath string) (QualityReport, error) {
	audio, err := readWAV(inputPath)
	if err != nil {
		return QualityReport{}, err
	}

	frameLen := audio.sampleRate * q.FrameMS / 1000
	if frameLen == 0 || len(audio.samples) < frameLen {
		level, need := levelFromSNR(0)
		return QualityReport{SNR: 0, Level: level, NeedDenoise: need}, nil
	}

	numFrames := len(audio.samples) / frameLen
	powers := make([]float64, 0, numFrames)
	for i := 0; i < numFrames; i++ {
		frame := audio.samples[i*frameLen : (i+1)*frameLen]
		var sum float64
		for _, s := range frame {
			sum += s * s
		}
		powers = append(powers, sum/float64(frameLen))
	}

	sort.Float64s(powers)
	noiseFloor := stat.Quantile(0.10, stat.Empirical, powers, nil)
	signal := stat.Quantile(0.50, stat.Empirical, powers, nil)

	const eps = 1e-10
	snr := 10 * math.Log10((signal+eps)/(noiseFloor+eps))
	level, need := levelFromSNR(snr)
	return QualityReport{SNR: snr, Level: level, NeedDenoise: need}, nil
}
