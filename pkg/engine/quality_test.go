package engine

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromSNR(t *testing.T) {
	tests := []struct {
		snr         float64
		level       string
		needDenoise bool
	}{
		{25, LevelVeryClean, false},
		{18, LevelClean, false},
		{12, LevelLightNoise, false},
		{8, LevelModerateNoise, true},
		{2, LevelHeavyNoise, true},
		{-3, LevelHeavyNoise, true},
	}
	for _, tt := range tests {
		level, need := levelFromSNR(tt.snr)
		assert.Equal(t, tt.level, level, "snr %.0f", tt.snr)
		assert.Equal(t, tt.needDenoise, need, "snr %.0f", tt.snr)
	}
}

// A bursty signal over near-silence scores a much higher SNR than
// constant noise.
func TestCheckSeparatesCleanFromNoisy(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(1))

	// Clean: mostly loud speech with short quiet floors, so the median
	// frame is speech and the low percentile is the floor.
	var clean []float64
	for i := 0; i < 10; i++ {
		clean = append(clean, tone(300, 0.6)...)
		floor := make([]float64, testSampleRate/10)
		for j := range floor {
			floor[j] = rng.Float64() * 0.001
		}
		clean = append(clean, floor...)
	}
	cleanPath := writeTestWAV(t, dir, "clean.wav", clean)

	// Noisy: uniform white noise, no dynamic range.
	noisy := make([]float64, testSampleRate*4)
	for i := range noisy {
		noisy[i] = (rng.Float64()*2 - 1) * 0.3
	}
	noisyPath := writeTestWAV(t, dir, "noisy.wav", noisy)

	checker := NewRMSQualityChecker()
	cleanReport, err := checker.Check(context.Background(), cleanPath)
	require.NoError(t, err)
	noisyReport, err := checker.Check(context.Background(), noisyPath)
	require.NoError(t, err)

	assert.Greater(t, cleanReport.SNR, noisyReport.SNR)
	assert.False(t, math.IsNaN(cleanReport.SNR))
	assert.True(t, noisyReport.NeedDenoise)
}

func TestCheckTooShortInput(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "short.wav", tone(10, 0.5))

	report, err := NewRMSQualityChecker().Check(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.SNR)
	assert.Equal(t, LevelHeavyNoise, report.Level)
	assert.True(t, report.NeedDenoise)
}
