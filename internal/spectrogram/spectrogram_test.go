package spectrogram

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 44100

func sine(freq float64, seconds float64) []float32 {
	n := int(seconds * testSampleRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate))
	}
	return out
}

func TestGenerateRejectsShortInput(t *testing.T) {
	cfg := BPMConfig()
	_, err := Generate(make([]float32, cfg.WindowSize/2-1), testSampleRate, cfg)
	require.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestGenerateAcceptsHalfWindow(t *testing.T) {
	cfg := BPMConfig()
	s, err := Generate(make([]float32, cfg.WindowSize/2), testSampleRate, cfg)
	require.NoError(t, err)
	assert.Len(t, s.Frames, 1)
}

func TestGenerateInvalidConfig(t *testing.T) {
	_, err := Generate(make([]float32, 10000), testSampleRate, Config{WindowSize: 1024, HopSize: 0, MinFreq: 10, MaxFreq: 100})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Generate(make([]float32, 10000), testSampleRate, Config{WindowSize: 1024, HopSize: 256, MinFreq: 500, MaxFreq: 100})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Generate(make([]float32, 10000), 0, BPMConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGenerateShape(t *testing.T) {
	cfg := BPMConfig()
	samples := sine(440, 2)
	s, err := Generate(samples, testSampleRate, cfg)
	require.NoError(t, err)

	// 起始位置 < len 且至少包含半个窗口的帧都会保留
	expected := 0
	for start := 0; start < len(samples); start += cfg.HopSize {
		if min(start+cfg.WindowSize, len(samples))-start < cfg.WindowSize/2 {
			break
		}
		expected++
	}
	require.Len(t, s.Frames, expected)
	require.Len(t, s.Times, expected)

	bins := s.NumBins()
	for _, row := range s.Frames {
		assert.Len(t, row, bins)
	}

	assert.InDelta(t, float64(cfg.HopSize)/testSampleRate, s.TimeResolution, 1e-12)
	assert.InDelta(t, float64(testSampleRate)/float64(cfg.WindowSize), s.FreqResolution, 1e-12)
	assert.GreaterOrEqual(t, s.BinFrequency(0), cfg.MinFreq)
	assert.LessOrEqual(t, s.BinFrequency(bins-1), cfg.MaxFreq)
	assert.InDelta(t, s.Duration, float64(len(s.Frames))*s.TimeResolution, float64(cfg.WindowSize)/testSampleRate)
}

func TestGeneratePeakAtToneFrequency(t *testing.T) {
	s, err := Generate(sine(440, 1), testSampleRate, KeyConfig())
	require.NoError(t, err)

	row := s.Frames[len(s.Frames)/2]
	best := 0
	for i, m := range row {
		if m > row[best] {
			best = i
		}
	}
	assert.InDelta(t, 440, s.BinFrequency(best), s.FreqResolution)
}

func TestGenerateSkipsNonFiniteFrames(t *testing.T) {
	cfg := Config{WindowSize: 1024, HopSize: 1024, MinFreq: 10, MaxFreq: 2000}
	samples := sine(220, 1)
	samples[1500] = float32(math.NaN())

	s, err := Generate(samples, testSampleRate, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, s.SkippedFrames)
	// 被跳过的帧不影响后续帧的时间戳
	assert.InDelta(t, 2*float64(cfg.HopSize)/testSampleRate, s.Times[1], 1e-12)
}

func TestGenerateDeterministic(t *testing.T) {
	samples := sine(110, 1)
	a, err := Generate(samples, testSampleRate, BPMConfig())
	require.NoError(t, err)
	b, err := Generate(samples, testSampleRate, BPMConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Frames, b.Frames)
}

func TestMagnitudeScaling(t *testing.T) {
	// 1/sqrt(N) 缩放使不同窗口大小的能量可比
	samples := sine(1000, 1)
	small, err := Generate(samples, testSampleRate, Config{WindowSize: 2048, HopSize: 2048, MinFreq: 10, MaxFreq: 2000})
	require.NoError(t, err)
	large, err := Generate(samples, testSampleRate, Config{WindowSize: 8192, HopSize: 8192, MinFreq: 10, MaxFreq: 2000})
	require.NoError(t, err)

	peak := func(row []float64) float64 {
		m := 0.0
		for _, v := range row {
			m = math.Max(m, v)
		}
		return m
	}
	ratio := peak(large.Frames[1]) / peak(small.Frames[1])
	assert.InDelta(t, 2.0, ratio, 0.3)
}
