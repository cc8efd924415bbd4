package tempo

import (
	"testing"

	"bpm-key-analyzer/internal/beat"
	"bpm-key-analyzer/internal/spectrogram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRate = 44100

func beatsAt(times ...float64) []beat.Beat {
	out := make([]beat.Beat, len(times))
	for i, t := range times {
		out[i] = beat.Beat{Timestamp: t}
	}
	return out
}

func evenBeats(count int, interval float64) []beat.Beat {
	out := make([]beat.Beat, count)
	for i := range out {
		out[i] = beat.Beat{Timestamp: float64(i) * interval}
	}
	return out
}

func TestEstimateInsufficientBeats(t *testing.T) {
	_, err := Estimate(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientBeats)

	_, err = Estimate(beatsAt(0, 0.5), DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientBeats)
}

func TestEstimateNoValidIntervals(t *testing.T) {
	// 50ms 和 3s 的间隔都超出范围
	_, err := Estimate(beatsAt(0, 0.05, 0.1, 3.1), DefaultConfig())
	assert.ErrorIs(t, err, ErrNoValidIntervals)
}

func TestEstimateSteadyTempo(t *testing.T) {
	bpm, err := Estimate(evenBeats(16, 0.5), DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 120.0, bpm, 1e-6)
}

func TestEstimateIgnoresOutliers(t *testing.T) {
	beats := evenBeats(12, 0.6)
	// 一个过近的误检节拍会产生两个短间隔，但不会影响主峰
	beats = append(beats[:6], append([]beat.Beat{{Timestamp: 3.3}}, beats[6:]...)...)
	est, err := EstimateDetailed(beats, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, est.BPM, 2)
	assert.Equal(t, 1, est.Subdivision)
}

func TestEstimateHalfTimeCorrection(t *testing.T) {
	// 0.3s 间隔 = 200 BPM，折半后 100 BPM
	est, err := EstimateDetailed(evenBeats(20, 0.3), DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 200.0, est.RawBPM, 1e-6)
	assert.InDelta(t, 100.0, est.BPM, 1e-6)
	assert.Equal(t, 2, est.Subdivision)
}

func TestEstimateThirdTimeCorrection(t *testing.T) {
	// 0.25s 间隔 = 240 BPM，/2 和 /3 都落在区间内时优先折半
	est, err := EstimateDetailed(evenBeats(20, 0.25), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, est.Subdivision)
	assert.InDelta(t, 120.0, est.BPM, 1e-9)

	// 折半仍 > 160 时才尝试三分
	bpm, sub := correctSubdivision(330, DefaultConfig())
	assert.Equal(t, 3, sub)
	assert.InDelta(t, 110.0, bpm, 1e-9)

	bpm, sub = correctSubdivision(500, DefaultConfig())
	assert.Equal(t, 1, sub)
	assert.Equal(t, 500.0, bpm)
}

func TestEstimateWeightedVersusUnweighted(t *testing.T) {
	// 0.5s 和 0.53s 的间隔交替出现
	var times []float64
	ts := 0.0
	for i := 0; i < 8; i++ {
		times = append(times, ts)
		if i%2 == 0 {
			ts += 0.5
		} else {
			ts += 0.53
		}
	}
	beats := beatsAt(times...)

	weighted := DefaultConfig()
	unweighted := DefaultConfig()
	unweighted.Weighted = false

	w, err := EstimateDetailed(beats, weighted)
	require.NoError(t, err)
	u, err := EstimateDetailed(beats, unweighted)
	require.NoError(t, err)

	assert.Greater(t, w.BPM, 110.0)
	assert.Less(t, w.BPM, 121.0)
	assert.Greater(t, u.BPM, 110.0)
	assert.Less(t, u.BPM, 121.0)

	var included []Candidate
	for _, c := range u.Candidates {
		if c.Included {
			included = append(included, c)
		}
	}
	require.NotEmpty(t, included)
	sum := 0.0
	for _, c := range included {
		sum += c.BPM
	}
	assert.InDelta(t, sum/float64(len(included)), u.BPM, 1e-9)
}

func TestCandidatesSortedByScore(t *testing.T) {
	est, err := EstimateDetailed(evenBeats(10, 0.45), DefaultConfig())
	require.NoError(t, err)
	for i := 1; i < len(est.Candidates); i++ {
		assert.GreaterOrEqual(t, est.Candidates[i-1].Score, est.Candidates[i].Score)
	}
	assert.True(t, est.Candidates[0].Included)
}

func TestResolve(t *testing.T) {
	cfg := DefaultConfig()

	r, err := Resolve(128, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, Result{BPM: 128, Reliable: true}, r)

	for _, bad := range []float64{20, 49.9, 250.1, 400} {
		r, err = Resolve(bad, nil, cfg)
		require.NoError(t, err)
		assert.Equal(t, 120.0, r.BPM)
		assert.False(t, r.Reliable)
		assert.NotEmpty(t, r.Reason)
	}

	r, err = Resolve(0, ErrInsufficientBeats, cfg)
	require.NoError(t, err)
	assert.Equal(t, 120.0, r.BPM)
	assert.False(t, r.Reliable)

	_, err = Resolve(0, ErrNoValidIntervals, cfg)
	assert.ErrorIs(t, err, ErrNoValidIntervals)
}

func TestSilenceFailsWithInsufficientBeats(t *testing.T) {
	s, err := spectrogram.Generate(make([]float32, 5*sampleRate), sampleRate, spectrogram.BPMConfig())
	require.NoError(t, err)
	beats, _, err := beat.Detect(s, beat.DefaultConfig())
	require.NoError(t, err)
	require.Empty(t, beats)

	_, err = Estimate(beats, DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientBeats)
}

func TestClickTrackPipeline(t *testing.T) {
	// 120 个间隔 0.5s 的脉冲，44.1kHz
	const clicks = 120
	samples := make([]float32, int((float64(clicks)*0.5+1)*sampleRate))
	for i := 0; i < clicks; i++ {
		samples[int((0.25+float64(i)*0.5)*sampleRate)] = 1
	}

	s, err := spectrogram.Generate(samples, sampleRate, spectrogram.BPMConfig())
	require.NoError(t, err)
	beats, _, err := beat.Detect(s, beat.DefaultConfig())
	require.NoError(t, err)

	bpm, err := Estimate(beats, DefaultConfig())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, bpm, 118.0)
	assert.LessOrEqual(t, bpm, 122.0)

	// 相同输入两次运行结果逐位一致
	again, err := Estimate(beats, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, bpm, again)
}
