package key

import (
	"math"
	"testing"

	"bpm-key-analyzer/internal/chroma"
	"bpm-key-analyzer/internal/spectrogram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexRoundTrip(t *testing.T) {
	seen := make(map[int]bool)
	for mode := Major; mode <= Minor; mode++ {
		for root := 0; root < 12; root++ {
			k := Key{Root: PitchClass(root), Mode: mode}
			idx := k.Index()
			assert.False(t, seen[idx], "重复的序号 %d", idx)
			seen[idx] = true

			back, err := FromIndex(idx)
			require.NoError(t, err)
			assert.Equal(t, k, back)
		}
	}
	assert.Len(t, seen, 24)

	_, err := FromIndex(24)
	assert.Error(t, err)
	_, err = FromIndex(-1)
	assert.Error(t, err)
}

func TestTableConsistency(t *testing.T) {
	camelots := make(map[string]bool)
	names := make(map[string]bool)
	for i, k := range AllKeys() {
		assert.Equal(t, i, k.Index())

		c := k.Camelot()
		assert.False(t, camelots[c], "重复的Camelot编码 %s", c)
		camelots[c] = true
		names[k.Name()] = true

		if i < 12 {
			assert.Equal(t, Major, k.Mode)
			assert.Equal(t, byte('B'), c[len(c)-1])
		} else {
			assert.Equal(t, Minor, k.Mode)
			assert.Equal(t, byte('A'), c[len(c)-1])
		}
	}
	assert.Len(t, camelots, 24)
	assert.Len(t, names, 24)
}

func TestKnownKeys(t *testing.T) {
	cases := []struct {
		key     Key
		name    string
		camelot string
		index   int
	}{
		{Key{0, Major}, "C", "8B", 0},
		{Key{7, Major}, "G", "9B", 1},
		{Key{2, Major}, "D", "10B", 2},
		{Key{9, Major}, "A", "11B", 3},
		{Key{5, Major}, "F", "7B", 11},
		{Key{3, Major}, "Eb", "5B", 9},
		{Key{9, Minor}, "Am", "8A", 12},
		{Key{4, Minor}, "Em", "9A", 13},
		{Key{2, Minor}, "Dm", "7A", 23},
		{Key{8, Minor}, "G#m", "1A", 17},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.name, tc.key.Name())
		assert.Equal(t, tc.camelot, tc.key.Camelot(), tc.name)
		assert.Equal(t, tc.index, tc.key.Index(), tc.name)
	}
}

func TestRelativeKeysShareCamelotNumber(t *testing.T) {
	for root := 0; root < 12; root++ {
		major := Key{Root: PitchClass(root), Mode: Major}
		minor := Key{Root: PitchClass((root + 9) % 12), Mode: Minor}
		mc, nc := major.Camelot(), minor.Camelot()
		assert.Equal(t, mc[:len(mc)-1], nc[:len(nc)-1], "%s / %s", major.Name(), minor.Name())
	}
}

func TestDetectAllZero(t *testing.T) {
	mk := Detect(chroma.Profile{}, DefaultConfig())
	assert.Equal(t, "C", mk.Name)
	assert.Equal(t, "8B", mk.Camelot)
	assert.True(t, mk.IsMajor)
	assert.Equal(t, 0.0, mk.Confidence)
}

func TestDetectSingleClass(t *testing.T) {
	var p chroma.Profile
	p[9] = 1
	mk := Detect(p, DefaultConfig())
	assert.Equal(t, Key{Root: 9, Mode: Major}, mk.Key)
	assert.Equal(t, 3, mk.Index)
	assert.Equal(t, "11B", mk.Camelot)
	assert.InDelta(t, 1.0, mk.Confidence, 1e-9)

	legacy := Detect(p, LegacyConfig())
	assert.InDelta(t, 0.635, legacy.Confidence, 1e-9)
}

func TestDetectTemplateProfiles(t *testing.T) {
	// 把模板本身旋转后作为音级分布：小调应被精确识别，
	// 大调模板与其关系小调的相关分数更高，只要求落在同一个 Camelot 数字上
	for _, k := range AllKeys() {
		template := MajorTemplate
		if k.Mode == Minor {
			template = MinorTemplate
		}
		var p chroma.Profile
		for i := range p {
			p[i] = template[((i-int(k.Root))%12+12)%12]
		}
		mk := Detect(p, DefaultConfig())
		if k.Mode == Minor {
			assert.Equal(t, k, mk.Key, k.Name())
			continue
		}
		want := k.Camelot()
		assert.Equal(t, want[:len(want)-1], mk.Camelot[:len(mk.Camelot)-1], k.Name())
	}
}

func TestDetectRanked(t *testing.T) {
	var p chroma.Profile
	p[0], p[4], p[7] = 0.4, 0.3, 0.3
	ranked := DetectRanked(p)
	require.Len(t, ranked, 24)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
	assert.Equal(t, Detect(p, DefaultConfig()).Key, ranked[0].Key)
}

func TestConfidenceClamped(t *testing.T) {
	var p chroma.Profile
	p[0] = 5 // 非归一化输入
	mk := Detect(p, DefaultConfig())
	assert.Equal(t, 1.0, mk.Confidence)
}

func TestPureToneKey(t *testing.T) {
	const sr = 44100
	samples := make([]float32, 5*sr)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/sr))
	}
	p, err := chroma.Compute(samples, sr, spectrogram.KeyConfig())
	require.NoError(t, err)
	require.Equal(t, 9, p.Dominant())

	mk := Detect(p, DefaultConfig())
	assert.Equal(t, PitchClass(9), mk.Key.Root)
	assert.Greater(t, mk.Confidence, 0.0)
}
