package key

import (
	"fmt"
	"math"
	"sort"

	"bpm-key-analyzer/internal/chroma"
	"bpm-key-analyzer/internal/logging"

	"gonum.org/v1/gonum/floats"
)

// PitchClass 音级，0=C ... 11=B
type PitchClass int

// Mode 调式
type Mode int

const (
	Major Mode = iota
	Minor
)

func (m Mode) String() string {
	if m == Minor {
		return "minor"
	}
	return "major"
}

// 大调拼写偏好降号，小调偏好升号
var (
	majorNames = [12]string{"C", "C#", "D", "Eb", "E", "F", "F#", "G", "Ab", "A", "Bb", "B"}
	minorNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
)

// Krumhansl-Schmuckler 调性轮廓，下标0对应主音
var (
	MajorTemplate = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	MinorTemplate = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// Key 调性：主音 + 调式
type Key struct {
	Root PitchClass
	Mode Mode
}

// circlePosition 在五度圈上的位置；小调取其关系大调的位置
func (k Key) circlePosition() int {
	root := int(k.Root)
	if k.Mode == Minor {
		root += 3
	}
	return (7 * root) % 12
}

// Name 返回调名，如 "Eb"、"F#m"
func (k Key) Name() string {
	if k.Mode == Minor {
		return minorNames[k.Root] + "m"
	}
	return majorNames[k.Root]
}

// Camelot 返回 Camelot 编码，C 大调为 8B，A 小调为 8A
func (k Key) Camelot() string {
	n := (k.circlePosition()+7)%12 + 1
	if k.Mode == Minor {
		return fmt.Sprintf("%dA", n)
	}
	return fmt.Sprintf("%dB", n)
}

// Index 五度圈序号：大调 0..11，小调 12..23
func (k Key) Index() int {
	if k.Mode == Minor {
		return 12 + k.circlePosition()
	}
	return k.circlePosition()
}

func (k Key) String() string {
	return k.Name()
}

// FromIndex 是 Index 的逆运算
func FromIndex(index int) (Key, error) {
	if index < 0 || index >= 24 {
		return Key{}, fmt.Errorf("调性序号超出范围: %d", index)
	}
	mode := Major
	if index >= 12 {
		mode = Minor
		index -= 12
	}
	// 7*7 = 49 ≡ 1 (mod 12)，乘7即可还原
	root := (7 * index) % 12
	if mode == Minor {
		root = (root + 9) % 12
	}
	return Key{Root: PitchClass(root), Mode: mode}, nil
}

// AllKeys 按 Index 顺序返回全部24个调
func AllKeys() []Key {
	out := make([]Key, 24)
	for i := range out {
		out[i], _ = FromIndex(i)
	}
	return out
}

const (
	// LegacyConfidenceScale 固定的置信度归一化常数
	LegacyConfidenceScale = 10.0
)

// Config 调性检测参数
type Config struct {
	// Normalizer 置信度 = 最高分 / Normalizer，截断到 [0,1]
	Normalizer float64
}

// DefaultConfig 以总和为1的音级分布所能达到的最大相关分数归一化
func DefaultConfig() Config {
	return Config{Normalizer: math.Max(floats.Max(MajorTemplate[:]), floats.Max(MinorTemplate[:]))}
}

// LegacyConfig 使用固定常数10归一化
func LegacyConfig() Config {
	return Config{Normalizer: LegacyConfidenceScale}
}

// MusicalKey 检测结果
type MusicalKey struct {
	Name       string  `json:"name"`
	Camelot    string  `json:"camelot"`
	Confidence float64 `json:"confidence"`
	IsMajor    bool    `json:"isMajor"`
	Index      int     `json:"index"`
	Key        Key     `json:"-"`
}

// Candidate 某个调的相关分数
type Candidate struct {
	Key   Key
	Score float64
}

// Score 计算音级分布与某个调的模板相关分数
func Score(p chroma.Profile, k Key) float64 {
	template := &MajorTemplate
	if k.Mode == Minor {
		template = &MinorTemplate
	}
	score := 0.0
	for i, v := range p {
		score += v * template[((i-int(k.Root))%12+12)%12]
	}
	return score
}

// DetectRanked 返回全部24个调的分数，按分数降序，同分保持大调在前、主音升序
func DetectRanked(p chroma.Profile) []Candidate {
	out := make([]Candidate, 0, 24)
	for _, mode := range []Mode{Major, Minor} {
		for root := 0; root < 12; root++ {
			k := Key{Root: PitchClass(root), Mode: mode}
			out = append(out, Candidate{Key: k, Score: Score(p, k)})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Score > out[b].Score
	})
	return out
}

// Detect 选出与音级分布相关分数最高的调
func Detect(p chroma.Profile, cfg Config) MusicalKey {
	best := Key{Root: 0, Mode: Major}
	bestScore := 0.0
	for _, mode := range []Mode{Major, Minor} {
		for root := 0; root < 12; root++ {
			k := Key{Root: PitchClass(root), Mode: mode}
			if s := Score(p, k); s > bestScore {
				best, bestScore = k, s
			}
		}
	}

	confidence := 0.0
	if cfg.Normalizer > 0 {
		confidence = math.Min(math.Max(bestScore/cfg.Normalizer, 0), 1)
	}

	logging.Debug("调性检测完成", logging.Fields{
		"key":        best.Name(),
		"camelot":    best.Camelot(),
		"score":      bestScore,
		"confidence": confidence,
	})

	return MusicalKey{
		Name:       best.Name(),
		Camelot:    best.Camelot(),
		Confidence: confidence,
		IsMajor:    best.Mode == Major,
		Index:      best.Index(),
		Key:        best,
	}
}
