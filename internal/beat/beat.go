package beat

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"bpm-key-analyzer/internal/logging"
	"bpm-key-analyzer/internal/spectrogram"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNilSpectrogram 未提供频谱图
var ErrNilSpectrogram = errors.New("频谱图为空")

// Config 节拍检测参数
type Config struct {
	ThresholdPercentage float64 // 自适应阈值：min + (max-min) * 百分比
	SectionSize         int     // 每个分段的帧数，相邻分段重叠50%
	ClusterGap          float64 // 同一簇内相邻候选帧的最大间隔（秒）
	DebounceSeconds     float64 // 相邻节拍的最小间隔（秒）
}

// DefaultConfig 默认节拍检测参数
func DefaultConfig() Config {
	return Config{
		ThresholdPercentage: 0.8,
		SectionSize:         100,
		ClusterGap:          0.05,
		DebounceSeconds:     0.10,
	}
}

// Beat 检测到的节拍
type Beat struct {
	Timestamp    float64 `json:"timestamp"`
	Energy       float64 `json:"energy"`
	DominantFreq float64 `json:"dominantFreq"`
	Confidence   float64 `json:"confidence"` // energy / 阈值，最大 2.0
}

// FrameEnergy 单帧平均能量
type FrameEnergy struct {
	Frame        int
	Timestamp    float64
	Energy       float64
	DominantFreq float64
}

// SectionThreshold 分段阈值，End 不含
type SectionThreshold struct {
	Start     int
	End       int
	Threshold float64
}

// Candidate 超过所在分段阈值的帧
type Candidate struct {
	FrameEnergy
	Threshold float64
}

// Cache 节拍检测的中间结果。
// 可视化等下游使用者必须读取这里的数据，而不是重新计算阈值和聚类。
type Cache struct {
	FrameEnergies []FrameEnergy
	Sections      []SectionThreshold
	Clusters      [][]Candidate
	MaxEnergy     float64
}

// Detect 从频谱图中检测节拍
func Detect(s *spectrogram.Spectrogram, cfg Config) ([]Beat, *Cache, error) {
	if s == nil {
		return nil, nil, ErrNilSpectrogram
	}
	if cfg.SectionSize < 2 {
		return nil, nil, fmt.Errorf("分段大小必须至少为2帧 (%d)", cfg.SectionSize)
	}

	energies, maxEnergy := frameEnergies(s)
	sections, candidates := adaptiveThreshold(energies, cfg)
	clusters := cluster(candidates, cfg.ClusterGap)

	beats := make([]Beat, 0, len(clusters))
	for _, c := range clusters {
		beats = append(beats, pick(c))
	}
	kept := Debounce(beats, cfg.DebounceSeconds)

	logging.Debug("节拍检测完成", logging.Fields{
		"frames":     len(energies),
		"sections":   len(sections),
		"candidates": len(candidates),
		"clusters":   len(clusters),
		"beats":      len(kept),
	})

	return kept, &Cache{
		FrameEnergies: energies,
		Sections:      sections,
		Clusters:      clusters,
		MaxEnergy:     maxEnergy,
	}, nil
}

// frameEnergies 计算每帧的平均幅度和主频
func frameEnergies(s *spectrogram.Spectrogram) ([]FrameEnergy, float64) {
	out := make([]FrameEnergy, 0, len(s.Frames))
	maxEnergy := 0.0
	for i, row := range s.Frames {
		if len(row) == 0 {
			continue
		}
		e := stat.Mean(row, nil)
		maxEnergy = math.Max(maxEnergy, e)

		ts := float64(i) * s.TimeResolution
		if i < len(s.Times) {
			ts = s.Times[i]
		}

		out = append(out, FrameEnergy{
			Frame:        i,
			Timestamp:    ts,
			Energy:       e,
			DominantFreq: s.BinFrequency(floats.MaxIdx(row)),
		})
	}
	return out, maxEnergy
}

// adaptiveThreshold 在重叠分段内计算阈值并收集候选帧。
// 同一帧被两个分段覆盖时只记录一次，阈值取第一个接受它的分段。
func adaptiveThreshold(energies []FrameEnergy, cfg Config) ([]SectionThreshold, []Candidate) {
	var sections []SectionThreshold
	var candidates []Candidate
	accepted := make(map[int]bool)

	step := cfg.SectionSize / 2
	values := make([]float64, len(energies))
	for i, fe := range energies {
		values[i] = fe.Energy
	}

	for start := 0; start < len(energies); start += step {
		end := min(start+cfg.SectionSize, len(energies))
		section := values[start:end]

		lo, hi := floats.Min(section), floats.Max(section)
		threshold := lo + (hi-lo)*cfg.ThresholdPercentage
		sections = append(sections, SectionThreshold{Start: start, End: end, Threshold: threshold})

		// 能量平坦的分段不产生候选
		if hi == lo {
			continue
		}

		for i := start; i < end; i++ {
			if values[i] > threshold && !accepted[i] {
				accepted[i] = true
				candidates = append(candidates, Candidate{FrameEnergy: energies[i], Threshold: threshold})
			}
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Timestamp < candidates[b].Timestamp
	})
	return sections, candidates
}

// cluster 合并时间上相邻的候选帧
func cluster(candidates []Candidate, gap float64) [][]Candidate {
	var clusters [][]Candidate
	var current []Candidate
	last := 0.0

	for _, c := range candidates {
		if len(current) > 0 && c.Timestamp-last > gap {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, c)
		last = c.Timestamp
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}

// pick 取最接近簇时间中点的帧作为节拍，距离相同时取较早的帧
func pick(c []Candidate) Beat {
	mid := (c[0].Timestamp + c[len(c)-1].Timestamp) / 2

	best := c[0]
	bestDist := math.Abs(best.Timestamp - mid)
	for _, cand := range c[1:] {
		d := math.Abs(cand.Timestamp - mid)
		if d < bestDist || (d == bestDist && cand.Frame < best.Frame) {
			best, bestDist = cand, d
		}
	}

	confidence := 2.0
	if best.Threshold > 0 {
		confidence = math.Min(best.Energy/best.Threshold, 2.0)
	}

	return Beat{
		Timestamp:    best.Timestamp,
		Energy:       best.Energy,
		DominantFreq: best.DominantFreq,
		Confidence:   confidence,
	}
}

// Debounce 丢弃距上一个保留节拍不足 minInterval 秒的节拍
func Debounce(beats []Beat, minInterval float64) []Beat {
	kept := make([]Beat, 0, len(beats))
	for _, b := range beats {
		if len(kept) > 0 && b.Timestamp-kept[len(kept)-1].Timestamp < minInterval {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

