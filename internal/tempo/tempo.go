package tempo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"bpm-key-analyzer/internal/beat"
	"bpm-key-analyzer/internal/logging"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientBeats 节拍数少于3个
	ErrInsufficientBeats = errors.New("检测到的节拍不足以计算BPM")
	// ErrNoValidIntervals 所有节拍间隔都超出合理速度范围
	ErrNoValidIntervals = errors.New("没有处于合理范围内的节拍间隔")
)

const (
	// DefaultBPM 检测失败或结果不可信时使用的速度
	DefaultBPM = 120.0

	minBeats = 3
)

// Config BPM估计参数
type Config struct {
	MinInterval    float64 // 最短有效节拍间隔（秒），300 BPM
	MaxInterval    float64 // 最长有效节拍间隔（秒），30 BPM
	BinSize        float64 // 直方图bin宽度（秒）
	ToleranceBins  int     // 计分时包含的相邻bin数
	ScoreDeviation float64 // 与最高分相差不超过该比例的bin参与平均
	Weighted       bool    // 按分数加权平均，否则算术平均
	SubdivisionMin float64 // 半拍/三分拍修正的目标区间
	SubdivisionMax float64
	ValidMin       float64 // 可信BPM区间
	ValidMax       float64
}

// DefaultConfig 默认BPM估计参数
func DefaultConfig() Config {
	return Config{
		MinInterval:    0.2,
		MaxInterval:    2.0,
		BinSize:        0.01,
		ToleranceBins:  2,
		ScoreDeviation: 0.10,
		Weighted:       true,
		SubdivisionMin: 80,
		SubdivisionMax: 160,
		ValidMin:       50,
		ValidMax:       250,
	}
}

// Candidate 直方图中的一个候选间隔
type Candidate struct {
	Interval float64 `json:"interval"`
	Score    int     `json:"score"`
	BPM      float64 `json:"bpm"`
	Included bool    `json:"included"`
}

// Estimation 详细估计结果
type Estimation struct {
	BPM         float64     // 修正后的BPM
	RawBPM      float64     // 候选平均后、修正前的BPM
	Subdivision int         // 1 未修正，2 半拍，3 三分拍
	Intervals   int         // 参与统计的间隔数
	Candidates  []Candidate // 按分数降序
}

// Estimate 根据节拍时间估计BPM
func Estimate(beats []beat.Beat, cfg Config) (float64, error) {
	est, err := EstimateDetailed(beats, cfg)
	if err != nil {
		return 0, err
	}
	return est.BPM, nil
}

// EstimateDetailed 根据节拍时间估计BPM，并返回直方图候选
func EstimateDetailed(beats []beat.Beat, cfg Config) (*Estimation, error) {
	if len(beats) < minBeats {
		return nil, fmt.Errorf("%w: %d 个节拍", ErrInsufficientBeats, len(beats))
	}

	intervals := validIntervals(beats, cfg)
	if len(intervals) == 0 {
		return nil, ErrNoValidIntervals
	}

	candidates := histogram(intervals, cfg)
	best := candidates[0].Score
	cutoff := float64(best) * (1 - cfg.ScoreDeviation)

	var bpms, weights []float64
	for i := range candidates {
		if float64(candidates[i].Score) >= cutoff {
			candidates[i].Included = true
			bpms = append(bpms, candidates[i].BPM)
			weights = append(weights, float64(candidates[i].Score))
		}
	}

	var raw float64
	if cfg.Weighted {
		raw = stat.Mean(bpms, weights)
	} else {
		raw = stat.Mean(bpms, nil)
	}

	bpm, sub := correctSubdivision(raw, cfg)

	logging.Debug("直方图BPM估计", logging.Fields{
		"intervals":   len(intervals),
		"candidates":  len(bpms),
		"weighted":    cfg.Weighted,
		"raw_bpm":     raw,
		"bpm":         bpm,
		"subdivision": sub,
	})

	return &Estimation{
		BPM:         bpm,
		RawBPM:      raw,
		Subdivision: sub,
		Intervals:   len(intervals),
		Candidates:  candidates,
	}, nil
}

// validIntervals 计算相邻节拍间隔并过滤到 [MinInterval, MaxInterval]
func validIntervals(beats []beat.Beat, cfg Config) []float64 {
	out := make([]float64, 0, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		d := beats[i].Timestamp - beats[i-1].Timestamp
		if d >= cfg.MinInterval && d <= cfg.MaxInterval {
			out = append(out, d)
		}
	}
	return out
}

// histogram 以固定宽度bin统计间隔，返回按分数降序的非空bin
func histogram(intervals []float64, cfg Config) []Candidate {
	lo, hi := floats.Min(intervals), floats.Max(intervals)
	numBins := int(math.Ceil((hi-lo)/cfg.BinSize)) + 1

	counts := make([]int, numBins)
	for _, d := range intervals {
		idx := int((d - lo) / cfg.BinSize)
		if idx < numBins {
			counts[idx]++
		}
	}

	var candidates []Candidate
	for idx, c := range counts {
		if c == 0 {
			continue
		}
		score := 0
		for j := max(0, idx-cfg.ToleranceBins); j <= min(numBins-1, idx+cfg.ToleranceBins); j++ {
			score += counts[j]
		}
		interval := lo + float64(idx)*cfg.BinSize
		candidates = append(candidates, Candidate{
			Interval: interval,
			Score:    score,
			BPM:      60 / interval,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Score > candidates[b].Score
	})
	return candidates
}

// correctSubdivision 过快的结果可能锁定在了细分拍上，尝试折半或三分
func correctSubdivision(bpm float64, cfg Config) (float64, int) {
	if bpm <= cfg.SubdivisionMax {
		return bpm, 1
	}
	for _, factor := range []int{2, 3} {
		sub := bpm / float64(factor)
		if sub >= cfg.SubdivisionMin && sub <= cfg.SubdivisionMax {
			return sub, factor
		}
	}
	return bpm, 1
}

// Result 调用方最终采用的速度
type Result struct {
	BPM      float64 `json:"bpm"`
	Reliable bool    `json:"reliable"`
	Reason   string  `json:"reason,omitempty"`
}

// Resolve 应用范围校验和默认值策略。
// 超出 [ValidMin, ValidMax] 的结果以及节拍不足都替换为 DefaultBPM；
// 其他错误原样返回。
func Resolve(bpm float64, err error, cfg Config) (Result, error) {
	switch {
	case errors.Is(err, ErrInsufficientBeats):
		logging.Warn("节拍不足，使用默认BPM", logging.Fields{"default": DefaultBPM})
		return Result{BPM: DefaultBPM, Reason: "节拍不足"}, nil
	case err != nil:
		return Result{}, err
	case bpm < cfg.ValidMin || bpm > cfg.ValidMax || math.IsNaN(bpm):
		logging.Warn("BPM超出合理范围，使用默认值", logging.Fields{"bpm": bpm, "default": DefaultBPM})
		return Result{BPM: DefaultBPM, Reason: fmt.Sprintf("检测值 %.1f 超出 [%.0f, %.0f]", bpm, cfg.ValidMin, cfg.ValidMax)}, nil
	}
	return Result{BPM: bpm, Reliable: true}, nil
}
