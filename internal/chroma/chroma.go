package chroma

import (
	"errors"
	"fmt"
	"math"

	"bpm-key-analyzer/internal/logging"
	"bpm-key-analyzer/internal/spectrogram"

	"gonum.org/v1/gonum/floats"
)

// ErrNoSpectralEnergy 没有任何窗口产生频谱，无法给出调性
var ErrNoSpectralEnergy = errors.New("所有分析窗口均失败，没有可用的频谱能量")

// PitchClasses 半音名，下标即音级
var PitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Profile 12个音级的能量分布，总和为1或全为0
type Profile [12]float64

// Sum 返回所有音级能量之和
func (p Profile) Sum() float64 {
	return floats.Sum(p[:])
}

// Dominant 返回能量最大的音级
func (p Profile) Dominant() int {
	return floats.MaxIdx(p[:])
}

// String 以 "C:0.120 C#:0.010 ..." 形式输出
func (p Profile) String() string {
	out := ""
	for i, v := range p {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%.3f", PitchClasses[i], v)
	}
	return out
}

// PitchClass 把频率映射到音级 (A4=440Hz -> 9)
func PitchClass(freq float64) int {
	midi := math.Round(12*math.Log2(freq/440) + 69)
	return ((int(midi) % 12) + 12) % 12
}

// Compute 累积所有窗口的幅度得到归一化的音级分布
func Compute(samples []float32, sampleRate int, cfg spectrogram.Config) (Profile, error) {
	var p Profile

	engine, err := spectrogram.NewEngine(sampleRate, cfg)
	if err != nil {
		return p, err
	}

	// 每个bin的音级只与bin下标有关，预先计算
	var classes []int

	total := 0.0
	windows := 0
	skipped, err := engine.Walk(samples, sampleRate, func(f spectrogram.Frame) {
		if classes == nil {
			classes = make([]int, len(f.Magnitudes))
			for i := range classes {
				freq := engine.BinFrequency(sampleRate, i)
				if freq <= 0 {
					classes[i] = -1
					continue
				}
				classes[i] = PitchClass(freq)
			}
		}
		for i, m := range f.Magnitudes {
			if classes[i] < 0 {
				continue
			}
			p[classes[i]] += m
			total += m
		}
		windows++
	})
	if err != nil {
		return p, err
	}
	if windows == 0 {
		return p, fmt.Errorf("%w: 跳过了 %d 个窗口", ErrNoSpectralEnergy, skipped)
	}

	if total > 0 {
		floats.Scale(1/total, p[:])
	}

	logging.Debug("音级分布计算完成", logging.Fields{
		"windows":  windows,
		"skipped":  skipped,
		"dominant": PitchClasses[p.Dominant()],
	})
	return p, nil
}
