package spectrogram

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"bpm-key-analyzer/internal/logging"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

var (
	// ErrInsufficientSamples 采样数不足半个分析窗口
	ErrInsufficientSamples = errors.New("音频采样不足以构成一个分析窗口")
	// ErrTransformFailure 单个窗口的频谱变换失败（仅在内部记录，不会中断分析）
	ErrTransformFailure = errors.New("窗口频谱变换失败")
	// ErrInvalidConfig 频谱参数无效
	ErrInvalidConfig = errors.New("无效的频谱参数")
)

// Config 频谱参数
type Config struct {
	WindowSize int     // FFT窗口大小（采样数）
	HopSize    int     // 相邻窗口的步进
	MinFreq    float64 // 保留的最低频率 (Hz)
	MaxFreq    float64 // 保留的最高频率 (Hz)
}

// BPMConfig 节拍检测使用的参数：大窗口保证频率分辨率，小步进保证时间分辨率
func BPMConfig() Config {
	return Config{
		WindowSize: 4096,
		HopSize:    256, // ~94% 重叠
		MinFreq:    10,
		MaxFreq:    2000, // 低音、底鼓和起音所在频段
	}
}

// KeyConfig 调性检测使用的参数
func KeyConfig() Config {
	return Config{
		WindowSize: 8192,
		HopSize:    1024,
		MinFreq:    80,
		MaxFreq:    2000,
	}
}

// Validate 检查参数
func (c Config) Validate() error {
	if c.WindowSize <= 1 {
		return fmt.Errorf("%w: 窗口大小必须大于1 (%d)", ErrInvalidConfig, c.WindowSize)
	}
	if c.HopSize <= 0 {
		return fmt.Errorf("%w: 步进必须为正数 (%d)", ErrInvalidConfig, c.HopSize)
	}
	if c.MinFreq < 0 || c.MaxFreq <= c.MinFreq {
		return fmt.Errorf("%w: 频率范围 [%.1f, %.1f] Hz", ErrInvalidConfig, c.MinFreq, c.MaxFreq)
	}
	return nil
}

// Spectrogram 整首曲目的时频网格，Frames[时间帧][频率bin]
type Spectrogram struct {
	Frames         [][]float64
	Times          []float64 // 每一帧的起始时间（秒）
	FirstBin       int       // Frames 第0列对应的FFT bin
	TimeResolution float64   // 每帧秒数 = hop / sampleRate
	FreqResolution float64   // 每个bin的Hz数
	MinFreq        float64
	MaxFreq        float64
	Duration       float64
	SampleRate     int
	WindowSize     int
	HopSize        int
	SkippedFrames  int
}

// BinFrequency 返回第 bin 列的中心频率
func (s *Spectrogram) BinFrequency(bin int) float64 {
	return float64(s.FirstBin+bin) * s.FreqResolution
}

// NumBins 返回每帧保留的频率bin数
func (s *Spectrogram) NumBins() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// Frame 单个分析窗口的频谱
type Frame struct {
	Index      int       // 窗口序号（含被跳过的窗口）
	Time       float64   // 窗口起始时间（秒）
	Magnitudes []float64 // 按 bin 排列的幅度
}

// Engine 频谱计算器，同一配置下可重复使用
type Engine struct {
	cfg      Config
	hann     []float64
	firstBin int
	lastBin  int
}

// NewEngine 创建频谱计算器
func NewEngine(sampleRate int, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: 采样率必须为正数 (%d)", ErrInvalidConfig, sampleRate)
	}

	resolution := float64(sampleRate) / float64(cfg.WindowSize)
	firstBin := int(math.Ceil(cfg.MinFreq / resolution))
	lastBin := int(math.Floor(cfg.MaxFreq / resolution))
	if nyquist := cfg.WindowSize / 2; lastBin > nyquist {
		lastBin = nyquist
	}
	if lastBin < firstBin {
		return nil, fmt.Errorf("%w: 频率范围 [%.1f, %.1f] Hz 内没有FFT bin", ErrInvalidConfig, cfg.MinFreq, cfg.MaxFreq)
	}

	return &Engine{
		cfg:      cfg,
		hann:     window.Hann(cfg.WindowSize),
		firstBin: firstBin,
		lastBin:  lastBin,
	}, nil
}

// BinFrequency 返回 Frame.Magnitudes 第 bin 项的中心频率
func (e *Engine) BinFrequency(sampleRate, bin int) float64 {
	return float64(e.firstBin+bin) * float64(sampleRate) / float64(e.cfg.WindowSize)
}

// Walk 依次计算每个窗口的频谱并交给 fn，不保留整个网格。
// 返回被跳过的窗口数。
func (e *Engine) Walk(samples []float32, sampleRate int, fn func(Frame)) (int, error) {
	size := e.cfg.WindowSize
	if len(samples) < size/2 {
		return 0, fmt.Errorf("%w: %d 个采样, 至少需要 %d", ErrInsufficientSamples, len(samples), size/2)
	}

	skipped := 0
	buf := make([]float64, size)
	for index, start := 0, 0; start < len(samples); index, start = index+1, start+e.cfg.HopSize {
		end := min(start+size, len(samples))
		if end-start < size/2 {
			break
		}

		// 不足一个窗口的尾部补零
		for i := range buf {
			if start+i < end {
				buf[i] = float64(samples[start+i]) * e.hann[i]
			} else {
				buf[i] = 0
			}
		}

		mags, err := e.transform(buf)
		if err != nil {
			logging.Debug("跳过频谱帧", logging.Fields{"offset": start, "error": err.Error()})
			skipped++
			continue
		}

		fn(Frame{
			Index:      index,
			Time:       float64(start) / float64(sampleRate),
			Magnitudes: mags,
		})
	}

	return skipped, nil
}

// transform 对加窗后的数据做FFT并返回频段内的幅度
func (e *Engine) transform(windowed []float64) ([]float64, error) {
	spectrum := fft.FFTReal(windowed)
	scale := 1 / math.Sqrt(float64(len(windowed)))

	mags := make([]float64, e.lastBin-e.firstBin+1)
	for i := range mags {
		m := cmplx.Abs(spectrum[e.firstBin+i]) * scale
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, fmt.Errorf("%w: bin %d 幅度非有限值", ErrTransformFailure, e.firstBin+i)
		}
		mags[i] = m
	}
	return mags, nil
}

// Generate 生成整首曲目的频谱图
func Generate(samples []float32, sampleRate int, cfg Config) (*Spectrogram, error) {
	engine, err := NewEngine(sampleRate, cfg)
	if err != nil {
		return nil, err
	}

	hop := float64(cfg.HopSize) / float64(sampleRate)
	result := &Spectrogram{
		Frames:         make([][]float64, 0, len(samples)/cfg.HopSize+1),
		Times:          make([]float64, 0, len(samples)/cfg.HopSize+1),
		FirstBin:       engine.firstBin,
		TimeResolution: hop,
		FreqResolution: float64(sampleRate) / float64(cfg.WindowSize),
		MinFreq:        cfg.MinFreq,
		MaxFreq:        cfg.MaxFreq,
		Duration:       float64(len(samples)) / float64(sampleRate),
		SampleRate:     sampleRate,
		WindowSize:     cfg.WindowSize,
		HopSize:        cfg.HopSize,
	}

	skipped, err := engine.Walk(samples, sampleRate, func(f Frame) {
		result.Frames = append(result.Frames, f.Magnitudes)
		result.Times = append(result.Times, float64(f.Index)*hop)
	})
	if err != nil {
		return nil, err
	}
	result.SkippedFrames = skipped

	if skipped > 0 {
		logging.Warn("部分频谱帧被跳过", logging.Fields{"skipped": skipped, "frames": len(result.Frames)})
	}
	logging.Debug("频谱图生成完成", logging.Fields{
		"frames": len(result.Frames),
		"bins":   result.NumBins(),
		"window": cfg.WindowSize,
		"hop":    cfg.HopSize,
	})

	return result, nil
}
