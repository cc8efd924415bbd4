package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"bpm-key-analyzer/internal/beat"
	"bpm-key-analyzer/internal/key"
	"bpm-key-analyzer/internal/spectrogram"
	"bpm-key-analyzer/internal/tempo"

	"github.com/joho/godotenv"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "ANALYZER_"

// Config 分析器配置
type Config struct {
	BPMSpectrogram spectrogram.Config
	KeySpectrogram spectrogram.Config
	Beat           beat.Config
	Tempo          tempo.Config
	Key            key.Config

	Concurrency int    // 并发数
	Quiet       bool   // 静默模式
	JSONOutput  bool   // JSON输出格式
	BPMOnly     bool   // 只检测BPM
	KeyOnly     bool   // 只检测调性
	TopKeys     int    // JSON中输出的候选调数量
	LogLevel    string // debug, info, warn, error
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		BPMSpectrogram: spectrogram.BPMConfig(),
		KeySpectrogram: spectrogram.KeyConfig(),
		Beat:           beat.DefaultConfig(),
		Tempo:          tempo.DefaultConfig(),
		Key:            key.DefaultConfig(),
		Concurrency:    runtime.NumCPU(),
		TopKeys:        3,
		LogLevel:       "warn",
	}
}

// Load 读取 .env 文件（如存在）和 ANALYZER_* 环境变量，覆盖默认配置
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 文件失败: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv 逐项读取环境变量
func (c *Config) applyEnv() error {
	ints := map[string]*int{
		"WINDOW_SIZE":     &c.BPMSpectrogram.WindowSize,
		"HOP_SIZE":        &c.BPMSpectrogram.HopSize,
		"KEY_WINDOW_SIZE": &c.KeySpectrogram.WindowSize,
		"KEY_HOP_SIZE":    &c.KeySpectrogram.HopSize,
		"SECTION_SIZE":    &c.Beat.SectionSize,
		"CONCURRENCY":     &c.Concurrency,
		"TOP_KEYS":        &c.TopKeys,
	}
	for name, dst := range ints {
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("环境变量 %s%s 不是整数: %q", EnvPrefix, name, raw)
		}
		*dst = v
	}

	floatVars := map[string]*float64{
		"LOW_FREQ":        &c.BPMSpectrogram.MinFreq,
		"HIGH_FREQ":       &c.BPMSpectrogram.MaxFreq,
		"KEY_LOW_FREQ":    &c.KeySpectrogram.MinFreq,
		"KEY_HIGH_FREQ":   &c.KeySpectrogram.MaxFreq,
		"THRESHOLD":       &c.Beat.ThresholdPercentage,
		"DEBOUNCE":        &c.Beat.DebounceSeconds,
		"SCORE_DEVIATION": &c.Tempo.ScoreDeviation,
	}
	for name, dst := range floatVars {
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("环境变量 %s%s 不是数字: %q", EnvPrefix, name, raw)
		}
		*dst = v
	}

	if raw, ok := lookup("WEIGHTED_BPM"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("环境变量 %sWEIGHTED_BPM 不是布尔值: %q", EnvPrefix, raw)
		}
		c.Tempo.Weighted = v
	}
	if raw, ok := lookup("LEGACY_CONFIDENCE"); ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("环境变量 %sLEGACY_CONFIDENCE 不是布尔值: %q", EnvPrefix, raw)
		}
		if v {
			c.Key = key.LegacyConfig()
		}
	}
	if raw, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(raw)
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Validate 检查配置
func (c *Config) Validate() error {
	if c.BPMOnly && c.KeyOnly {
		return errors.New("--bpm-only 和 --key-only 不能同时使用")
	}
	if err := c.BPMSpectrogram.Validate(); err != nil {
		return fmt.Errorf("BPM频谱参数: %w", err)
	}
	if err := c.KeySpectrogram.Validate(); err != nil {
		return fmt.Errorf("调性频谱参数: %w", err)
	}
	if c.Beat.SectionSize < 2 {
		return fmt.Errorf("分段大小必须至少为2帧 (%d)", c.Beat.SectionSize)
	}
	if c.Beat.ThresholdPercentage < 0 || c.Beat.ThresholdPercentage > 1 {
		return fmt.Errorf("阈值百分比必须在 [0,1] 内 (%.2f)", c.Beat.ThresholdPercentage)
	}
	if c.Beat.ClusterGap < 0 {
		return fmt.Errorf("聚类间隔不能为负数 (%.3f)", c.Beat.ClusterGap)
	}
	if c.Beat.DebounceSeconds < 0 {
		return fmt.Errorf("节拍最小间隔不能为负数 (%.3f)", c.Beat.DebounceSeconds)
	}
	if c.Tempo.ScoreDeviation < 0 || c.Tempo.ScoreDeviation >= 1 {
		return fmt.Errorf("分数偏差必须在 [0,1) 内 (%.2f)", c.Tempo.ScoreDeviation)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("并发数必须为正数 (%d)", c.Concurrency)
	}
	return nil
}
