package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"bpm-key-analyzer/internal/analyzer"
	"bpm-key-analyzer/internal/config"
	"bpm-key-analyzer/internal/decoder"
	"bpm-key-analyzer/internal/fetch"
	"bpm-key-analyzer/internal/key"
	"bpm-key-analyzer/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version = "1.0.0"

	// 命令行参数，覆盖 .env 和环境变量中的配置
	opts = config.Default()

	unweighted       bool
	legacyConfidence bool
)

var rootCmd = &cobra.Command{
	Use:   "bpm-key-analyzer [path|url]...",
	Short: "检测音频文件的BPM和调性",
	Long: `BPM Key Analyzer 是一个CLI工具，用于检测音频文件的速度 (BPM) 和调性 (含 Camelot 编码)。
当前支持 WAV, FLAC 格式，可以传入文件、目录或 http(s) 地址。

BPM 通过频谱能量的自适应阈值检测节拍，再对节拍间隔做直方图统计得到；
调性通过音级分布与 Krumhansl-Schmuckler 调性轮廓的相关性得到。`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runAnalysis,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "静默模式，每个文件输出一行：路径、BPM、调名、Camelot")
	f.BoolVar(&opts.JSONOutput, "json", false, "以JSON格式输出结果")
	f.IntVarP(&opts.Concurrency, "concurrency", "j", opts.Concurrency, "并发处理文件数量")
	f.BoolVar(&opts.BPMOnly, "bpm-only", false, "只检测BPM")
	f.BoolVar(&opts.KeyOnly, "key-only", false, "只检测调性")
	f.IntVar(&opts.TopKeys, "top-keys", opts.TopKeys, "JSON和详细输出中的候选调数量")

	f.IntVar(&opts.BPMSpectrogram.WindowSize, "window-size", opts.BPMSpectrogram.WindowSize, "BPM分析的FFT窗口大小")
	f.IntVar(&opts.BPMSpectrogram.HopSize, "hop-size", opts.BPMSpectrogram.HopSize, "BPM分析的窗口步进")
	f.Float64Var(&opts.BPMSpectrogram.MinFreq, "low-freq", opts.BPMSpectrogram.MinFreq, "BPM分析的最低频率 (Hz)")
	f.Float64Var(&opts.BPMSpectrogram.MaxFreq, "high-freq", opts.BPMSpectrogram.MaxFreq, "BPM分析的最高频率 (Hz)")
	f.IntVar(&opts.KeySpectrogram.WindowSize, "key-window-size", opts.KeySpectrogram.WindowSize, "调性分析的FFT窗口大小")
	f.IntVar(&opts.KeySpectrogram.HopSize, "key-hop-size", opts.KeySpectrogram.HopSize, "调性分析的窗口步进")
	f.Float64Var(&opts.KeySpectrogram.MinFreq, "key-low-freq", opts.KeySpectrogram.MinFreq, "调性分析的最低频率 (Hz)")
	f.Float64Var(&opts.KeySpectrogram.MaxFreq, "key-high-freq", opts.KeySpectrogram.MaxFreq, "调性分析的最高频率 (Hz)")

	f.Float64Var(&opts.Beat.ThresholdPercentage, "threshold", opts.Beat.ThresholdPercentage, "自适应阈值百分比")
	f.IntVar(&opts.Beat.SectionSize, "section-size", opts.Beat.SectionSize, "自适应阈值分段帧数")
	f.Float64Var(&opts.Beat.DebounceSeconds, "debounce", opts.Beat.DebounceSeconds, "相邻节拍最小间隔（秒）")
	f.Float64Var(&opts.Tempo.ScoreDeviation, "score-deviation", opts.Tempo.ScoreDeviation, "直方图候选与最高分的最大偏差")
	f.BoolVar(&unweighted, "unweighted", false, "候选BPM使用算术平均而非按分数加权")
	f.BoolVar(&legacyConfidence, "legacy-confidence", false, "调性置信度使用固定常数10归一化")
	f.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "日志级别: debug, info, warn, error")
	f.BoolP("version", "v", false, "显示版本信息")

	rootCmd.SetVersionTemplate("bpm-key-analyzer version {{.Version}}\n")
	rootCmd.Version = version
}

// loadConfig 以 .env/环境变量为基础，叠加显式设置的命令行参数
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "quiet":
			cfg.Quiet = opts.Quiet
		case "json":
			cfg.JSONOutput = opts.JSONOutput
		case "concurrency":
			cfg.Concurrency = opts.Concurrency
		case "bpm-only":
			cfg.BPMOnly = opts.BPMOnly
		case "key-only":
			cfg.KeyOnly = opts.KeyOnly
		case "top-keys":
			cfg.TopKeys = opts.TopKeys
		case "window-size":
			cfg.BPMSpectrogram.WindowSize = opts.BPMSpectrogram.WindowSize
		case "hop-size":
			cfg.BPMSpectrogram.HopSize = opts.BPMSpectrogram.HopSize
		case "low-freq":
			cfg.BPMSpectrogram.MinFreq = opts.BPMSpectrogram.MinFreq
		case "high-freq":
			cfg.BPMSpectrogram.MaxFreq = opts.BPMSpectrogram.MaxFreq
		case "key-window-size":
			cfg.KeySpectrogram.WindowSize = opts.KeySpectrogram.WindowSize
		case "key-hop-size":
			cfg.KeySpectrogram.HopSize = opts.KeySpectrogram.HopSize
		case "key-low-freq":
			cfg.KeySpectrogram.MinFreq = opts.KeySpectrogram.MinFreq
		case "key-high-freq":
			cfg.KeySpectrogram.MaxFreq = opts.KeySpectrogram.MaxFreq
		case "threshold":
			cfg.Beat.ThresholdPercentage = opts.Beat.ThresholdPercentage
		case "section-size":
			cfg.Beat.SectionSize = opts.Beat.SectionSize
		case "debounce":
			cfg.Beat.DebounceSeconds = opts.Beat.DebounceSeconds
		case "score-deviation":
			cfg.Tempo.ScoreDeviation = opts.Tempo.ScoreDeviation
		case "unweighted":
			cfg.Tempo.Weighted = !unweighted
		case "legacy-confidence":
			if legacyConfidence {
				cfg.Key = key.LegacyConfig()
			} else {
				cfg.Key = key.DefaultConfig()
			}
		case "log-level":
			cfg.LogLevel = opts.LogLevel
		}
	})

	return cfg, cfg.Validate()
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	// 创建分析器实例
	audioAnalyzer := analyzer.NewAnalyzer(cfg)

	// 收集音频文件
	var targets []string
	for _, arg := range args {
		if fetch.IsRemote(arg) {
			targets = append(targets, arg)
			continue
		}
		if _, err := os.Stat(arg); os.IsNotExist(err) {
			return fmt.Errorf("路径不存在: %s", arg)
		}
		files, err := collectAudioFiles(arg, audioAnalyzer.Registry())
		if err != nil {
			return fmt.Errorf("收集音频文件失败: %w", err)
		}
		targets = append(targets, files...)
	}

	if len(targets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), noFilesMessage(audioAnalyzer.Registry()))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	_, err = audioAnalyzer.AnalyzeFiles(ctx, targets)
	return err
}

func noFilesMessage(registry *decoder.DecoderRegistry) string {
	return fmt.Sprintf("未找到支持的音频文件 (支持: %s)", strings.Join(registry.Extensions(), ", "))
}

// collectAudioFiles 遍历路径，收集注册表能解码的文件
func collectAudioFiles(path string, registry *decoder.DecoderRegistry) ([]string, error) {
	var files []string

	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		if registry.Supports(filePath) {
			files = append(files, filePath)
		}

		return nil
	})

	return files, err
}
