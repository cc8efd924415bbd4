package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bpm-key-analyzer/internal/config"
	"bpm-key-analyzer/internal/decoder"
	"bpm-key-analyzer/internal/fetch"
	"bpm-key-analyzer/internal/logging"
	"bpm-key-analyzer/internal/types"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	errColor  = color.New(color.FgRed).SprintFunc()
	nameColor = color.New(color.Bold).SprintFunc()
)

// Analyzer 音频分析器
type Analyzer struct {
	config          *config.Config
	decoderRegistry *decoder.DecoderRegistry
	downloader      *fetch.Downloader
	out             io.Writer
}

// NewAnalyzer 创建新的分析器
func NewAnalyzer(cfg *config.Config) *Analyzer {
	return &Analyzer{
		config:          cfg,
		decoderRegistry: decoder.NewDecoderRegistry(),
		downloader:      fetch.NewDownloader(),
		out:             os.Stdout,
	}
}

// SetOutput 设置结果输出位置
func (a *Analyzer) SetOutput(w io.Writer) {
	a.out = w
}

// Registry 返回解码器注册表
func (a *Analyzer) Registry() *decoder.DecoderRegistry {
	return a.decoderRegistry
}

type job struct {
	index  int
	target string
}

type indexedResult struct {
	index  int
	result *types.AnalysisResult
}

// AnalyzeFiles 分析多个本地文件或远程地址，按输入顺序返回结果
func (a *Analyzer) AnalyzeFiles(ctx context.Context, targets []string) ([]*types.AnalysisResult, error) {
	// 创建进度条
	var bar *progressbar.ProgressBar
	if !a.config.Quiet && !a.config.JSONOutput {
		bar = progressbar.NewOptions(len(targets),
			progressbar.OptionSetDescription("分析音频文件"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowIts(),
		)
	}

	concurrency := a.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	jobs := make(chan job, len(targets))
	results := make(chan indexedResult, len(targets))

	// 启动工作协程
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- indexedResult{index: j.index, result: a.analyzeFile(ctx, j.target)}
				if bar != nil {
					bar.Add(1)
				}
			}
		}()
	}

	for i, target := range targets {
		jobs <- job{index: i, target: target}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// 按完成顺序输出，按输入顺序返回
	ordered := make([]*types.AnalysisResult, len(targets))
	for r := range results {
		ordered[r.index] = r.result
		a.outputResult(r.result)
	}

	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if !a.config.Quiet && !a.config.JSONOutput {
		a.printSummary(ordered)
	}

	return ordered, ctx.Err()
}

// analyzeFile 分析单个音频文件，远程地址先下载到临时文件
func (a *Analyzer) analyzeFile(ctx context.Context, target string) *types.AnalysisResult {
	result := &types.AnalysisResult{
		FilePath: target,
		Status:   types.StatusError,
	}
	log := logging.WithFields(logging.Fields{"file": target})

	if err := ctx.Err(); err != nil {
		result.Error = fmt.Sprintf("已取消: %v", err)
		return result
	}

	path := target
	if fetch.IsRemote(target) {
		local, cleanup, err := a.downloader.Download(ctx, target)
		if err != nil {
			result.Error = fmt.Sprintf("下载失败: %v", err)
			log.Error(err, "下载失败")
			return result
		}
		defer cleanup()
		path = local
	}

	// 解码音频文件
	audioFile, err := a.decoderRegistry.DecodeFile(path)
	if err != nil {
		result.Error = fmt.Sprintf("解码失败: %v", err)
		log.Error(err, "解码失败")
		return result
	}
	defer audioFile.Close()

	result.Format = audioFile.GetFormat()
	result.SampleRate = audioFile.GetSampleRate()
	result.Channels = audioFile.GetChannels()
	result.Duration = audioFile.GetDuration().Seconds()

	track, err := audioFile.GetTrack()
	if err != nil {
		result.Error = fmt.Sprintf("读取音频数据失败: %v", err)
		log.Error(err, "读取音频数据失败")
		return result
	}
	result.Metadata = audioFile.GetMetadata()

	analysis, err := AnalyzeTrack(track, a.config)
	result.Tempo = analysis.Tempo
	result.Key = analysis.Key
	if err != nil {
		result.Error = err.Error()
		log.Error(err, "分析失败")
		return result
	}

	result.Status = statusOf(analysis)

	fields := logging.Fields{"status": result.Status}
	if result.Tempo != nil {
		fields["bpm"] = result.Tempo.BPM
	}
	if result.Key != nil {
		fields["key"] = result.Key.Name
		fields["camelot"] = result.Key.Camelot
	}
	log.Info("分析完成", fields)

	return result
}

// statusOf BPM使用了默认值或没有调性能量时标记为低可信度
func statusOf(analysis *TrackAnalysis) string {
	if analysis.Tempo != nil && !analysis.Tempo.Reliable {
		return types.StatusLowConfidence
	}
	if analysis.Key != nil && analysis.Key.Confidence == 0 {
		return types.StatusLowConfidence
	}
	return types.StatusOK
}

// outputResult 输出单个分析结果
func (a *Analyzer) outputResult(result *types.AnalysisResult) {
	// 静默模式，每个文件一行
	if a.config.Quiet {
		fmt.Fprintln(a.out, quietLine(result))
		return
	}

	// JSON输出格式
	if a.config.JSONOutput {
		jsonData, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON序列化失败: %v\n", err)
			return
		}
		fmt.Fprintln(a.out, string(jsonData))
		return
	}

	a.printDetailedResult(result)
}

// quietLine 路径、BPM、调名、Camelot，以制表符分隔
func quietLine(result *types.AnalysisResult) string {
	fields := []string{result.FilePath}
	if result.Status == types.StatusError {
		return strings.Join(append(fields, types.StatusError), "\t")
	}
	if result.Tempo != nil {
		fields = append(fields, fmt.Sprintf("%.1f", result.Tempo.BPM))
	}
	if result.Key != nil {
		fields = append(fields, result.Key.Name, result.Key.Camelot)
	}
	return strings.Join(fields, "\t")
}

// printDetailedResult 打印详细结果
func (a *Analyzer) printDetailedResult(result *types.AnalysisResult) {
	w := a.out
	fmt.Fprintf(w, "\n=== %s ===\n", nameColor(filepath.Base(result.FilePath)))
	fmt.Fprintf(w, "路径: %s\n", result.FilePath)
	if result.Format != "" {
		fmt.Fprintf(w, "格式: %s\n", result.Format)
	}
	fmt.Fprintf(w, "状态: %s\n", colorStatus(result.Status))

	if result.Format != "" {
		fmt.Fprintf(w, "采样率: %d Hz\n", result.SampleRate)
		fmt.Fprintf(w, "声道数: %d\n", result.Channels)
		fmt.Fprintf(w, "时长: %.2f 秒\n", result.Duration)
	}

	// 元数据
	if result.Metadata.Title != "" {
		fmt.Fprintf(w, "标题: %s\n", result.Metadata.Title)
	}
	if result.Metadata.Artist != "" {
		fmt.Fprintf(w, "艺术家: %s\n", result.Metadata.Artist)
	}
	if result.Metadata.Album != "" {
		fmt.Fprintf(w, "专辑: %s\n", result.Metadata.Album)
	}

	if t := result.Tempo; t != nil {
		fmt.Fprintf(w, "BPM: %.1f (%d 个节拍)\n", t.BPM, t.Beats)
		if t.Subdivision > 1 {
			fmt.Fprintf(w, "  原始检测值 %.1f，按 1/%d 修正\n", t.RawBPM, t.Subdivision)
		}
		if !t.Reliable {
			fmt.Fprintf(w, "  %s %s\n", warnColor("BPM不可信，使用默认值:"), t.Reason)
		}
	}

	if k := result.Key; k != nil {
		fmt.Fprintf(w, "调性: %s (Camelot %s)，置信度 %.2f\n", k.Name, k.Camelot, k.Confidence)
		if len(k.Candidates) > 1 {
			names := make([]string, 0, len(k.Candidates)-1)
			for _, c := range k.Candidates[1:] {
				names = append(names, fmt.Sprintf("%s/%s", c.Name, c.Camelot))
			}
			fmt.Fprintf(w, "  其他候选: %s\n", strings.Join(names, ", "))
		}
	}

	if result.Error != "" {
		fmt.Fprintf(w, "错误: %s\n", errColor(result.Error))
	}
}

func colorStatus(status string) string {
	switch status {
	case types.StatusOK:
		return okColor(status)
	case types.StatusLowConfidence:
		return warnColor(status)
	default:
		return errColor(status)
	}
}

// printSummary 打印统计摘要
func (a *Analyzer) printSummary(results []*types.AnalysisResult) {
	total := len(results)
	ok, low, failed := 0, 0, 0

	for _, result := range results {
		if result == nil {
			continue
		}
		switch result.Status {
		case types.StatusOK:
			ok++
		case types.StatusLowConfidence:
			low++
		case types.StatusError:
			failed++
		}
	}

	w := a.out
	fmt.Fprintf(w, "\n=== 分析统计 ===\n")
	fmt.Fprintf(w, "总文件数: %d\n", total)
	fmt.Fprintf(w, "正常: %s\n", okColor(ok))
	if low > 0 {
		fmt.Fprintf(w, "低可信度: %s\n", warnColor(low))
	}
	if failed > 0 {
		fmt.Fprintf(w, "错误文件: %s\n", errColor(failed))
	}
}
