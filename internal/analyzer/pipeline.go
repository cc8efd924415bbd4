package analyzer

import (
	"fmt"

	"bpm-key-analyzer/internal/beat"
	"bpm-key-analyzer/internal/chroma"
	"bpm-key-analyzer/internal/config"
	"bpm-key-analyzer/internal/key"
	"bpm-key-analyzer/internal/spectrogram"
	"bpm-key-analyzer/internal/tempo"
	"bpm-key-analyzer/internal/types"

	"golang.org/x/sync/errgroup"
)

// TrackAnalysis 单个音轨的BPM和调性结果，未执行的一项为 nil
type TrackAnalysis struct {
	Tempo *types.TempoDetails
	Key   *types.KeyDetails
}

// AnalyzeTrack 并行执行BPM和调性两条分析路径。
// 两条路径只读共享采样；任一路径失败时另一条的结果仍会返回。
func AnalyzeTrack(track *types.AudioTrack, cfg *config.Config) (*TrackAnalysis, error) {
	result := &TrackAnalysis{}

	var g errgroup.Group
	if !cfg.KeyOnly {
		g.Go(func() error {
			t, err := AnalyzeTempo(track, cfg)
			if err != nil {
				return fmt.Errorf("BPM分析失败: %w", err)
			}
			result.Tempo = t
			return nil
		})
	}
	if !cfg.BPMOnly {
		g.Go(func() error {
			k, err := AnalyzeKey(track, cfg)
			if err != nil {
				return fmt.Errorf("调性分析失败: %w", err)
			}
			result.Key = k
			return nil
		})
	}

	return result, g.Wait()
}

// AnalyzeTempo 频谱图 -> 节拍 -> BPM，并应用范围校验和默认值
func AnalyzeTempo(track *types.AudioTrack, cfg *config.Config) (*types.TempoDetails, error) {
	s, err := spectrogram.Generate(track.Samples, track.SampleRate, cfg.BPMSpectrogram)
	if err != nil {
		return nil, err
	}

	beats, _, err := beat.Detect(s, cfg.Beat)
	if err != nil {
		return nil, err
	}

	details := &types.TempoDetails{Beats: len(beats)}

	est, estErr := tempo.EstimateDetailed(beats, cfg.Tempo)
	bpm := 0.0
	if est != nil {
		bpm = est.BPM
		details.RawBPM = est.RawBPM
		details.Subdivision = est.Subdivision
	}

	resolved, err := tempo.Resolve(bpm, estErr, cfg.Tempo)
	if err != nil {
		return nil, err
	}
	details.BPM = resolved.BPM
	details.Reliable = resolved.Reliable
	details.Reason = resolved.Reason

	return details, nil
}

// AnalyzeKey 音级分布 -> 调性
func AnalyzeKey(track *types.AudioTrack, cfg *config.Config) (*types.KeyDetails, error) {
	profile, err := chroma.Compute(track.Samples, track.SampleRate, cfg.KeySpectrogram)
	if err != nil {
		return nil, err
	}

	mk := key.Detect(profile, cfg.Key)
	details := &types.KeyDetails{
		Name:       mk.Name,
		Camelot:    mk.Camelot,
		Confidence: mk.Confidence,
		IsMajor:    mk.IsMajor,
		Index:      mk.Index,
	}

	ranked := key.DetectRanked(profile)
	for i := 0; i < cfg.TopKeys && i < len(ranked); i++ {
		details.Candidates = append(details.Candidates, types.KeyCandidate{
			Name:    ranked[i].Key.Name(),
			Camelot: ranked[i].Key.Camelot(),
			Score:   ranked[i].Score,
		})
	}

	return details, nil
}
