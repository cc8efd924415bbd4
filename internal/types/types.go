package types

import "time"

// 分析状态
const (
	StatusOK            = "OK"
	StatusLowConfidence = "LOW_CONFIDENCE"
	StatusError         = "ERROR"
)

// AudioTrack 解码后的单声道音频
type AudioTrack struct {
	Samples    []float32
	SampleRate int
}

// Duration 返回音频时长
func (t *AudioTrack) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(t.Samples)) / float64(t.SampleRate) * float64(time.Second))
}

// AudioMetadata 音频元数据
type AudioMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Year     string `json:"year,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// TempoDetails BPM检测结果
type TempoDetails struct {
	BPM         float64 `json:"bpm"`
	Reliable    bool    `json:"bpmReliable"`
	Reason      string  `json:"bpmReason,omitempty"`
	Beats       int     `json:"beats"`
	RawBPM      float64 `json:"rawBpm,omitempty"`
	Subdivision int     `json:"subdivision,omitempty"`
}

// KeyCandidate 候选调
type KeyCandidate struct {
	Name    string  `json:"name"`
	Camelot string  `json:"camelot"`
	Score   float64 `json:"score"`
}

// KeyDetails 调性检测结果
type KeyDetails struct {
	Name       string         `json:"name"`
	Camelot    string         `json:"camelot"`
	Confidence float64        `json:"confidence"`
	IsMajor    bool           `json:"isMajor"`
	Index      int            `json:"index"`
	Candidates []KeyCandidate `json:"candidates,omitempty"`
}

// AnalysisResult 分析结果
type AnalysisResult struct {
	FilePath   string        `json:"filePath"`
	Format     string        `json:"format"`
	Metadata   AudioMetadata `json:"metadata"`
	Status     string        `json:"status"` // "OK", "LOW_CONFIDENCE", "ERROR"
	SampleRate int           `json:"sampleRate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	Duration   float64       `json:"duration,omitempty"`
	Tempo      *TempoDetails `json:"tempo,omitempty"`
	Key        *KeyDetails   `json:"key,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// AudioFile 音频文件接口
type AudioFile interface {
	GetFormat() string
	GetSampleRate() int
	GetBitDepth() int
	GetChannels() int
	GetDuration() time.Duration
	// GetTrack 读取全部采样并混合为单声道
	GetTrack() (*AudioTrack, error)
	GetMetadata() AudioMetadata
	Close() error
}
