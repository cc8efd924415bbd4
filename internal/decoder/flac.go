package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bpm-key-analyzer/internal/types"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"
)

// FLACDecoder FLAC格式解码器
type FLACDecoder struct{}

// FLACFile FLAC文件实现
type FLACFile struct {
	stream     *flac.Stream
	file       *os.File
	sampleRate int
	bitDepth   int
	channels   int
	duration   time.Duration
	track      *types.AudioTrack
	metadata   types.AudioMetadata
}

// SupportedFormats 返回支持的格式
func (d *FLACDecoder) SupportedFormats() []string {
	return []string{"flac"}
}

// Decode 解码FLAC文件头和全部元数据块
func (d *FLACDecoder) Decode(filePath string) (types.AudioFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开FLAC文件失败: %w", err)
	}

	// Parse 会读取 VORBIS_COMMENT 等全部元数据块，New 只读取 STREAMINFO
	stream, err := flac.Parse(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("解析FLAC文件失败: %w", err)
	}

	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		file.Close()
		return nil, fmt.Errorf("无法读取FLAC信息: %s", filePath)
	}

	duration := time.Duration(float64(info.NSamples) / float64(info.SampleRate) * float64(time.Second))

	flacFile := &FLACFile{
		stream:     stream,
		file:       file,
		sampleRate: int(info.SampleRate),
		bitDepth:   int(info.BitsPerSample),
		channels:   int(info.NChannels),
		duration:   duration,
	}
	flacFile.metadata = types.AudioMetadata{Duration: duration.String()}
	flacFile.parseMetadata()

	return flacFile, nil
}

// parseMetadata 解析FLAC元数据
func (f *FLACFile) parseMetadata() {
	for _, block := range f.stream.Blocks {
		if block.Header.Type != meta.TypeVorbisComment {
			continue
		}
		if comment, ok := block.Body.(*meta.VorbisComment); ok {
			f.metadata.Title = getVorbisTag(comment, "TITLE")
			f.metadata.Artist = getVorbisTag(comment, "ARTIST")
			f.metadata.Album = getVorbisTag(comment, "ALBUM")
			f.metadata.Year = getVorbisTag(comment, "DATE")
			f.metadata.Genre = getVorbisTag(comment, "GENRE")
		}
	}
}

// getVorbisTag 获取Vorbis注释标签，标签名不区分大小写
func getVorbisTag(comment *meta.VorbisComment, tag string) string {
	for _, field := range comment.Tags {
		if strings.EqualFold(field[0], tag) {
			return field[1]
		}
	}
	return ""
}

// GetFormat 获取格式名称
func (f *FLACFile) GetFormat() string {
	return "FLAC"
}

// GetSampleRate 获取采样率
func (f *FLACFile) GetSampleRate() int {
	return f.sampleRate
}

// GetBitDepth 获取位深度
func (f *FLACFile) GetBitDepth() int {
	return f.bitDepth
}

// GetChannels 获取声道数
func (f *FLACFile) GetChannels() int {
	return f.channels
}

// GetDuration 获取时长
func (f *FLACFile) GetDuration() time.Duration {
	return f.duration
}

// GetTrack 逐帧解码并混合为单声道
func (f *FLACFile) GetTrack() (*types.AudioTrack, error) {
	if f.track != nil {
		return f.track, nil
	}

	interleaved := make([]int, 0, int(f.stream.Info.NSamples)*f.channels)
	for {
		frame, err := f.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解码FLAC帧失败: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < f.channels; ch++ {
				interleaved = append(interleaved, int(frame.Subframes[ch].Samples[i]))
			}
		}
	}

	f.track = &types.AudioTrack{
		Samples:    downmix(interleaved, f.channels, f.bitDepth),
		SampleRate: f.sampleRate,
	}
	return f.track, nil
}

// GetMetadata 获取元数据
func (f *FLACFile) GetMetadata() types.AudioMetadata {
	return f.metadata
}

// Close 关闭文件
func (f *FLACFile) Close() error {
	if f.file != nil {
		return f.file.Close()
	}
	return nil
}
