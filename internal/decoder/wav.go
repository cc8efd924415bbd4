package decoder

import (
	"fmt"
	"os"
	"time"

	"bpm-key-analyzer/internal/types"

	"github.com/go-audio/wav"
)

// WAVDecoder WAV格式解码器
type WAVDecoder struct{}

// WAVFile WAV文件实现
type WAVFile struct {
	decoder    *wav.Decoder
	file       *os.File
	sampleRate int
	bitDepth   int
	channels   int
	duration   time.Duration
	track      *types.AudioTrack
	metadata   types.AudioMetadata
}

// SupportedFormats 返回支持的格式
func (d *WAVDecoder) SupportedFormats() []string {
	return []string{"wav", "wave"}
}

// Decode 解码WAV文件头和元数据，采样在 GetTrack 时读取
func (d *WAVDecoder) Decode(filePath string) (types.AudioFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开WAV文件失败: %w", err)
	}

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("无效的WAV文件: %s", filePath)
	}

	duration, err := decoder.Duration()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("读取WAV时长失败: %w", err)
	}

	wavFile := &WAVFile{
		decoder:    decoder,
		file:       file,
		sampleRate: int(decoder.SampleRate),
		bitDepth:   int(decoder.BitDepth),
		channels:   int(decoder.NumChans),
		duration:   duration,
	}
	wavFile.metadata = types.AudioMetadata{Duration: duration.String()}

	return wavFile, nil
}

// GetFormat 获取格式名称
func (w *WAVFile) GetFormat() string {
	return "WAV"
}

// GetSampleRate 获取采样率
func (w *WAVFile) GetSampleRate() int {
	return w.sampleRate
}

// GetBitDepth 获取位深度
func (w *WAVFile) GetBitDepth() int {
	return w.bitDepth
}

// GetChannels 获取声道数
func (w *WAVFile) GetChannels() int {
	return w.channels
}

// GetDuration 获取时长
func (w *WAVFile) GetDuration() time.Duration {
	return w.duration
}

// GetTrack 读取全部PCM数据并混合为单声道
func (w *WAVFile) GetTrack() (*types.AudioTrack, error) {
	if w.track != nil {
		return w.track, nil
	}

	buf, err := w.decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("读取WAV采样失败: %w", err)
	}

	// 8位WAV为无符号采样，静音值为128
	if w.bitDepth == 8 {
		for i := range buf.Data {
			buf.Data[i] -= 128
		}
	}

	w.track = &types.AudioTrack{
		Samples:    downmix(buf.Data, w.channels, w.bitDepth),
		SampleRate: w.sampleRate,
	}

	// LIST/INFO 块位于采样数据之后，读完采样再解析
	w.decoder.ReadMetadata()
	if m := w.decoder.Metadata; m != nil {
		w.metadata.Title = m.Title
		w.metadata.Artist = m.Artist
		w.metadata.Album = m.Product
		w.metadata.Year = m.CreationDate
		w.metadata.Genre = m.Genre
	}

	return w.track, nil
}

// GetMetadata 获取元数据，INFO 标签在 GetTrack 之后才可用
func (w *WAVFile) GetMetadata() types.AudioMetadata {
	return w.metadata
}

// Close 关闭文件
func (w *WAVFile) Close() error {
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
