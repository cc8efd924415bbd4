package decoder

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"bpm-key-analyzer/internal/types"
)

// ErrUnsupportedFormat 没有对应扩展名的解码器
var ErrUnsupportedFormat = errors.New("不支持的音频格式")

// AudioDecoder 音频解码器接口
type AudioDecoder interface {
	Decode(filePath string) (types.AudioFile, error)
	SupportedFormats() []string
}

// DecoderRegistry 解码器注册表
type DecoderRegistry struct {
	decoders map[string]AudioDecoder
}

// NewDecoderRegistry 创建新的解码器注册表
func NewDecoderRegistry() *DecoderRegistry {
	registry := &DecoderRegistry{
		decoders: make(map[string]AudioDecoder),
	}

	registry.Register(&WAVDecoder{})
	registry.Register(&FLACDecoder{})

	return registry
}

// Register 注册解码器
func (r *DecoderRegistry) Register(decoder AudioDecoder) {
	for _, format := range decoder.SupportedFormats() {
		r.decoders[strings.ToLower(format)] = decoder
	}
}

// Extensions 返回已注册的扩展名（带点号，已排序）
func (r *DecoderRegistry) Extensions() []string {
	exts := make([]string, 0, len(r.decoders))
	for format := range r.decoders {
		exts = append(exts, "."+format)
	}
	sort.Strings(exts)
	return exts
}

// Supports 判断文件扩展名是否有对应的解码器
func (r *DecoderRegistry) Supports(filePath string) bool {
	_, err := r.GetDecoder(filePath)
	return err == nil
}

// GetDecoder 根据文件扩展名获取解码器
func (r *DecoderRegistry) GetDecoder(filePath string) (AudioDecoder, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return nil, fmt.Errorf("无法确定文件格式: %s", filePath)
	}

	// 移除点号
	ext = ext[1:]

	decoder, exists := r.decoders[ext]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	return decoder, nil
}

// DecodeFile 解码音频文件
func (r *DecoderRegistry) DecodeFile(filePath string) (types.AudioFile, error) {
	decoder, err := r.GetDecoder(filePath)
	if err != nil {
		return nil, err
	}

	return decoder.Decode(filePath)
}

// downmix 把交错的多声道整数采样取平均，归一化到 [-1, 1)
func downmix(interleaved []int, channels, bitDepth int) []float32 {
	if channels < 1 {
		channels = 1
	}
	maxVal := float64(int64(1) << uint(bitDepth-1))
	frames := len(interleaved) / channels

	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += interleaved[i*channels+ch]
		}
		mono[i] = float32(float64(sum) / float64(channels) / maxVal)
	}
	return mono
}
