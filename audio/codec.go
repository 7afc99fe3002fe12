package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// SinkOptions 编码器参数
type SinkOptions struct {
	Stream      StreamConfig
	FFmpegPath  string
	AACBitrate  int
	AMRBitrate  int
	OpusBitrate int
	Logger      *slog.Logger
}

// SourceOptions 解码器参数；Stream 是 ffmpeg 解码输出的采样率和声道数
type SourceOptions struct {
	Stream     StreamConfig
	FFmpegPath string
	Logger     *slog.Logger
}

// NewSink 按格式创建编码器，原生格式在进程内编码，其余交给 ffmpeg
func NewSink(path string, format Format, opts SinkOptions) (Sink, error) {
	switch format.Encoder {
	case EncoderPCM:
		return newWAVSink(path, opts.Stream)
	case EncoderFLAC:
		return newFLACSink(path, opts.Stream)
	case EncoderOpus:
		return newOggOpusSink(path, opts.Stream, opts.OpusBitrate, opts.Logger)
	case EncoderAAC, EncoderAMRNB:
		return newFFmpegSink(path, format, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// OpenSource 按文件头选择解码器，不依赖扩展名
func OpenSource(path string, opts SourceOptions) (Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(file, magic); err != nil {
		// 文件太短，交给 ffmpeg 报告具体错误
		magic = nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}

	var (
		src       Source
		nativeErr error
	)
	switch string(magic) {
	case "RIFF":
		src, nativeErr = newWAVSource(file)
	case "OggS":
		src, nativeErr = newOggOpusSource(file, opts.Logger)
	case "fLaC":
		file.Close()
		return newFLACSource(path)
	default:
		file.Close()
		return newFFmpegSource(path, opts)
	}
	if nativeErr == nil {
		return src, nil
	}
	file.Close()

	// 非 PCM 的 WAV、非 OPUS 的 Ogg 交给 ffmpeg
	fallback, err := newFFmpegSource(path, opts)
	if err != nil {
		return nil, nativeErr
	}
	return fallback, nil
}
