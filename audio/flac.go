package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	flacBlockSize     = 4096
	flacBitsPerSample = 16
)

// flacSink 以 verbatim 子帧写 FLAC，每个块一个帧
type flacSink struct {
	enc         *flac.Encoder
	config      StreamConfig
	pending     []int16 // 交错样本，凑满一个块再写
	totalFrames uint64
	closed      bool
}

func newFLACSink(path string, cfg StreamConfig) (*flacSink, error) {
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("%w: flac with %d channels", ErrUnsupportedFormat, cfg.Channels)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create flac file: %w", err)
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(cfg.SampleRate),
		NChannels:     uint8(cfg.Channels),
		BitsPerSample: flacBitsPerSample,
	}
	// 编码器关闭时会回填 StreamInfo 并关闭文件
	enc, err := flac.NewEncoder(file, info)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}

	return &flacSink{enc: enc, config: cfg}, nil
}

func (s *flacSink) Write(pcm []int16) error {
	if s.closed {
		return os.ErrClosed
	}
	s.pending = append(s.pending, pcm...)

	blockSamples := flacBlockSize * s.config.Channels
	for len(s.pending) >= blockSamples {
		if err := s.writeFrame(s.pending[:blockSamples]); err != nil {
			return err
		}
		s.pending = s.pending[blockSamples:]
	}
	return nil
}

func (s *flacSink) writeFrame(block []int16) error {
	channels := s.config.Channels
	nSamples := len(block) / channels

	subframes := make([]*frame.Subframe, channels)
	for ch := 0; ch < channels; ch++ {
		samples := make([]int32, nSamples)
		for i := 0; i < nSamples; i++ {
			samples[i] = int32(block[i*channels+ch])
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{
				Pred: frame.PredVerbatim,
			},
			Samples:  samples,
			NSamples: nSamples,
		}
	}

	layout := frame.ChannelsMono
	if channels == 2 {
		layout = frame.ChannelsLR
	}

	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(nSamples),
			SampleRate:    uint32(s.config.SampleRate),
			Channels:      layout,
			BitsPerSample: flacBitsPerSample,
			Num:           s.totalFrames,
		},
		Subframes: subframes,
	}

	if err := s.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	s.totalFrames += uint64(nSamples)
	return nil
}

func (s *flacSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// 不足一个块的尾部单独成帧
	if whole := len(s.pending) / s.config.Channels * s.config.Channels; whole > 0 {
		if err := s.writeFrame(s.pending[:whole]); err != nil {
			_ = s.enc.Close()
			return err
		}
	}
	s.pending = nil
	return s.enc.Close()
}

// flacSource 解码 FLAC 为 16 位交错 PCM
type flacSource struct {
	stream  *flac.Stream
	pending []int16
	eof     bool
}

func newFLACSource(path string) (*flacSource, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse flac file: %w", err)
	}
	return &flacSource{stream: stream}, nil
}

func (s *flacSource) Read(pcm []int16) (int, error) {
	for len(s.pending) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		f, err := s.stream.ParseNext()
		if err == io.EOF {
			s.eof = true
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to decode flac frame: %w", err)
		}
		s.pending = interleaveFrame(f, int(s.stream.Info.BitsPerSample))
	}

	n := copy(pcm, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// interleaveFrame 将各声道子帧交错并归一到 16 位
func interleaveFrame(f *frame.Frame, bps int) []int16 {
	channels := len(f.Subframes)
	nSamples := int(f.BlockSize)
	out := make([]int16, nSamples*channels)
	for ch, sub := range f.Subframes {
		for i := 0; i < nSamples && i < len(sub.Samples); i++ {
			v := sub.Samples[i]
			switch {
			case bps > 16:
				v >>= uint(bps - 16)
			case bps < 16:
				v <<= uint(16 - bps)
			}
			out[i*channels+ch] = int16(v)
		}
	}
	return out
}

func (s *flacSource) SampleRate() int { return int(s.stream.Info.SampleRate) }
func (s *flacSource) Channels() int   { return int(s.stream.Info.NChannels) }
func (s *flacSource) Close() error    { return s.stream.Close() }
