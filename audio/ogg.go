package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	opusFrameDuration = 20    // 毫秒
	opusClockRate     = 48000 // RTP 时钟固定为 48kHz
	opusPayloadType   = 111
)

// oggOpusSink 将 PCM 编码为 OPUS 并封装进 Ogg
type oggOpusSink struct {
	writer    *oggwriter.OggWriter
	encoder   *OpusEncoder
	frameSize int // 每帧交错样本数
	pending   []int16
	seq       uint16
	timestamp uint32
	ssrc      uint32
	closed    bool
}

func newOggOpusSink(path string, cfg StreamConfig, bitrate int, logger *slog.Logger) (*oggOpusSink, error) {
	encoder, err := NewOpusEncoder(cfg.SampleRate, cfg.Channels, bitrate, logger)
	if err != nil {
		return nil, err
	}

	writer, err := oggwriter.New(path, uint32(cfg.SampleRate), uint16(cfg.Channels))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create ogg writer: %w", err)
	}

	return &oggOpusSink{
		writer:    writer,
		encoder:   encoder,
		frameSize: cfg.SampleRate * opusFrameDuration / 1000 * cfg.Channels,
		ssrc:      rand.Uint32(),
	}, nil
}

func (s *oggOpusSink) Write(pcm []int16) error {
	if s.closed {
		return os.ErrClosed
	}
	s.pending = append(s.pending, pcm...)
	for len(s.pending) >= s.frameSize {
		if err := s.writeFrame(s.pending[:s.frameSize]); err != nil {
			return err
		}
		s.pending = s.pending[s.frameSize:]
	}
	return nil
}

func (s *oggOpusSink) writeFrame(frame []int16) error {
	data, err := s.encoder.Encode(frame)
	if err != nil {
		return err
	}

	s.seq++
	s.timestamp += opusClockRate * opusFrameDuration / 1000
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: data,
	}
	if err := s.writer.WriteRTP(packet); err != nil {
		return fmt.Errorf("failed to write ogg page: %w", err)
	}
	return nil
}

func (s *oggOpusSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if len(s.pending) > 0 {
		// 尾帧补静音
		frame := make([]int16, s.frameSize)
		copy(frame, s.pending)
		err = s.writeFrame(frame)
	}
	s.pending = nil
	s.encoder.Close()

	if closeErr := s.writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close ogg writer: %w", closeErr)
	}
	return err
}

var opusTagsMagic = []byte("OpusTags")

// oggOpusSource 逐页读取 Ogg 并解码 OPUS
type oggOpusSource struct {
	file       *os.File
	reader     *oggreader.OggReader
	decoder    *OpusDecoder
	sampleRate int
	channels   int
	pending    []int16
}

func newOggOpusSource(file *os.File, logger *slog.Logger) (*oggOpusSource, error) {
	reader, header, err := oggreader.NewWith(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read ogg header: %w", err)
	}

	channels := int(header.Channels)
	sampleRate := int(header.SampleRate)
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		// OpusHead 中的采样率只是原始输入的参考值
		sampleRate = opusClockRate
	}

	decoder, err := NewOpusDecoder(sampleRate, channels, logger)
	if err != nil {
		return nil, err
	}

	return &oggOpusSource{
		file:       file,
		reader:     reader,
		decoder:    decoder,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (s *oggOpusSource) Read(pcm []int16) (int, error) {
	for len(s.pending) == 0 {
		payload, _, err := s.reader.ParseNextPage()
		if err == io.EOF {
			return 0, io.EOF
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read ogg page: %w", err)
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, opusTagsMagic) {
			continue
		}
		decoded, err := s.decoder.Decode(payload)
		if err != nil {
			return 0, err
		}
		s.pending = decoded
	}

	n := copy(pcm, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *oggOpusSource) SampleRate() int { return s.sampleRate }
func (s *oggOpusSource) Channels() int   { return s.channels }

func (s *oggOpusSource) Close() error {
	s.decoder.Close()
	return s.file.Close()
}
