package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// wavHeader WAV文件头结构
type wavHeader struct {
	RiffMark      [4]byte // "RIFF"
	FileSize      uint32  // 文件总大小-8
	WaveMark      [4]byte // "WAVE"
	FmtMark       [4]byte // "fmt "
	FmtSize       uint32  // fmt chunk大小(16)
	AudioFormat   uint16  // 1=PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16  // NumChannels * BitsPerSample/8
	BitsPerSample uint16  // 16
	DataMark      [4]byte // "data"
	DataSize      uint32  // 原始数据大小
}

func writeWavHeader(w io.Writer, sampleRate, channels int, dataSize uint32) error {
	header := wavHeader{
		RiffMark:      [4]byte{'R', 'I', 'F', 'F'},
		FileSize:      36 + dataSize,
		WaveMark:      [4]byte{'W', 'A', 'V', 'E'},
		FmtMark:       [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		BitsPerSample: 16,
		DataMark:      [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	header.ByteRate = header.SampleRate * uint32(header.NumChannels) * uint32(header.BitsPerSample) / 8
	header.BlockAlign = header.NumChannels * header.BitsPerSample / 8

	return binary.Write(w, binary.LittleEndian, &header)
}

// wavSink 写 16 位 PCM WAV，关闭时回填长度字段
type wavSink struct {
	file     *os.File
	w        *bufio.Writer
	config   StreamConfig
	dataSize uint32
	scratch  []byte
	closed   bool
}

func newWAVSink(path string, cfg StreamConfig) (*wavSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	if err := writeWavHeader(file, cfg.SampleRate, cfg.Channels, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &wavSink{
		file:   file,
		w:      bufio.NewWriter(file),
		config: cfg,
	}, nil
}

func (s *wavSink) Write(pcm []int16) error {
	if s.closed {
		return os.ErrClosed
	}
	s.scratch = int16ToBytes(s.scratch[:0], pcm)
	n, err := s.w.Write(s.scratch)
	s.dataSize += uint32(n)
	return err
}

func (s *wavSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush wav data: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		s.file.Close()
		return err
	}
	if err := writeWavHeader(s.file, s.config.SampleRate, s.config.Channels, s.dataSize); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to update WAV header: %w", err)
	}
	return s.file.Close()
}

// wavSource 读取 16 位 PCM WAV
type wavSource struct {
	file       *os.File
	data       io.Reader
	sampleRate int
	channels   int
	scratch    []byte
}

func newWAVSource(file *os.File) (*wavSource, error) {
	r := bufio.NewReader(file)

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupportedFormat)
	}

	src := &wavSource{file: file}
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return nil, fmt.Errorf("failed to read wav chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if audioFormat != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: wav format %d with %d bits", ErrUnsupportedFormat, audioFormat, bits)
			}
			src.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			src.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt", ErrUnsupportedFormat)
			}
			src.data = io.LimitReader(r, int64(size))
			return src, nil
		default:
			// 跳过 LIST 等其它块，块长度按偶数对齐
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

func (s *wavSource) Read(pcm []int16) (int, error) {
	need := len(pcm) * 2
	if cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	buf := s.scratch[:need]

	n, err := io.ReadFull(s.data, buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
		if samples == 0 {
			err = io.EOF
		}
	}
	return samples, err
}

func (s *wavSource) SampleRate() int { return s.sampleRate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) Close() error    { return s.file.Close() }
