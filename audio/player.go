package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PCMPlayer PortAudio实现的PCM播放器
type PCMPlayer struct {
	config    StreamConfig
	buffer    chan []int16
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
	stream    *portaudio.Stream
	started   bool

	// 只在音频回调中访问
	remaining []int16
}

// newPCMPlayer 打开默认输出设备；PortAudio 由 hostSystem 统一初始化
func newPCMPlayer(cfg StreamConfig, logger *slog.Logger) (*PCMPlayer, error) {
	if cfg.Channels <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid playback config: %d Hz, %d channels", cfg.SampleRate, cfg.Channels)
	}

	player := &PCMPlayer{
		config: cfg,
		buffer: make(chan []int16, 32),
		done:   make(chan struct{}),
		logger: logger,
	}

	stream, err := portaudio.OpenDefaultStream(
		0,                    // 输入通道数(0表示不录音)
		cfg.Channels,         // 输出通道数
		float64(cfg.SampleRate),
		cfg.FrameSize(),
		player.audioCallback,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	player.stream = stream
	return player, nil
}

// audioCallback 以交错格式填充输出缓冲区，数据不足时补静音
func (p *PCMPlayer) audioCallback(out []int16) {
	filled := 0
	for filled < len(out) {
		if len(p.remaining) == 0 {
			select {
			case data := <-p.buffer:
				p.remaining = data
				continue
			default:
			}
			for i := filled; i < len(out); i++ {
				out[i] = 0
			}
			return
		}

		n := copy(out[filled:], p.remaining)
		filled += n
		p.remaining = p.remaining[n:]
	}
}

func (p *PCMPlayer) Start() error {
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	p.started = true
	return nil
}

func (p *PCMPlayer) Write(data []int16) error {
	buf := make([]int16, len(data))
	copy(buf, data)

	select {
	case p.buffer <- buf:
		return nil
	case <-p.done:
		return ErrDeviceClosed
	}
}

func (p *PCMPlayer) Drain() error {
	ticker := time.NewTicker(time.Duration(p.config.FrameDuration) * time.Millisecond)
	defer ticker.Stop()

	for len(p.buffer) > 0 {
		select {
		case <-p.done:
			return ErrDeviceClosed
		case <-ticker.C:
		}
	}

	// 等待最后一个缓冲区和输出延迟
	wait := time.Duration(p.config.FrameDuration) * time.Millisecond
	if info := p.stream.Info(); info != nil {
		wait += info.OutputLatency
	}
	select {
	case <-p.done:
		return ErrDeviceClosed
	case <-time.After(wait):
		return nil
	}
}

func (p *PCMPlayer) Stop() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if !p.started {
			return
		}
		if stopErr := p.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop audio stream: %w", stopErr)
		}
	})
	return err
}

func (p *PCMPlayer) Close() error {
	stopErr := p.Stop()
	if err := p.stream.Close(); err != nil {
		p.logger.Error("failed to close audio stream", "error", err)
		return errors.Join(stopErr, err)
	}
	return stopErr
}
