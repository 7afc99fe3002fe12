package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultQueueFrames = 100

type sessionState int

const (
	stateCreated sessionState = iota
	statePrepared
	stateStarted
	stateStopped
	stateReleased
)

// RecordingOptions 录音会话参数
type RecordingOptions struct {
	Sink        SinkOptions
	QueueFrames int // 采集回调与编码协程之间的缓冲周期数
}

// RecordingSession 一次录音：一个采集设备加一个编码器，生命周期
// Prepare -> Start -> Stop -> Release
type RecordingSession struct {
	id     string
	path   string
	format Format
	system System
	opts   RecordingOptions
	logger *slog.Logger

	capture CaptureDevice
	sink    Sink
	state   sessionState

	mu         sync.RWMutex // 保护 frames 的关闭
	frames     chan []int16
	framesDone bool
	writerDone chan struct{}
	writeErr   error

	dropped   atomic.Int64
	written   atomic.Int64
	startedAt time.Time
}

func NewRecordingSession(system System, path string, format Format, opts RecordingOptions, logger *slog.Logger) *RecordingSession {
	if opts.QueueFrames <= 0 {
		opts.QueueFrames = defaultQueueFrames
	}
	id := uuid.NewString()
	return &RecordingSession{
		id:     id,
		path:   path,
		format: format,
		system: system,
		opts:   opts,
		logger: logger.With("session_id", id, "path", path),
	}
}

func (s *RecordingSession) ID() string           { return s.id }
func (s *RecordingSession) Path() string         { return s.path }
func (s *RecordingSession) Format() Format       { return s.format }
func (s *RecordingSession) Dropped() int64       { return s.dropped.Load() }
func (s *RecordingSession) Samples() int64       { return s.written.Load() }
func (s *RecordingSession) StartedAt() time.Time { return s.startedAt }

// Prepare 创建输出文件和编码器，再打开麦克风
func (s *RecordingSession) Prepare() error {
	if s.state != stateCreated {
		return fmt.Errorf("%w: prepare in state %d", ErrSessionState, s.state)
	}

	sink, err := NewSink(s.path, s.format, s.opts.Sink)
	if err != nil {
		return fmt.Errorf("failed to prepare %s encoder: %w", s.format, err)
	}
	s.sink = sink

	s.frames = make(chan []int16, s.opts.QueueFrames)
	capture, err := s.system.OpenCapture(s.opts.Sink.Stream, s.onData)
	if err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}
	s.capture = capture
	s.state = statePrepared
	return nil
}

// onData 在设备回调线程中执行，不能阻塞
func (s *RecordingSession) onData(pcm []int16) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.framesDone {
		return
	}
	select {
	case s.frames <- pcm:
	default:
		if n := s.dropped.Add(1); n == 1 || n%50 == 0 {
			s.logger.Warn("Encoder queue full, dropping frame", "dropped", n)
		}
	}
}

func (s *RecordingSession) Start() error {
	if s.state != statePrepared {
		return fmt.Errorf("%w: start in state %d", ErrSessionState, s.state)
	}

	s.writerDone = make(chan struct{})
	go s.writeLoop()
	s.state = stateStarted

	if err := s.capture.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	s.startedAt = time.Now()
	s.logger.Info("Recording started", "format", s.format.String())
	return nil
}

func (s *RecordingSession) writeLoop() {
	defer close(s.writerDone)
	for pcm := range s.frames {
		if s.writeErr != nil {
			continue
		}
		if err := s.sink.Write(pcm); err != nil {
			s.writeErr = err
			s.logger.Error("Failed to encode audio", "error", err)
			continue
		}
		s.written.Add(int64(len(pcm)))
	}
}

// Stop 停止采集，排空队列并完成编码器（写文件尾）
func (s *RecordingSession) Stop() error {
	if s.state != stateStarted && s.state != statePrepared {
		return nil
	}
	started := s.state == stateStarted
	s.state = stateStopped

	var errs []error
	if s.capture != nil {
		if err := s.capture.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.framesDone = true
	close(s.frames)
	s.mu.Unlock()

	if started {
		<-s.writerDone
		if s.writeErr != nil {
			errs = append(errs, s.writeErr)
		}
	}

	if err := s.sink.Close(); err != nil {
		errs = append(errs, err)
	}

	if !s.startedAt.IsZero() {
		s.logger.Info("Recording stopped",
			"duration", time.Since(s.startedAt).Round(time.Millisecond),
			"samples", s.written.Load(),
			"dropped", s.dropped.Load())
	} else {
		s.logger.Info("Recording stopped before start")
	}
	return errors.Join(errs...)
}

// Release 释放采集设备
func (s *RecordingSession) Release() error {
	if s.state == stateReleased {
		return nil
	}
	s.state = stateReleased
	if s.capture != nil {
		return s.capture.Close()
	}
	return nil
}

// Abort 用于启动失败：尽量释放所有资源并删除不完整的文件
func (s *RecordingSession) Abort() {
	switch s.state {
	case stateCreated:
		if s.sink != nil {
			_ = s.sink.Close()
		}
	case statePrepared, stateStarted:
		if err := s.Stop(); err != nil {
			s.logger.Debug("Stop during abort failed", "error", err)
		}
	}
	if err := s.Release(); err != nil {
		s.logger.Debug("Release during abort failed", "error", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove incomplete recording", "error", err)
	}
}

// PlaybackOptions 播放会话参数
type PlaybackOptions struct {
	Source        SourceOptions
	FrameDuration int // 毫秒
}

// PlaybackSession 一次播放：一个解码器加一个播放设备
type PlaybackSession struct {
	id     string
	path   string
	system System
	opts   PlaybackOptions
	logger *slog.Logger

	source Source
	device PlaybackDevice
	state  sessionState

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
	played   atomic.Int64
}

func NewPlaybackSession(system System, path string, opts PlaybackOptions, logger *slog.Logger) *PlaybackSession {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = 20
	}
	id := uuid.NewString()
	return &PlaybackSession{
		id:     id,
		path:   path,
		system: system,
		opts:   opts,
		logger: logger.With("session_id", id, "path", path),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *PlaybackSession) ID() string   { return s.id }
func (s *PlaybackSession) Path() string { return s.path }

// Prepare 打开解码器，并按其采样率和声道数打开播放设备
func (s *PlaybackSession) Prepare() error {
	if s.state != stateCreated {
		return fmt.Errorf("%w: prepare in state %d", ErrSessionState, s.state)
	}

	source, err := OpenSource(s.path, s.opts.Source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	s.source = source

	device, err := s.system.OpenPlayback(StreamConfig{
		SampleRate:    source.SampleRate(),
		Channels:      source.Channels(),
		FrameDuration: s.opts.FrameDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to open playback device: %w", err)
	}
	s.device = device
	s.state = statePrepared
	return nil
}

func (s *PlaybackSession) Start() error {
	if s.state != statePrepared {
		return fmt.Errorf("%w: start in state %d", ErrSessionState, s.state)
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	s.state = stateStarted
	go s.pump()
	s.logger.Info("Playback started",
		"sample_rate", s.source.SampleRate(),
		"channels", s.source.Channels())
	return nil
}

func (s *PlaybackSession) pump() {
	defer close(s.done)

	cfg := StreamConfig{
		SampleRate:    s.source.SampleRate(),
		Channels:      s.source.Channels(),
		FrameDuration: s.opts.FrameDuration,
	}
	buf := make([]int16, max(cfg.SamplesPerPeriod(), 1))

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.source.Read(buf)
		if n > 0 {
			if werr := s.device.Write(buf[:n]); werr != nil {
				if !s.stopping() {
					s.err = werr
				}
				return
			}
			s.played.Add(int64(n))
		}
		if err == io.EOF {
			if derr := s.device.Drain(); derr != nil && !s.stopping() {
				s.err = derr
			}
			s.logger.Info("Playback completed", "samples", s.played.Load())
			return
		}
		if err != nil {
			s.err = err
			s.logger.Error("Playback decode failed", "error", err)
			return
		}
	}
}

func (s *PlaybackSession) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Done 在播放结束（自然结束或被停止）后关闭
func (s *PlaybackSession) Done() <-chan struct{} { return s.done }

// Finished 报告播放协程是否已退出
func (s *PlaybackSession) Finished() bool {
	if s.state != stateStarted && s.state != stateStopped {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err 返回播放过程中的错误，只在 Done 关闭后有意义
func (s *PlaybackSession) Err() error { return s.err }

func (s *PlaybackSession) Stop() error {
	if s.state != stateStarted {
		return nil
	}
	s.state = stateStopped

	s.stopOnce.Do(func() { close(s.stopCh) })
	err := s.device.Stop()
	<-s.done
	s.logger.Info("Playback stopped", "samples", s.played.Load())
	return err
}

func (s *PlaybackSession) Release() error {
	if s.state == stateReleased {
		return nil
	}
	if s.state == stateStarted {
		if err := s.Stop(); err != nil {
			s.logger.Warn("Stop before release failed", "error", err)
		}
	}
	s.state = stateReleased

	var errs []error
	if s.device != nil {
		if err := s.device.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
