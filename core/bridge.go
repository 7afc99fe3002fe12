package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lisuiheng/naudio-go/audio"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
)

// Status 当前录音/播放状态
type Status struct {
	Recording     bool   `json:"recording"`
	Playing       bool   `json:"playing"`
	RecordingPath string `json:"recordingPath,omitempty"`
	LastPath      string `json:"lastPath"`
	Format        string `json:"format,omitempty"`
}

// Bridge 把通道上的命令分派到录音/播放会话。
// 所有命令在同一个协程中顺序执行：并发调用方应使用 Invoke，
// 直接调用 StartRecording 等方法时由调用方保证串行。
type Bridge struct {
	config  Config
	system  audio.System
	formats *audio.FormatTable
	paths   *PathBuilder
	ctrl    audio.Controller
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	recording *audio.RecordingSession
	playback  *audio.PlaybackSession
	lastPath  string

	calls     chan pendingCall
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	running   atomic.Bool
}

type pendingCall struct {
	call  interfaces.MethodCall
	reply chan interfaces.Response
}

type Option func(*Bridge)

// WithClock 替换生成文件名使用的时钟
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// NewBridge 创建桥接层，存储目录在第一次录音时创建
func NewBridge(cfg Config, system audio.System, log *slog.Logger, opts ...Option) (*Bridge, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if system == nil {
		return nil, errors.New("audio system cannot be nil")
	}

	dir, err := ResolveStorageDir(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		config:  cfg,
		system:  system,
		formats: audio.NewFormatTable(cfg.FormatOptions()),
		ctrl:    audio.NewController(cfg.Audio.ExclusiveMode),
		logger:  log,
		now:     time.Now,
		calls:   make(chan pendingCall),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.paths = NewPathBuilder(dir, b.now)

	log.Info("Bridge created",
		"channel", cfg.System.Channel,
		"storage_dir", b.paths.Dir(),
		"audio_system", system.Name(),
		"formats", b.formats.Extensions())
	return b, nil
}

// StorageDir 返回录音文件目录
func (b *Bridge) StorageDir() string { return b.paths.Dir() }

// StartRecording 开始录音并返回文件路径；format 为空时使用 3gp
func (b *Bridge) StartRecording(format string) (string, error) {
	if format == "" {
		format = audio.DefaultExtension
	}
	f, err := b.formats.Lookup(format)
	if err != nil {
		return "", err
	}
	if b.recording != nil {
		return "", fmt.Errorf("%w: %s", ErrRecordingInProgress, b.recording.Path())
	}

	b.reapPlayback()
	if !b.ctrl.StartRecording() {
		return "", fmt.Errorf("%w: playback in progress", ErrDeviceBusy)
	}

	path := b.paths.Next(format)
	if err := b.paths.EnsureDir(); err != nil {
		b.ctrl.StopRecording()
		return "", &OpError{Kind: ErrIO, Path: path, Err: err}
	}

	session := audio.NewRecordingSession(b.system, path, f, audio.RecordingOptions{
		Sink:        b.sinkOptions(),
		QueueFrames: b.config.Audio.QueueFrames,
	}, b.logger)

	if err := session.Prepare(); err != nil {
		return "", b.abortRecording(session, err)
	}
	if err := session.Start(); err != nil {
		return "", b.abortRecording(session, err)
	}

	b.recording = session
	b.lastPath = path
	b.metrics.setRecording(true)
	return path, nil
}

func (b *Bridge) abortRecording(session *audio.RecordingSession, cause error) error {
	b.logger.Error("Failed to start recording", "path", session.Path(), "error", cause)
	session.Abort()
	b.ctrl.StopRecording()
	return &OpError{Kind: ErrStartFailed, Path: session.Path(), Err: cause}
}

// StopRecording 结束录音并返回文件路径；没有录音时返回上一次的路径
func (b *Bridge) StopRecording() (string, error) {
	session := b.recording
	if session == nil {
		return b.lastPath, nil
	}
	b.recording = nil
	b.ctrl.StopRecording()
	b.metrics.setRecording(false)

	stopErr := session.Stop()
	releaseErr := session.Release()
	b.metrics.recordingFinished(time.Since(session.StartedAt()), session.Dropped())

	if err := errors.Join(stopErr, releaseErr); err != nil {
		b.logger.Error("Failed to finalize recording", "path", session.Path(), "error", err)
		return session.Path(), &OpError{Kind: ErrStopFailed, Path: session.Path(), Err: err}
	}
	return session.Path(), nil
}

// PlayRecording 播放文件，已有的播放会先被停止
func (b *Bridge) PlayRecording(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &OpError{Kind: ErrNotFound, Path: path}
		}
		return &OpError{Kind: ErrIO, Path: path, Err: err}
	}

	if err := b.releasePlayback(); err != nil {
		b.logger.Warn("Failed to release previous playback", "error", err)
	}
	if !b.ctrl.StartPlaying() {
		return fmt.Errorf("%w: recording in progress", ErrDeviceBusy)
	}

	session := audio.NewPlaybackSession(b.system, path, audio.PlaybackOptions{
		Source:        b.sourceOptions(),
		FrameDuration: b.config.Audio.FrameDuration,
	}, b.logger)

	err := session.Prepare()
	if err == nil {
		err = session.Start()
	}
	if err != nil {
		b.logger.Error("Failed to start playback", "path", path, "error", err)
		if rerr := session.Release(); rerr != nil {
			b.logger.Debug("Release after failed start", "error", rerr)
		}
		b.ctrl.StopPlaying()
		return &OpError{Kind: ErrStartFailed, Path: path, Err: err}
	}

	b.playback = session
	b.metrics.setPlaying(true)
	return nil
}

// StopPlaying 停止并释放当前播放；没有播放时为空操作
func (b *Bridge) StopPlaying() error {
	return b.releasePlayback()
}

func (b *Bridge) releasePlayback() error {
	session := b.playback
	if session == nil {
		return nil
	}
	b.playback = nil
	b.ctrl.StopPlaying()
	b.metrics.setPlaying(false)

	if session.Finished() {
		if err := session.Err(); err != nil {
			b.logger.Warn("Playback ended with error", "path", session.Path(), "error", err)
		}
	}
	if err := session.Release(); err != nil {
		return &OpError{Kind: ErrStopFailed, Path: session.Path(), Err: err}
	}
	return nil
}

// reapPlayback 释放已经自然结束的播放
func (b *Bridge) reapPlayback() {
	if b.playback == nil || !b.playback.Finished() {
		return
	}
	if err := b.releasePlayback(); err != nil {
		b.logger.Warn("Failed to release finished playback", "error", err)
	}
}

// DeleteRecording 删除文件；文件不存在时为空操作
func (b *Bridge) DeleteRecording(path string) error {
	if b.config.Storage.RestrictDeletes && !b.paths.Contains(path) {
		return fmt.Errorf("%w: %s is outside the storage directory", ErrInvalidArgument, path)
	}
	if b.inUse(path) {
		return &OpError{Kind: ErrFileInUse, Path: path}
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &OpError{Kind: ErrIO, Path: path, Err: err}
	}
	b.logger.Info("Recording deleted", "path", path)
	return nil
}

func (b *Bridge) inUse(path string) bool {
	target := cleanPath(path)
	if b.recording != nil && cleanPath(b.recording.Path()) == target {
		return true
	}
	return b.playback != nil && cleanPath(b.playback.Path()) == target
}

func cleanPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Status 返回当前状态
func (b *Bridge) Status() Status {
	st := Status{
		Recording: b.recording != nil,
		Playing:   b.playback != nil && !b.playback.Finished(),
		LastPath:  b.lastPath,
	}
	if b.recording != nil {
		st.RecordingPath = b.recording.Path()
		st.Format = b.recording.Format().String()
	}
	return st
}

// Handle 执行一条命令并生成应答
func (b *Bridge) Handle(call interfaces.MethodCall) interfaces.Response {
	started := time.Now()
	b.logger.Debug("Handling method call", "id", call.ID, "method", call.Method)
	b.reapPlayback()

	var (
		result any
		err    error
	)
	switch call.Method {
	case interfaces.MethodStartRecording:
		var format string
		if format, _, err = call.StringArgument("format"); err == nil {
			result, err = b.StartRecording(format)
		}
	case interfaces.MethodStopRecording:
		result, err = b.StopRecording()
	case interfaces.MethodPlayRecording:
		var (
			path string
			ok   bool
		)
		if path, ok, err = call.StringArgument("path"); err == nil && ok {
			err = b.PlayRecording(path)
		}
	case interfaces.MethodStopPlaying:
		err = b.StopPlaying()
	case interfaces.MethodDeleteRecording:
		var (
			path string
			ok   bool
		)
		if path, ok, err = call.StringArgument("path"); err == nil && ok {
			err = b.DeleteRecording(path)
		}
	case interfaces.MethodGetStatus:
		result = b.Status()
	default:
		b.logger.Warn("Method not implemented", "method", call.Method)
		b.metrics.observeCommand("unknown", string(interfaces.StatusNotImplemented), time.Since(started))
		return interfaces.NotImplemented(call.ID)
	}

	if err != nil {
		resp := b.failure(call.ID, err)
		b.logger.Warn("Method call failed", "method", call.Method, "code", resp.Error.Code, "error", err)
		b.metrics.observeCommand(call.Method, string(interfaces.StatusError), time.Since(started))
		return resp
	}
	b.metrics.observeCommand(call.Method, string(interfaces.StatusSuccess), time.Since(started))
	return interfaces.Success(call.ID, result)
}

func (b *Bridge) failure(id int64, err error) interfaces.Response {
	var details any
	var opErr *OpError
	if errors.As(err, &opErr) {
		details = opErr.Path
	}
	return interfaces.Failure(id, errorCode(err), err.Error(), details)
}

// Run 启动分派循环，直到 ctx 取消或 Close
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("bridge already running")
	}
	b.logger.Info("Starting bridge dispatch loop")
	defer func() {
		if err := b.shutdown(); err != nil {
			b.logger.Error("Failed to release sessions", "error", err)
		}
		close(b.done)
		b.logger.Info("Bridge dispatch loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closeCh:
			return nil
		case p := <-b.calls:
			p.reply <- b.Handle(p.call)
		}
	}
}

// Invoke 把调用交给分派循环并等待应答。ctx 只影响等待，已开始执行的命令会完成。
func (b *Bridge) Invoke(ctx context.Context, call interfaces.MethodCall) (interfaces.Response, error) {
	p := pendingCall{call: call, reply: make(chan interfaces.Response, 1)}
	select {
	case b.calls <- p:
	case <-b.done:
		return interfaces.Response{}, ErrBridgeClosed
	case <-ctx.Done():
		return interfaces.Response{}, ctx.Err()
	}

	select {
	case resp := <-p.reply:
		return resp, nil
	case <-ctx.Done():
		return interfaces.Response{}, ctx.Err()
	}
}

// Close 停止分派循环并结束所有会话
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.closeCh) })
	if b.running.Load() {
		<-b.done
		return nil
	}
	return b.shutdown()
}

func (b *Bridge) shutdown() error {
	var errs []error
	if b.recording != nil {
		if _, err := b.StopRecording(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.releasePlayback(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *Bridge) sinkOptions() audio.SinkOptions {
	return audio.SinkOptions{
		Stream:      b.config.StreamConfig(),
		FFmpegPath:  b.config.Media.FFmpegPath,
		AACBitrate:  b.config.Media.AACBitrate,
		AMRBitrate:  b.config.Media.AMRBitrate,
		OpusBitrate: b.config.Media.OpusBitrate,
		Logger:      b.logger,
	}
}

func (b *Bridge) sourceOptions() audio.SourceOptions {
	return audio.SourceOptions{
		Stream:     b.config.StreamConfig(),
		FFmpegPath: b.config.Media.FFmpegPath,
		Logger:     b.logger,
	}
}
