package audio

import (
	"math"
	"sync"
	"time"
)

const fakeToneHz = 440

// FakeSystem 无硬件环境下使用的音频子系统：采集产生正弦波，播放丢弃数据
type FakeSystem struct {
	// Realtime 为 false 时采集不按周期节拍，尽快产生数据
	Realtime bool

	mu           sync.Mutex
	captureErr   error
	playbackErr  error
	captures     []*FakeCapture
	playbacks    []*FakePlayback
	captureStart error
}

func NewFakeSystem() *FakeSystem {
	return &FakeSystem{Realtime: true}
}

// FailCapture 使后续 OpenCapture 返回 err
func (f *FakeSystem) FailCapture(err error) {
	f.mu.Lock()
	f.captureErr = err
	f.mu.Unlock()
}

// FailCaptureStart 使后续采集设备的 Start 返回 err
func (f *FakeSystem) FailCaptureStart(err error) {
	f.mu.Lock()
	f.captureStart = err
	f.mu.Unlock()
}

// FailPlayback 使后续 OpenPlayback 返回 err
func (f *FakeSystem) FailPlayback(err error) {
	f.mu.Lock()
	f.playbackErr = err
	f.mu.Unlock()
}

func (f *FakeSystem) Name() string { return "fake" }

func (f *FakeSystem) OpenCapture(cfg StreamConfig, cb DataCallback) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.captureErr != nil {
		return nil, f.captureErr
	}
	c := &FakeCapture{
		config:   cfg,
		cb:       cb,
		realtime: f.Realtime,
		startErr: f.captureStart,
	}
	f.captures = append(f.captures, c)
	return c, nil
}

func (f *FakeSystem) OpenPlayback(cfg StreamConfig) (PlaybackDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.playbackErr != nil {
		return nil, f.playbackErr
	}
	p := &FakePlayback{config: cfg}
	f.playbacks = append(f.playbacks, p)
	return p, nil
}

// Captures 返回已打开的采集设备
func (f *FakeSystem) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

// Playbacks 返回已打开的播放设备
func (f *FakeSystem) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

func (f *FakeSystem) Close() error { return nil }

// FakeCapture 周期性地回调正弦波 PCM
type FakeCapture struct {
	config   StreamConfig
	cb       DataCallback
	realtime bool
	startErr error

	mu       sync.Mutex
	stopCh   chan struct{}
	feedDone chan struct{}
	frames   int
	closed   bool
}

func (c *FakeCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.startErr != nil {
		return c.startErr
	}
	if c.stopCh != nil {
		return nil
	}
	c.stopCh = make(chan struct{})
	c.feedDone = make(chan struct{})

	interval := time.Duration(c.config.FrameDuration) * time.Millisecond
	if !c.realtime || interval <= 0 {
		interval = time.Millisecond
	}

	go func(stopCh, feedDone chan struct{}) {
		defer close(feedDone)
		var phase float64
		for {
			pcm := c.tone(&phase)
			c.cb(pcm)
			c.mu.Lock()
			c.frames++
			c.mu.Unlock()

			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
	}(c.stopCh, c.feedDone)
	return nil
}

func (c *FakeCapture) tone(phase *float64) []int16 {
	frameSize := c.config.FrameSize()
	if frameSize <= 0 {
		frameSize = 160
	}
	channels := max(c.config.Channels, 1)
	step := 2 * math.Pi * fakeToneHz / float64(max(c.config.SampleRate, 1))

	pcm := make([]int16, frameSize*channels)
	for i := 0; i < frameSize; i++ {
		v := int16(0.3 * math.MaxInt16 * math.Sin(*phase))
		*phase += step
		for ch := 0; ch < channels; ch++ {
			pcm[i*channels+ch] = v
		}
	}
	return pcm
}

// Stop 返回前采集协程已退出，不会再有回调
func (c *FakeCapture) Stop() error {
	c.mu.Lock()
	stopCh, feedDone := c.stopCh, c.feedDone
	c.stopCh, c.feedDone = nil, nil
	c.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-feedDone
	return nil
}

func (c *FakeCapture) Close() error {
	err := c.Stop()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

// Frames 返回已回调的周期数
func (c *FakeCapture) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Closed 报告设备是否已释放
func (c *FakeCapture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakePlayback 记录写入的样本数
type FakePlayback struct {
	config StreamConfig

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
	samples int
}

func (p *FakePlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

func (p *FakePlayback) Write(pcm []int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrDeviceClosed
	}
	p.samples += len(pcm)
	return nil
}

func (p *FakePlayback) Drain() error { return nil }

func (p *FakePlayback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

func (p *FakePlayback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.closed = true
	return nil
}

// Config 返回打开设备时使用的流参数
func (p *FakePlayback) Config() StreamConfig { return p.config }

// Samples 返回累计写入的交错样本数
func (p *FakePlayback) Samples() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples
}

// Closed 报告设备是否已释放
func (p *FakePlayback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
