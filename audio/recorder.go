package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// malgoCapture 基于 miniaudio 的麦克风采集设备
type malgoCapture struct {
	config StreamConfig
	logger *slog.Logger
	device *malgo.Device

	mu      sync.Mutex
	started bool
}

func newMalgoCapture(ctxMalgo *malgo.AllocatedContext, cfg StreamConfig, cb DataCallback, logger *slog.Logger) (*malgoCapture, error) {
	// 计算帧大小 (样本数)
	frameSize := cfg.FrameSize()
	if frameSize <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", frameSize)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(frameSize)

	captureCallback := func(_, pcmData []byte, _ uint32) {
		cb(bytesToInt16(pcmData))
	}

	device, err := malgo.InitDevice(ctxMalgo.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: captureCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio device: %w", err)
	}

	return &malgoCapture{
		config: cfg,
		logger: logger,
		device: device,
	}, nil
}

func (c *malgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}
	c.started = true

	c.logger.Info("Audio capture started",
		"sample_rate", c.config.SampleRate,
		"channels", c.config.Channels,
		"frame_size", c.config.FrameSize())
	return nil
}

// Stop 在 miniaudio 返回前所有回调都已结束
func (c *malgoCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop audio device: %w", err)
	}
	c.logger.Info("Audio capture stopped")
	return nil
}

func (c *malgoCapture) Close() error {
	if err := c.Stop(); err != nil {
		c.logger.Warn("Stop before close failed", "error", err)
	}
	c.device.Uninit()
	return nil
}

// bytesToInt16 将byte切片转换为int16切片
func bytesToInt16(b []byte) []int16 {
	if len(b)%2 != 0 {
		b = b[:len(b)-1] // 确保长度是偶数
	}

	pcm := make([]int16, len(b)/2)
	for i := 0; i < len(pcm); i++ {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// int16ToBytes 将 PCM 以小端序追加到 dst
func int16ToBytes(dst []byte, pcm []int16) []byte {
	for _, s := range pcm {
		dst = append(dst, byte(s), byte(s>>8))
	}
	return dst
}
