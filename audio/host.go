package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/gordonklaus/portaudio"
)

// hostSystem 使用 miniaudio 采集、PortAudio 播放
type hostSystem struct {
	ctxMalgo  *malgo.AllocatedContext
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewHostSystem 初始化宿主音频子系统
func NewHostSystem(logger *slog.Logger) (System, error) {
	ctxMalgo, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	if err := portaudio.Initialize(); err != nil {
		_ = ctxMalgo.Uninit()
		ctxMalgo.Free()
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	return &hostSystem{ctxMalgo: ctxMalgo, logger: logger}, nil
}

func (h *hostSystem) Name() string { return "host" }

func (h *hostSystem) OpenCapture(cfg StreamConfig, cb DataCallback) (CaptureDevice, error) {
	return newMalgoCapture(h.ctxMalgo, cfg, cb, h.logger)
}

func (h *hostSystem) OpenPlayback(cfg StreamConfig) (PlaybackDevice, error) {
	return newPCMPlayer(cfg, h.logger)
}

func (h *hostSystem) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if paErr := portaudio.Terminate(); paErr != nil {
			err = fmt.Errorf("failed to terminate PortAudio: %w", paErr)
		}
		_ = h.ctxMalgo.Uninit()
		h.ctxMalgo.Free()
	})
	return err
}
