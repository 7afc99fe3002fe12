// audio/controller.go
package audio

import "sync"

// controller 实现录音/播放互斥逻辑
type controller struct {
	mu          sync.Mutex
	exclusive   bool
	isRecording bool
	isPlaying   bool
}

// NewController 创建控制器；exclusive 为 true 时录音与播放互斥（半双工设备）
func NewController(exclusive bool) Controller {
	return &controller{exclusive: exclusive}
}

func (c *controller) StartRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exclusive && c.isPlaying {
		return false
	}

	c.isRecording = true
	return true
}

func (c *controller) StopRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isRecording = false
}

func (c *controller) StartPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exclusive && c.isRecording {
		return false
	}

	c.isPlaying = true
	return true
}

func (c *controller) StopPlaying() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isPlaying = false
}

func (c *controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRecording
}

func (c *controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPlaying
}
