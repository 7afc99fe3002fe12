// audio/interface.go
package audio

// StreamConfig 描述采集或播放流的参数
type StreamConfig struct {
	SampleRate    int
	Channels      int
	FrameDuration int // 毫秒
}

// FrameSize 返回每个周期的帧数（每声道样本数）
func (c StreamConfig) FrameSize() int {
	return c.SampleRate * c.FrameDuration / 1000
}

// SamplesPerPeriod 返回每个周期的交错样本数
func (c StreamConfig) SamplesPerPeriod() int {
	return c.FrameSize() * c.Channels
}

// DataCallback 接收一个周期的交错 S16 PCM 数据
type DataCallback func(pcm []int16)

// System 定义宿主媒体子系统，负责打开采集和播放设备
type System interface {
	OpenCapture(cfg StreamConfig, cb DataCallback) (CaptureDevice, error)
	OpenPlayback(cfg StreamConfig) (PlaybackDevice, error)
	Name() string
	Close() error
}

// CaptureDevice 定义麦克风采集设备
type CaptureDevice interface {
	Start() error
	Stop() error
	Close() error
}

// PlaybackDevice 定义扬声器播放设备
type PlaybackDevice interface {
	Start() error
	Write(pcm []int16) error
	// Drain 阻塞直到已写入的数据播放完毕
	Drain() error
	Stop() error
	Close() error
}

// Sink 定义编码器输出
type Sink interface {
	Write(pcm []int16) error
	Close() error
}

// Source 定义解码器输入，Read 读出交错 PCM，结束时返回 io.EOF
type Source interface {
	Read(pcm []int16) (int, error)
	SampleRate() int
	Channels() int
	Close() error
}

// Controller 定义录音/播放的半双工控制接口
type Controller interface {
	StartRecording() bool
	StopRecording()
	StartPlaying() bool
	StopPlaying()
	IsRecording() bool
	IsPlaying() bool
}
