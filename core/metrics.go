package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 记录桥接层的命令与会话指标；nil 时所有方法为空操作
type Metrics struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	recording       prometheus.Gauge
	playing         prometheus.Gauge
	droppedFrames   prometheus.Counter
	recordedSeconds prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "naudio",
		Subsystem: "bridge",
		Name:      "commands_total",
		Help:      "Number of handled commands with method and status labels",
	}, []string{"method", "status"}) // status: success, error, notImplemented

	m.commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "naudio",
		Subsystem: "bridge",
		Name:      "command_duration_ms",
		Help:      "A histogram of command handling latencies in milliseconds.",
		Buckets:   []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"method"})

	m.recording = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "naudio",
		Subsystem: "bridge",
		Name:      "recording",
		Help:      "1 while a recording session is live",
	})

	m.playing = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "naudio",
		Subsystem: "bridge",
		Name:      "playing",
		Help:      "1 while a playback session is live",
	})

	m.droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "naudio",
		Subsystem: "recorder",
		Name:      "dropped_frames_total",
		Help:      "Capture periods dropped because the encoder queue was full",
	})

	m.recordedSeconds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "naudio",
		Subsystem: "recorder",
		Name:      "recorded_seconds_total",
		Help:      "Wall-clock duration of finished recordings",
	})

	if reg != nil {
		reg.MustRegister(m.commands, m.commandDuration, m.recording, m.playing, m.droppedFrames, m.recordedSeconds)
	}
	return m
}

func (m *Metrics) observeCommand(method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.With(prometheus.Labels{"method": method, "status": status}).Inc()
	m.commandDuration.With(prometheus.Labels{"method": method}).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) setRecording(on bool) {
	if m == nil {
		return
	}
	m.recording.Set(boolGauge(on))
}

func (m *Metrics) setPlaying(on bool) {
	if m == nil {
		return
	}
	m.playing.Set(boolGauge(on))
}

func (m *Metrics) recordingFinished(duration time.Duration, dropped int64) {
	if m == nil {
		return
	}
	m.recordedSeconds.Add(duration.Seconds())
	m.droppedFrames.Add(float64(dropped))
}

func boolGauge(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
