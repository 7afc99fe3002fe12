package audio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultFFmpegPath = "ffmpeg"

// ffmpegStartupGrace 启动后等待这段时间确认编码进程没有立即退出
var ffmpegStartupGrace = 200 * time.Millisecond

var (
	encodersMu    sync.Mutex
	encodersCache = make(map[string]map[string]bool)
)

// amrSampleRate AMR-NB 只支持 8kHz 单声道
const amrSampleRate = 8000

func lookFFmpeg(path string) (string, error) {
	if path == "" {
		path = defaultFFmpegPath
	}
	bin, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found: %v", ErrCodecUnavailable, path, err)
	}
	return bin, nil
}

// ffmpegEncoders 返回 bin 支持的音频编码器，结果按 bin 缓存
func ffmpegEncoders(bin string) (map[string]bool, error) {
	encodersMu.Lock()
	defer encodersMu.Unlock()
	if encoders, ok := encodersCache[bin]; ok {
		return encoders, nil
	}

	out, err := exec.Command(bin, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s -encoders: %v", ErrCodecUnavailable, bin, err)
	}
	encoders := make(map[string]bool)
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		// " A....D aac    AAC (Advanced Audio Coding)"
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'A' {
			continue
		}
		encoders[fields[1]] = true
	}
	encodersCache[bin] = encoders
	return encoders, nil
}

func ffmpegEncoderName(enc Encoder) string {
	switch enc {
	case EncoderAAC:
		return "aac"
	case EncoderAMRNB:
		return "libopencore_amrnb"
	}
	return ""
}

// ffmpegEncodeArgs 组装从 stdin 读取 s16le 并写出 path 的参数
func ffmpegEncodeArgs(path string, format Format, opts SinkOptions) ([]string, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(opts.Stream.SampleRate),
		"-ac", strconv.Itoa(opts.Stream.Channels),
		"-i", "pipe:0",
	}

	switch format.Encoder {
	case EncoderAAC:
		args = append(args, "-c:a", ffmpegEncoderName(EncoderAAC), "-b:a", strconv.Itoa(opts.AACBitrate))
	case EncoderAMRNB:
		args = append(args,
			"-c:a", ffmpegEncoderName(EncoderAMRNB),
			"-ar", strconv.Itoa(amrSampleRate),
			"-ac", "1",
			"-b:a", strconv.Itoa(opts.AMRBitrate))
	default:
		return nil, fmt.Errorf("%w: encoder %s", ErrUnsupportedFormat, format.Encoder)
	}

	switch format.Container {
	case ContainerMPEG4:
		args = append(args, "-f", "mp4")
	case Container3GPP:
		args = append(args, "-f", "3gp")
	default:
		return nil, fmt.Errorf("%w: container %s", ErrUnsupportedFormat, format.Container)
	}

	return append(args, path), nil
}

// ffmpegSink 通过 ffmpeg 子进程编码，PCM 写入其 stdin
type ffmpegSink struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	exited  chan struct{}
	waitErr error
	scratch []byte
	closed  bool
}

func newFFmpegSink(path string, format Format, opts SinkOptions) (*ffmpegSink, error) {
	args, err := ffmpegEncodeArgs(path, format, opts)
	if err != nil {
		return nil, err
	}
	bin, err := lookFFmpeg(opts.FFmpegPath)
	if err != nil {
		return nil, err
	}
	encoders, err := ffmpegEncoders(bin)
	if err != nil {
		return nil, err
	}
	if name := ffmpegEncoderName(format.Encoder); !encoders[name] {
		return nil, fmt.Errorf("%w: %s has no %s encoder", ErrCodecUnavailable, bin, name)
	}

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &ffmpegSink{cmd: cmd, stdin: stdin, stderr: stderr, exited: make(chan struct{})}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.exited)
	}()

	// 编码参数不被接受时 ffmpeg 会立即退出
	timer := time.NewTimer(ffmpegStartupGrace)
	defer timer.Stop()
	select {
	case <-s.exited:
		s.closed = true
		_ = stdin.Close()
		return nil, s.exitError()
	case <-timer.C:
	}

	if opts.Logger != nil {
		opts.Logger.Debug("ffmpeg encoder started", "pid", cmd.Process.Pid, "format", format.String(), "path", path)
	}
	return s, nil
}

func (s *ffmpegSink) exitError() error {
	msg := strings.TrimSpace(s.stderr.String())
	if s.waitErr != nil {
		return fmt.Errorf("ffmpeg encoder failed: %w: %s", s.waitErr, msg)
	}
	return fmt.Errorf("ffmpeg encoder exited early: %s", msg)
}

func (s *ffmpegSink) Write(pcm []int16) error {
	if s.closed {
		return errors.New("ffmpeg encoder closed")
	}
	s.scratch = int16ToBytes(s.scratch[:0], pcm)
	if _, err := s.stdin.Write(s.scratch); err != nil {
		return fmt.Errorf("failed to write to ffmpeg: %w", err)
	}
	return nil
}

// Close 关闭 stdin 让 ffmpeg 写完容器尾部，再等待进程退出
func (s *ffmpegSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.stdin.Close()
	<-s.exited
	if s.waitErr != nil {
		return s.exitError()
	}
	return nil
}

// ffmpegSource 用 ffmpeg 解码任意容器为 s16le
type ffmpegSource struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	r          *bufio.Reader
	stderr     *bytes.Buffer
	sampleRate int
	channels   int
	scratch    []byte
	waited     bool
}

func ffmpegDecodeArgs(path string, cfg StreamConfig) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", strconv.Itoa(cfg.Channels),
		"pipe:1",
	}
}

func newFFmpegSource(path string, opts SourceOptions) (*ffmpegSource, error) {
	bin, err := lookFFmpeg(opts.FFmpegPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, ffmpegDecodeArgs(path, opts.Stream)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &ffmpegSource{
		cmd:        cmd,
		stdout:     stdout,
		r:          bufio.NewReader(stdout),
		stderr:     stderr,
		sampleRate: opts.Stream.SampleRate,
		channels:   opts.Stream.Channels,
	}, nil
}

func (s *ffmpegSource) Read(pcm []int16) (int, error) {
	need := len(pcm) * 2
	if cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	buf := s.scratch[:need]

	n, err := io.ReadFull(s.r, buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		pcm[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}

	switch {
	case err == nil:
		return samples, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if waitErr := s.wait(); waitErr != nil {
			return samples, waitErr
		}
		if samples == 0 {
			return 0, io.EOF
		}
		return samples, nil
	default:
		return samples, fmt.Errorf("failed to read from ffmpeg: %w", err)
	}
}

func (s *ffmpegSource) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg decoder failed: %w: %s", err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}

func (s *ffmpegSource) SampleRate() int { return s.sampleRate }
func (s *ffmpegSource) Channels() int   { return s.channels }

func (s *ffmpegSource) Close() error {
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.waited = true
	_ = s.cmd.Wait()
	return nil
}
