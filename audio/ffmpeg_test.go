package audio

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpegEncodeArgs(t *testing.T) {
	opts := SinkOptions{
		Stream:     StreamConfig{SampleRate: 16000, Channels: 1, FrameDuration: 20},
		AACBitrate: 64000,
		AMRBitrate: 12200,
	}

	args, err := ffmpegEncodeArgs("/tmp/a.aac", FormatMPEG4AAC, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "s16le", "-ar", "16000", "-ac", "1", "-i", "pipe:0",
		"-c:a", "aac", "-b:a", "64000",
		"-f", "mp4",
		"/tmp/a.aac",
	}, args)

	args, err = ffmpegEncodeArgs("/tmp/a.wav", Format3GPPAMR, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "s16le", "-ar", "16000", "-ac", "1", "-i", "pipe:0",
		"-c:a", "libopencore_amrnb", "-ar", "8000", "-ac", "1", "-b:a", "12200",
		"-f", "3gp",
		"/tmp/a.wav",
	}, args)

	_, err = ffmpegEncodeArgs("/tmp/a.flac", FormatFLAC, opts)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFFmpegDecodeArgs(t *testing.T) {
	args := ffmpegDecodeArgs("/tmp/a.3gp", StreamConfig{SampleRate: 44100, Channels: 2})
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "/tmp/a.3gp",
		"-f", "s16le", "-acodec", "pcm_s16le", "-ar", "44100", "-ac", "2",
		"pipe:1",
	}, args)
}

func TestFFmpegMissingBinary(t *testing.T) {
	_, err := NewSink(filepath.Join(t.TempDir(), "a.aac"), FormatMPEG4AAC, SinkOptions{
		Stream:     StreamConfig{SampleRate: 16000, Channels: 1},
		FFmpegPath: "naudio-no-such-ffmpeg",
	})
	assert.ErrorIs(t, err, ErrCodecUnavailable)
}

func TestFFmpegAACRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	cfg := StreamConfig{SampleRate: 16000, Channels: 1, FrameDuration: 20}
	path := filepath.Join(t.TempDir(), "a.aac")

	sink, err := NewSink(path, FormatMPEG4AAC, SinkOptions{Stream: cfg, AACBitrate: 64000})
	require.NoError(t, err)
	writeInChunks(t, sink, sine(cfg, 16000), cfg.SamplesPerPeriod())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	src, err := OpenSource(path, SourceOptions{Stream: cfg})
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 16000, src.SampleRate())
	assert.NotEmpty(t, readAll(t, src))
}

// writeFFmpegStub 生成一个假的 ffmpeg：-encoders 列出 encoders，其余调用执行 body
func writeFFmpegStub(t *testing.T, encoders []string, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	var list strings.Builder
	for _, enc := range encoders {
		fmt.Fprintf(&list, "  echo ' A..... %s    stub'\n", enc)
	}
	script := "#!/bin/sh\n" +
		"for a in \"$@\"; do last=\"$a\"; done\n" +
		"if [ \"$2\" = \"-encoders\" ]; then\n" +
		"  echo 'Encoders:'\n" +
		"  echo ' A..... = Audio'\n" +
		"  echo ' ------'\n" +
		list.String() +
		"  exit 0\n" +
		"fi\n" +
		body + "\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestFFmpegSinkStubEncoder(t *testing.T) {
	bin := writeFFmpegStub(t, []string{"aac", "libopencore_amrnb"}, `exec cat > "$last"`)
	cfg := StreamConfig{SampleRate: 16000, Channels: 1, FrameDuration: 20}
	path := filepath.Join(t.TempDir(), "a.3gp")

	sink, err := NewSink(path, Format3GPPAMR, SinkOptions{Stream: cfg, FFmpegPath: bin, AMRBitrate: 12200})
	require.NoError(t, err)
	pcm := sine(cfg, 3200)
	writeInChunks(t, sink, pcm, cfg.SamplesPerPeriod())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(pcm)*2), info.Size())
}

func TestFFmpegSinkMissingEncoder(t *testing.T) {
	bin := writeFFmpegStub(t, []string{"aac"}, `exec cat > "$last"`)

	_, err := NewSink(filepath.Join(t.TempDir(), "a.3gp"), Format3GPPAMR, SinkOptions{
		Stream:     StreamConfig{SampleRate: 16000, Channels: 1},
		FFmpegPath: bin,
	})
	assert.ErrorIs(t, err, ErrCodecUnavailable)
	assert.ErrorContains(t, err, "libopencore_amrnb")
}

func TestFFmpegSinkExitsAtStartup(t *testing.T) {
	bin := writeFFmpegStub(t, []string{"aac"}, "echo 'Conversion failed!' >&2\nexit 1")

	_, err := NewSink(filepath.Join(t.TempDir(), "a.aac"), FormatMPEG4AAC, SinkOptions{
		Stream:     StreamConfig{SampleRate: 16000, Channels: 1},
		FFmpegPath: bin,
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "exit status 1")
	assert.ErrorContains(t, err, "Conversion failed!")
}

func TestFFmpegEncodersListFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'Unknown encoder libopencore_amrnb' >&2\nexit 1\n"), 0o755))

	_, err := NewSink(filepath.Join(t.TempDir(), "a.3gp"), Format3GPPAMR, SinkOptions{
		Stream:     StreamConfig{SampleRate: 16000, Channels: 1},
		FFmpegPath: bin,
	})
	assert.ErrorIs(t, err, ErrCodecUnavailable)
}

func TestFFmpegSinkStartupGrace(t *testing.T) {
	old := ffmpegStartupGrace
	ffmpegStartupGrace = 50 * time.Millisecond
	t.Cleanup(func() { ffmpegStartupGrace = old })

	bin := writeFFmpegStub(t, []string{"aac"}, `exec cat > "$last"`)
	opts := SinkOptions{Stream: StreamConfig{SampleRate: 16000, Channels: 1}, FFmpegPath: bin}

	begin := time.Now()
	sink, err := NewSink(filepath.Join(t.TempDir(), "a.aac"), FormatMPEG4AAC, opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(begin), ffmpegStartupGrace)
	require.NoError(t, sink.Close())

	// 宽限期之后才退出的编码器在 Close 时报告错误
	late := writeFFmpegStub(t, []string{"aac"}, `cat > /dev/null
echo 'muxer failed' >&2
exit 1`)
	opts.FFmpegPath = late
	sink, err = NewSink(filepath.Join(t.TempDir(), "b.aac"), FormatMPEG4AAC, opts)
	require.NoError(t, err)
	err = sink.Close()
	assert.ErrorContains(t, err, "exit status 1")
	assert.ErrorContains(t, err, "muxer failed")
}
