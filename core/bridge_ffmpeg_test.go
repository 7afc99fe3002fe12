package core

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/lisuiheng/naudio-go/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyStdinBody 把 stdin 原样写到最后一个参数（输出文件）
const copyStdinBody = `exec cat > "$last"`

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
		list.String() +
		"  exit 0\n" +
		"fi\n" +
		body + "\n"
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func stubConfig(t *testing.T, encoders []string, body string) Config {
	cfg := testConfig(t)
	cfg.Media.FFmpegPath = writeFFmpegStub(t, encoders, body)
	return cfg
}

func TestRecordAACThenDelete(t *testing.T) {
	b, system := newTestBridge(t, stubConfig(t, []string{"aac", "libopencore_amrnb"}, copyStdinBody))

	resp := b.Handle(call(interfaces.MethodStartRecording, map[string]any{"format": "aac"}))
	require.Equal(t, interfaces.StatusSuccess, resp.Status, resp.Error)
	path := resp.Result.(string)
	assert.Equal(t, filepath.Join(b.StorageDir(), "recording_1700000000000.aac"), path)
	assert.Equal(t, "mpeg4/aac", b.Status().Format)

	captures := system.Captures()
	require.Len(t, captures, 1)
	require.Eventually(t, func() bool { return captures[0].Frames() >= 3 }, 2*time.Second, time.Millisecond)

	resp = b.Handle(call(interfaces.MethodStopRecording, nil))
	require.Equal(t, interfaces.StatusSuccess, resp.Status, resp.Error)
	assert.Equal(t, path, resp.Result)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	resp = b.Handle(call(interfaces.MethodDeleteRecording, map[string]any{"path": path}))
	require.Equal(t, interfaces.StatusSuccess, resp.Status)
	assert.NoFileExists(t, path)
}

func TestRecordUnknownExtensionFallsBackTo3GPP(t *testing.T) {
	b, _ := newTestBridge(t, stubConfig(t, []string{"aac", "libopencore_amrnb"}, copyStdinBody))

	path, err := b.StartRecording("xyz")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".xyz"), path)
	assert.Equal(t, "3gpp/amr_nb", b.Status().Format)

	stopped, err := b.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, path, stopped)
	assert.FileExists(t, path)
}

func TestStartRecordingEncoderExitsEarly(t *testing.T) {
	b, _ := newTestBridge(t, stubConfig(t, []string{"aac"}, "echo 'Conversion failed!' >&2\nexit 1"))

	resp := b.Handle(call(interfaces.MethodStartRecording, map[string]any{"format": "aac"}))
	requireCode(t, resp, interfaces.CodeStartFailed)
	path := filepath.Join(b.StorageDir(), "recording_1700000000000.aac")
	assert.Equal(t, path, resp.Error.Details)
	assert.Contains(t, resp.Error.Message, "exit status 1")
	assert.NoFileExists(t, path)
	assert.False(t, b.Status().Recording)

	// lastPath 未改变
	stopped, err := b.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, "", stopped)
}

func TestStartRecordingMissingAMREncoder(t *testing.T) {
	b, _ := newTestBridge(t, stubConfig(t, []string{"aac"}, copyStdinBody))

	resp := b.Handle(call(interfaces.MethodStartRecording, nil))
	requireCode(t, resp, interfaces.CodeStartFailed)
	assert.Contains(t, resp.Error.Message, "libopencore_amrnb")
	assert.False(t, b.Status().Recording)
}

func TestStartRecordingStorageDirUnavailable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := testConfig(t)
	cfg.Formats.NativeWAV = true
	cfg.Storage.Dir = filepath.Join(blocker, "files")
	b, _ := newTestBridge(t, cfg)

	resp := b.Handle(call(interfaces.MethodStartRecording, map[string]any{"format": "wav"}))
	requireCode(t, resp, interfaces.CodeIOError)
	assert.Equal(t, filepath.Join(cfg.Storage.Dir, "recording_1700000000000.wav"), resp.Error.Details)
	assert.False(t, b.Status().Recording)
}
