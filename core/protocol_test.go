package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lisuiheng/naudio-go/pkg/interfaces"
	"github.com/lisuiheng/naudio-go/protocols/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProtocolUnsupported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.System.Network.Transport = "mqtt"
	_, err := NewProtocol(cfg)
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedProtocol)
}

func TestBridgeOverChannel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Formats.NativeWAV = true
	b, system := newTestBridge(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	srv := websocket.NewServer(websocket.ServerConfig{}, testLogger())
	srv.Register(cfg.System.Channel, b)
	mux := http.NewServeMux()
	mux.Handle(websocket.ChannelPathPrefix, srv)
	ts := httptest.NewServer(mux)
	defer ts.Close()
	defer srv.Close()

	cfg.System.Network.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
	client, err := NewProtocol(cfg)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	resp, err := client.Call(callCtx, interfaces.MethodCall{
		Method:    interfaces.MethodStartRecording,
		Arguments: map[string]any{"format": "wav"},
	})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	path, ok := resp.Result.(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(path, "recording_1700000000000.wav"))

	require.Eventually(t, func() bool { return system.Captures()[0].Frames() >= 2 }, 2*time.Second, time.Millisecond)

	resp, err = client.Call(callCtx, interfaces.MethodCall{Method: interfaces.MethodGetStatus})
	require.NoError(t, err)
	status, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, status["recording"])
	assert.Equal(t, path, status["recordingPath"])

	resp, err = client.Call(callCtx, interfaces.MethodCall{Method: interfaces.MethodStopRecording})
	require.NoError(t, err)
	assert.Equal(t, path, resp.Result)

	resp, err = client.Call(callCtx, interfaces.MethodCall{Method: "setVolume"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusNotImplemented, resp.Status)
}
