package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "com.example.audio/recorder"

type stubInvoker struct {
	mu    sync.Mutex
	calls []interfaces.MethodCall
	err   error
}

func (s *stubInvoker) Invoke(_ context.Context, call interfaces.MethodCall) (interfaces.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.err != nil {
		return interfaces.Response{}, s.err
	}
	switch call.Method {
	case "echo":
		return interfaces.Success(call.ID, call.Arguments["value"]), nil
	case "fail":
		return interfaces.Failure(call.ID, interfaces.CodeNotFound, "missing", "/x"), nil
	default:
		return interfaces.NotImplemented(call.ID), nil
	}
}

func startServer(t *testing.T, cfg ServerConfig, h Invoker) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.Register(testChannel, h)

	mux := http.NewServeMux()
	mux.Handle(ChannelPathPrefix, srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newClient(t *testing.T, url, token string) *WSProtocol {
	t.Helper()
	var cfg Config
	cfg.Server.URL = url
	cfg.Server.Channel = testChannel
	cfg.Auth.AccessToken = token
	cfg.Client.ID = "test-client"
	p, err := NewWebSocketProtocol(cfg)
	require.NoError(t, err)
	return p
}

func TestChannelRoundTrip(t *testing.T) {
	stub := &stubInvoker{}
	_, url := startServer(t, ServerConfig{}, stub)

	client := newClient(t, url, "")
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	assert.Equal(t, "websocket", client.ProtocolType())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, interfaces.MethodCall{Method: "echo", Arguments: map[string]any{"value": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusSuccess, resp.Status)
	assert.Equal(t, "hi", resp.Result)
	require.NoError(t, resp.Err())

	resp, err = client.Call(ctx, interfaces.MethodCall{Method: "fail"})
	require.NoError(t, err)
	var detail *interfaces.ErrorDetail
	require.ErrorAs(t, resp.Err(), &detail)
	assert.Equal(t, interfaces.CodeNotFound, detail.Code)
	assert.Equal(t, "/x", detail.Details)

	resp, err = client.Call(ctx, interfaces.MethodCall{Method: "nope"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusNotImplemented, resp.Status)
	assert.ErrorIs(t, resp.Err(), interfaces.ErrNotImplemented)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.calls, 3)
	// id 自动递增
	assert.Equal(t, int64(1), stub.calls[0].ID)
	assert.Equal(t, int64(3), stub.calls[2].ID)
}

func TestChannelInvokeError(t *testing.T) {
	_, url := startServer(t, ServerConfig{}, &stubInvoker{err: errors.New("bridge closed")})

	client := newClient(t, url, "")
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	resp, err := client.Call(context.Background(), interfaces.MethodCall{ID: 42, Method: "echo"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, interfaces.CodeInternal, resp.Error.Code)
}

func TestChannelMalformedCall(t *testing.T) {
	_, url := startServer(t, ServerConfig{}, &stubInvoker{})

	conn, _, err := websocket.DefaultDialer.Dial(ChannelURL(url, testChannel), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var resp interfaces.Response
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, interfaces.StatusError, resp.Status)
	assert.Equal(t, interfaces.CodeInvalidArgument, resp.Error.Code)
}

func TestUnknownChannel(t *testing.T) {
	_, url := startServer(t, ServerConfig{}, &stubInvoker{})

	_, resp, err := websocket.DefaultDialer.Dial(ChannelURL(url, "other/channel"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChannelAccessToken(t *testing.T) {
	_, url := startServer(t, ServerConfig{AccessToken: "secret"}, &stubInvoker{})

	err := newClient(t, url, "wrong").Connect(context.Background())
	require.ErrorIs(t, err, interfaces.ErrConnectionFailed)

	client := newClient(t, url, "secret")
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())
}

func TestCallAfterServerClose(t *testing.T) {
	srv, url := startServer(t, ServerConfig{}, &stubInvoker{})

	client := newClient(t, url, "")
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	require.NoError(t, srv.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Call(ctx, interfaces.MethodCall{Method: "echo"})
	assert.Error(t, err)
}

func TestChannelURL(t *testing.T) {
	assert.Equal(t, "ws://h:1/channels/a.b/c", ChannelURL("ws://h:1/", "/a.b/c"))
	assert.Equal(t, "ws://h:1/channels/x", ChannelURL("ws://h:1", "x"))
}

func TestNewWebSocketProtocolValidation(t *testing.T) {
	_, err := NewWebSocketProtocol(Config{})
	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
}
