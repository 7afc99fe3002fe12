// protocols/websocket/transport.go
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

// WSProtocol 通道客户端：发送 MethodCall，按 id 匹配应答
type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // 保护 conn 的写入

	pendingMu sync.Mutex
	pending   map[int64]chan interfaces.Response
	nextID    atomic.Int64
}

// Config 定义websocket特有的配置
type Config struct {
	Server struct {
		URL     string
		Channel string
	}
	Auth struct {
		AccessToken string
	}
	Client struct {
		ID string
	}
	HandshakeTimeout time.Duration
}

func NewWebSocketProtocol(config Config) (*WSProtocol, error) {
	if config.Server.URL == "" {
		return nil, fmt.Errorf("%w: empty server url", interfaces.ErrConnectionFailed)
	}
	if config.Server.Channel == "" {
		return nil, fmt.Errorf("%w: empty channel name", interfaces.ErrConnectionFailed)
	}
	return &WSProtocol{
		config:    config,
		closeChan: make(chan struct{}),
		pending:   make(map[int64]chan interfaces.Response),
	}, nil
}

// ChannelURL 返回通道的完整地址
func ChannelURL(base, channel string) string {
	return strings.TrimRight(base, "/") + ChannelPathPrefix + strings.TrimLeft(channel, "/")
}

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	headers := http.Header{}
	if p.config.Auth.AccessToken != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.Auth.AccessToken))
	}
	if p.config.Client.ID != "" {
		headers.Set("Client-Id", p.config.Client.ID)
	}

	dialer := websocket.Dialer{HandshakeTimeout: p.config.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.DialContext(ctx, ChannelURL(p.config.Server.URL, p.config.Server.Channel), headers)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	go p.readPump(conn)
	return nil
}

func (p *WSProtocol) readPump(conn *websocket.Conn) {
	defer p.failPending()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var resp interfaces.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}

		p.pendingMu.Lock()
		ch, ok := p.pending[resp.ID]
		delete(p.pending, resp.ID)
		p.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// failPending 连接断开后唤醒所有等待中的调用
func (p *WSProtocol) failPending() {
	p.closeOnce.Do(func() { close(p.closeChan) })
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

// Call 发送调用并等待对应 id 的应答；call.ID 为 0 时自动分配
func (p *WSProtocol) Call(ctx context.Context, call interfaces.MethodCall) (interfaces.Response, error) {
	if call.ID == 0 {
		call.ID = p.nextID.Add(1)
	}
	data, err := json.Marshal(call)
	if err != nil {
		return interfaces.Response{}, fmt.Errorf("failed to marshal call: %w", err)
	}

	ch := make(chan interfaces.Response, 1)
	p.pendingMu.Lock()
	p.pending[call.ID] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, call.ID)
		p.pendingMu.Unlock()
	}()

	if err := p.send(data); err != nil {
		return interfaces.Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return interfaces.Response{}, interfaces.ErrConnectionClosed
		}
		return resp, nil
	case <-p.closeChan:
		return interfaces.Response{}, interfaces.ErrConnectionClosed
	case <-ctx.Done():
		return interfaces.Response{}, ctx.Err()
	}
}

func (p *WSProtocol) send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return interfaces.ErrConnectionFailed
	}
	select {
	case <-p.closeChan:
		return interfaces.ErrConnectionClosed
	default:
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

func (p *WSProtocol) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeOnce.Do(func() { close(p.closeChan) })
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return p.conn.Close()
}
