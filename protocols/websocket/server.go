package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
)

// ChannelPathPrefix 通道挂载的 HTTP 路径前缀
const ChannelPathPrefix = "/channels/"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
)

// Invoker 执行一次方法调用
type Invoker interface {
	Invoke(ctx context.Context, call interfaces.MethodCall) (interfaces.Response, error)
}

type ServerConfig struct {
	AccessToken string
}

// Server 把具名通道挂到 websocket 上，每个连接上的调用按顺序执行
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	channels map[string]Invoker
	conns    map[*websocket.Conn]struct{}
	wg       sync.WaitGroup
}

func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		config: config,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		channels: make(map[string]Invoker),
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// Register 注册具名通道
func (s *Server) Register(name string, h Invoker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[strings.Trim(name, "/")] = h
}

func (s *Server) lookup(name string) (Invoker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.channels[strings.Trim(name, "/")]
	return h, ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutPrefix(r.URL.Path, ChannelPathPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	h, ok := s.lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	log := s.logger.With("conn_id", connID, "channel", name, "remote", r.RemoteAddr)
	if clientID := r.Header.Get("Client-Id"); clientID != "" {
		log = log.With("client_id", clientID)
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)

	go s.serveConn(conn, h, log)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.AccessToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AccessToken)) == 1
}

func (s *Server) serveConn(conn *websocket.Conn, h Invoker, log *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	var writeMu sync.Mutex

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
		s.wg.Done()
		log.Info("Channel connection closed")
	}()

	log.Info("Channel connection opened")

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				writeMu.Unlock()
				if err != nil {
					log.Debug("Ping failed", "error", err)
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Unexpected channel close", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Debug("Ignoring non-text message", "type", msgType)
			continue
		}

		resp := s.dispatch(ctx, h, data, log)
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Error("Failed to marshal response", "id", resp.ID, "error", err)
			payload, _ = json.Marshal(interfaces.Failure(resp.ID, interfaces.CodeInternal, err.Error(), nil))
		}

		writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, payload)
		writeMu.Unlock()
		if err != nil {
			log.Error("Failed to write response", "id", resp.ID, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, h Invoker, data []byte, log *slog.Logger) interfaces.Response {
	var call interfaces.MethodCall
	if err := json.Unmarshal(data, &call); err != nil {
		log.Warn("Malformed method call", "error", err, "raw_data", string(data))
		return interfaces.Failure(0, interfaces.CodeInvalidArgument, "malformed method call: "+err.Error(), nil)
	}

	resp, err := h.Invoke(ctx, call)
	if err != nil {
		log.Error("Invoke failed", "id", call.ID, "method", call.Method, "error", err)
		return interfaces.Failure(call.ID, interfaces.CodeInternal, err.Error(), nil)
	}
	return resp
}

// Close 关闭所有连接并等待连接协程退出
func (s *Server) Close() error {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
