package core

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
	"github.com/lisuiheng/naudio-go/protocols/websocket"
)

// NewProtocol 根据配置创建对应的客户端协议实例
func NewProtocol(config Config) (interfaces.TransportProtocol, error) {
	switch config.System.Network.Transport {
	case "websocket":
		var wsConfig websocket.Config
		wsConfig.Server.URL = config.System.Network.URL
		wsConfig.Server.Channel = config.System.Channel
		wsConfig.Auth.AccessToken = config.System.Network.AccessToken
		wsConfig.Client.ID = uuid.NewString()
		return websocket.NewWebSocketProtocol(wsConfig)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, config.System.Network.Transport)
	}
}
