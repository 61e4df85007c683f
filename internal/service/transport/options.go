package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer 建立 WebSocket 连接，*websocket.Dialer 即满足该接口。
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options 连接配置选项
type Options struct {
	BaseURL          string        // 例如 ws://localhost:8000/ws
	ReconnectDelay   time.Duration // 非正常关闭后的重连间隔
	HandshakeTimeout time.Duration // 握手超时时间
	ReadTimeout      time.Duration // 读取超时时间，0 表示不设置
	WriteTimeout     time.Duration // 写入超时时间
	PingInterval     time.Duration // Ping间隔，0 表示不发送
	Header           http.Header
	Dialer           Dialer
}

// DefaultOptions 默认连接选项
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:          baseURL,
		ReconnectDelay:   3 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions(o.BaseURL)
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = def.ReconnectDelay
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
	return o
}

// endpoint 拼接 (clientId, chatId) 对应的连接地址
func (o Options) endpoint(key Key) string {
	base := strings.TrimRight(o.BaseURL, "/")
	return base + "/" + url.PathEscape(key.ClientID) + "/" + url.PathEscape(key.ChatID)
}
