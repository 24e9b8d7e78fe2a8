package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"collabClient/backend/internal/entity"

	"github.com/gorilla/websocket"
)

var ErrSendQueueFull = errors.New("ws send queue full")

type ClientOptions struct {
	URL          string
	Token        string
	SendQueue    int
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

// Client 到同步服务的长连接，断线后按指数退避重连
type Client struct {
	opt ClientOptions
	hub *Hub
	log *slog.Logger

	send chan entity.WsDocumentData

	mu        sync.RWMutex
	connected bool
}

func NewClient(hub *Hub, opt ClientOptions) *Client {
	if opt.SendQueue <= 0 {
		opt.SendQueue = 256
	}
	if opt.MinBackoff <= 0 {
		opt.MinBackoff = 500 * time.Millisecond
	}
	if opt.MaxBackoff < opt.MinBackoff {
		opt.MaxBackoff = 30 * time.Second
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = 30 * time.Second
	}
	if opt.Dialer == nil {
		opt.Dialer = websocket.DefaultDialer
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	return &Client{
		opt:  opt,
		hub:  hub,
		log:  opt.Logger.With("component", "ws_client", "url", opt.URL),
		send: make(chan entity.WsDocumentData, opt.SendQueue),
	}
}

// Send 只入队不等待；未连接或队列满时返回错误，由调用方决定是否重试
func (c *Client) Send(data entity.WsDocumentData) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if !connected {
		return entity.ErrNotConnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Run 阻塞直到 ctx 结束
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opt.MinBackoff
	for {
		conn, _, err := c.opt.Dialer.DialContext(ctx, c.opt.URL, c.header())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("dial failed", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(backoff*2, c.opt.MaxBackoff)
			continue
		}
		backoff = c.opt.MinBackoff
		c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if c.opt.Token != "" {
		h.Set("Authorization", "Bearer "+c.opt.Token)
	}
	return h
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.setConnected(true)
	c.hub.SetState(entity.WsConnected)
	c.log.Info("connected")

	done := make(chan struct{})
	go c.writeLoop(conn, done)
	c.readLoop(conn)
	close(done)
	_ = conn.Close()

	c.setConnected(false)
	c.drain()
	c.hub.SetState(entity.WsDisconnected)
	c.log.Info("disconnected")
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var data entity.WsDocumentData
		if err := conn.ReadJSON(&data); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read json error", "err", err)
			}
			return
		}
		c.hub.Dispatch(data)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data := <-c.send:
			if err := conn.WriteJSON(data); err != nil {
				c.log.Warn("write json error", "doc_id", data.DocID, "ty", data.Ty, "err", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// drain 丢掉断线前没发出去的消息，重连后由待确认队列重传
func (c *Client) drain() {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
