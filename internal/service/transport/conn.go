package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/hubchat/internal/model/protocol"
)

var (
	// ErrNotConnected 连接未处于 Open 状态时发送消息
	ErrNotConnected = errors.New("websocket is not connected")
)

// FrameHandler 处理收到的服务端帧
type FrameHandler func(protocol.Frame)

// StateHandler 处理连接状态变化
type StateHandler func(State)

// Conn 是一个 (clientId, chatId) 对应的自动重连 WebSocket 连接。
// 同一时刻最多只有一个打开的底层 socket。
type Conn struct {
	key  Key
	url  string
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	ws        *websocket.Conn
	state     State
	timer     *time.Timer
	stopped   bool
	dials     int
	nextSubID uint64
	frames    map[uint64]FrameHandler
	states    map[uint64]StateHandler
	pending   []State
	notifying bool

	writeMu sync.Mutex
}

func newConn(key Key, opts Options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		key:    key,
		url:    opts.endpoint(key),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		state:  StateIdle,
		frames: make(map[uint64]FrameHandler),
		states: make(map[uint64]StateHandler),
	}
}

// Key 返回连接标识
func (c *Conn) Key() Key {
	return c.key
}

// State 返回当前连接状态
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dials 返回累计拨号次数（含首次连接）
func (c *Conn) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Subscribe 注册帧处理器，返回取消函数
func (c *Conn) Subscribe(fn FrameHandler) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.frames[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.frames, id)
	}
}

// OnStateChange 注册状态变化处理器，返回取消函数
func (c *Conn) OnStateChange(fn StateHandler) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.states[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.states, id)
	}
}

// Send 编码并发送一条消息，未连接时直接返回 ErrNotConnected，不排队也不重试。
func (c *Conn) Send(v any) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()

	if ws == nil || !state.Connected() {
		log.Printf("[transport] %s send dropped, state=%s", c.key, state)
		return ErrNotConnected
	}

	payload, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Conn) start() {
	go c.dial()
}

// dial 建立单次连接，失败时安排一次重连
func (c *Conn) dial() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.dials++
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
	cancel()

	if err != nil {
		log.Printf("[transport] %s dial failed: %v", c.key, err)
		c.mu.Lock()
		if !c.stopped {
			c.setStateLocked(StateClosed)
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ws.Close()
		return
	}
	if c.ws != nil {
		// 不应出现：保留已有连接，丢弃新连接
		c.mu.Unlock()
		log.Printf("[transport] %s duplicate socket discarded", c.key)
		ws.Close()
		return
	}
	c.ws = ws
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	log.Printf("[transport] %s connected", c.key)

	if c.opts.ReadTimeout > 0 {
		ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		ws.SetPongHandler(func(string) error {
			ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
			return nil
		})
	}

	if err := c.Send(protocol.GetModels()); err != nil {
		log.Printf("[transport] %s request models failed: %v", c.key, err)
	}

	if c.opts.PingInterval > 0 {
		go c.pingLoop(ws)
	}
	c.readLoop(ws)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}
		if c.opts.ReadTimeout > 0 {
			ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}

		frames, errs := protocol.DecodeAll(data)
		for _, decodeErr := range errs {
			log.Printf("[transport] %s dropped frame: %v", c.key, decodeErr)
		}
		for _, frame := range frames {
			c.dispatch(frame)
		}
	}
}

func (c *Conn) dispatch(frame protocol.Frame) {
	c.mu.Lock()
	handlers := make([]FrameHandler, 0, len(c.frames))
	for _, fn := range c.frames {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(frame)
	}
}

// handleClose 处理底层连接关闭，非正常关闭时安排一次重连
func (c *Conn) handleClose(ws *websocket.Conn, err error) {
	ws.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws != ws {
		return
	}
	c.ws = nil
	if c.stopped {
		return
	}

	c.setStateLocked(StateClosed)
	if !IsRetryableError(err) {
		log.Printf("[transport] %s closed: %v", c.key, err)
		return
	}
	log.Printf("[transport] %s disconnected: %v", c.key, err)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked 每次关闭事件只安排一个重连定时器
func (c *Conn) scheduleReconnectLocked() {
	if c.timer != nil || c.stopped {
		return
	}
	c.timer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.timer = nil
		stopped := c.stopped
		c.mu.Unlock()
		if !stopped {
			c.dial()
		}
	})
}

// pingLoop 定期发送ping消息
func (c *Conn) pingLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.ws == ws
			c.mu.Unlock()
			if !current {
				return
			}
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("[transport] %s ping failed: %v", c.key, err)
				return
			}
		}
	}
}

// Close 以 1000 关闭连接并取消待执行的重连，之后连接不可再用。
func (c *Conn) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	ws := c.ws
	c.ws = nil
	c.setStateLocked(StateClosing)
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			log.Printf("[transport] %s close handshake failed: %v", c.key, err)
		}
		ws.Close()
	}

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
}

// setStateLocked 更新状态并按顺序异步通知订阅者，调用方需持有 mu。
func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.pending = append(c.pending, s)
	if !c.notifying {
		c.notifying = true
		go c.drainStates()
	}
}

func (c *Conn) drainStates() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.notifying = false
			c.mu.Unlock()
			return
		}
		s := c.pending[0]
		c.pending = c.pending[1:]
		handlers := make([]StateHandler, 0, len(c.states))
		for _, fn := range c.states {
			handlers = append(handlers, fn)
		}
		c.mu.Unlock()

		for _, fn := range handlers {
			fn(s)
		}
	}
}

// IsCleanClose 判断是否为正常关闭（1000）
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// IsRetryableError 判断关闭原因是否需要重连
func IsRetryableError(err error) bool {
	if err == nil || IsCleanClose(err) {
		return false
	}
	if errors.Is(err, ErrNotConnected) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
