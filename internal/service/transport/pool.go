package transport

import (
	"errors"
	"log"
	"sync"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("connection pool is closed")

type poolEntry struct {
	conn *Conn
	refs int
}

// Pool WebSocket连接池，按 Key 复用连接并做引用计数。
type Pool struct {
	mu      sync.Mutex
	options Options
	conns   map[Key]*poolEntry
	closed  bool
}

// NewPool 创建连接池
func NewPool(options Options) *Pool {
	return &Pool{
		options: options.withDefaults(),
		conns:   make(map[Key]*poolEntry),
	}
}

// Acquire 获取 key 对应的连接，不存在时创建并开始连接。
// setup 在新连接开始拨号前执行，用于注册订阅，避免错过首批消息。
func (p *Pool) Acquire(key Key, setup ...func(*Conn)) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if entry, ok := p.conns[key]; ok {
		entry.refs++
		for _, fn := range setup {
			fn(entry.conn)
		}
		return entry.conn, nil
	}

	conn := newConn(key, p.options)
	p.conns[key] = &poolEntry{conn: conn, refs: 1}
	for _, fn := range setup {
		fn(conn)
	}
	conn.start()
	return conn, nil
}

// Get 获取已存在的连接
func (p *Pool) Get(key Key) (*Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.conns[key]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// Release 释放一次引用，最后一次释放时关闭连接并移除。
func (p *Pool) Release(key Key) {
	p.mu.Lock()
	entry, ok := p.conns[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		p.mu.Unlock()
		return
	}
	delete(p.conns, key)
	p.mu.Unlock()

	entry.conn.Close()
}

// Len 返回当前连接数
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close 关闭所有连接
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	entries := p.conns
	p.conns = make(map[Key]*poolEntry)
	p.mu.Unlock()

	for key, entry := range entries {
		entry.conn.Close()
		log.Printf("[transport] %s released on shutdown", key)
	}
}
