package devhub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsClient wraps one websocket connection with a write lock so acks written
// from the read loop and broadcasts from the forwarder never interleave.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) close() {
	_ = c.conn.Close()
}

// connPool manages the clients joined to one session. It centralizes
// broadcasting, error handling, and idle detection so the server's routing
// logic stays small.
type connPool struct {
	sessionID   string
	mu          sync.Mutex
	clients     map[*wsClient]struct{}
	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()
}

func newConnPool(sessionID string, idleTimeout time.Duration, onIdle func()) *connPool {
	return &connPool{
		sessionID:   sessionID,
		clients:     map[*wsClient]struct{}{},
		idleTimeout: idleTimeout,
		onIdle:      onIdle,
	}
}

func (p *connPool) Add(c *wsClient) {
	if p == nil || c == nil {
		return
	}
	p.mu.Lock()
	p.clients[c] = struct{}{}
	p.stopIdleTimerLocked()
	p.mu.Unlock()
}

func (p *connPool) Remove(c *wsClient) {
	if p == nil || c == nil {
		return
	}
	p.mu.Lock()
	delete(p.clients, c)
	p.scheduleIdleTimerLocked()
	p.mu.Unlock()
}

func (p *connPool) Broadcast(data []byte) {
	if p == nil || len(data) == 0 {
		return
	}
	p.mu.Lock()
	for c := range p.clients {
		if err := c.write(data); err != nil {
			log.Warn().Err(err).Str("component", "devhub").Str("session_id", p.sessionID).Msg("broadcast failed, dropping connection")
			delete(p.clients, c)
			c.close()
		}
	}
	p.scheduleIdleTimerLocked()
	p.mu.Unlock()
}

func (p *connPool) Count() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *connPool) CloseAll() {
	if p == nil {
		return
	}
	p.mu.Lock()
	for c := range p.clients {
		c.close()
		delete(p.clients, c)
	}
	p.stopIdleTimerLocked()
	p.mu.Unlock()
}

func (p *connPool) stopIdleTimerLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

func (p *connPool) scheduleIdleTimerLocked() {
	if len(p.clients) != 0 || p.idleTimeout <= 0 || p.onIdle == nil {
		p.stopIdleTimerLocked()
		return
	}
	p.stopIdleTimerLocked()
	p.idleTimer = time.AfterFunc(p.idleTimeout, p.triggerIdle)
}

func (p *connPool) triggerIdle() {
	if p == nil {
		return
	}
	var callback func()
	p.mu.Lock()
	if len(p.clients) == 0 {
		callback = p.onIdle
	}
	p.idleTimer = nil
	p.mu.Unlock()
	if callback != nil {
		callback()
	}
}
