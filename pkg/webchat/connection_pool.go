package webchat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
)

// wsConn is the subset of *websocket.Conn the pool writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

type poolClient struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *poolClient) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ConnectionPool fans transcript events out to websocket connections. Every connection has its
// own buffered send queue and writer goroutine; a connection whose queue is full or whose write
// fails is dropped so a slow client never holds up the others.
type ConnectionPool struct {
	name         string
	mu           sync.Mutex
	conns        map[wsConn]*poolClient
	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool(name string) *ConnectionPool {
	return &ConnectionPool{
		name:         name,
		conns:        map[wsConn]*poolClient{},
		sendBuffer:   defaultSendBuffer,
		writeTimeout: defaultWriteTimeout,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	buf := cp.sendBuffer
	if buf <= 0 {
		buf = 1
	}
	c := &poolClient{send: make(chan []byte, buf), done: make(chan struct{})}
	cp.mu.Lock()
	cp.conns[conn] = c
	n := len(cp.conns)
	cp.mu.Unlock()
	go cp.writeLoop(conn, c)
	log.Debug().Str("component", "webchat").Str("pool", cp.name).Int("connections", n).Msg("ws connection added")
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if conn == nil {
		return
	}
	if cp != nil {
		cp.mu.Lock()
		if c, ok := cp.conns[conn]; ok {
			delete(cp.conns, conn)
			c.stop()
		}
		cp.mu.Unlock()
	}
	_ = conn.Close()
}

// Broadcast queues data for every connection without waiting for any write.
func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for conn, c := range cp.conns {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("component", "webchat").Str("pool", cp.name).Msg("ws send buffer full, dropping connection")
			delete(cp.conns, conn)
			c.stop()
			_ = conn.Close()
		}
	}
}

// HandleEvent is an events.Handler broadcasting every event as JSON.
func (cp *ConnectionPool) HandleEvent(_ context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event for websocket")
	}
	cp.Broadcast(data)
	return nil
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.conns)
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn, c := range cp.conns {
		c.stop()
		_ = conn.Close()
		delete(cp.conns, conn)
	}
	cp.mu.Unlock()
}

func (cp *ConnectionPool) writeLoop(conn wsConn, c *poolClient) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if cp.writeTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("component", "webchat").Str("pool", cp.name).Msg("ws write failed, dropping connection")
				cp.Remove(conn)
				return
			}
		}
	}
}
