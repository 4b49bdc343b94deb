// Package transport adapts gorilla/websocket connections to the text-frame
// stream the sync engine expects.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeGrace              = time.Second
)

// Dialer opens client connections to peers.
type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables keepalive pings
	Header           http.Header
	TLSConfig        *tls.Config
}

// Dial connects to a ws:// or wss:// URL.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
		TLSClientConfig:  d.TLSConfig,
	}
	ws, resp, err := wd.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newConn(ws, d.WriteTimeout, d.PingInterval), nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Accept upgrades an inbound HTTP request. It is used by the in-process
// relays in tests and the sync harness.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return newConn(ws, defaultWriteTimeout, 0), nil
}

// Conn is a websocket connection carrying JSON text frames. ReadMessage must
// be called from one goroutine; WriteMessage is safe for concurrent use.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(ws *websocket.Conn, writeTimeout, pingInterval time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	c := &Conn{ws: ws, writeTimeout: writeTimeout, done: make(chan struct{})}
	if pingInterval > 0 {
		ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
		})
		go c.keepalive(pingInterval)
	}
	return c
}

// ReadMessage returns the next text or binary frame payload.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage sends data as a text frame.
func (c *Conn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		}
	}
}
