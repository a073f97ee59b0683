// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds how long Close waits to send the close frame.
const closeGracePeriod = time.Second

// WebsocketConn wraps a gorilla websocket as a net.Conn so a stream
// protocol can run over it. Each Write becomes one binary message;
// Read returns message contents back to back, ignoring message
// boundaries. Deadlines map directly onto the websocket's own.
type WebsocketConn struct {
	ws *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface check.
var _ net.Conn = (*WebsocketConn)(nil)

// NewWebsocketConn wraps an established websocket.
func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	return &WebsocketConn{ws: ws}
}

func (c *WebsocketConn) Read(buffer []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.reader == nil {
			messageType, reader, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
				continue
			}
			c.reader = reader
		}
		count, err := c.reader.Read(buffer)
		if err == io.EOF {
			c.reader = nil
			if count > 0 {
				return count, nil
			}
			continue
		}
		return count, err
	}
}

func (c *WebsocketConn) Write(buffer []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

// Close sends a normal-closure frame and closes the socket. Only the
// first call has any effect.
func (c *WebsocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *WebsocketConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *WebsocketConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// SetDeadline sets both read and write deadlines. A zero value clears
// the deadline.
func (c *WebsocketConn) SetDeadline(deadline time.Time) error {
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(deadline)
}

func (c *WebsocketConn) SetReadDeadline(deadline time.Time) error {
	return c.ws.SetReadDeadline(deadline)
}

func (c *WebsocketConn) SetWriteDeadline(deadline time.Time) error {
	return c.ws.SetWriteDeadline(deadline)
}
