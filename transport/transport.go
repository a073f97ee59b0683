// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net/http"
)

// ErrClosed is returned by Publish after the connection has closed.
var ErrClosed = errors.New("transport: connection closed")

// Message is one application frame.
type Message struct {
	Topic   string
	Payload []byte
}

// ConnectOptions describes one connection attempt.
type ConnectOptions struct {
	// URL is the websocket endpoint, including any query parameters.
	URL string

	// ClientID identifies the client to the broker.
	ClientID string

	// Username carries the connection identity. The realtime session
	// sends a JSON document here.
	Username string

	// Header is sent with the websocket handshake (Cookie, Origin,
	// User-Agent, Referer, Host).
	Header http.Header

	// OnMessage receives inbound frames. Calls are sequential: the
	// next frame is not delivered until the previous call returns.
	OnMessage func(Message)

	// OnClose is called at most once when the connection is lost
	// without the local side closing it. The error describes the loss.
	OnClose func(error)
}

// Conn is an established connection.
type Conn interface {
	// Publish sends payload on topic with at-least-once delivery and
	// returns once the broker acknowledges it, ctx is done, or the
	// connection fails.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close disconnects. OnClose is not called for a local close.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	// Dial connects and completes the protocol handshake. It returns
	// once the broker has accepted the connection.
	Dial(ctx context.Context, options ConnectOptions) (Conn, error)
}
