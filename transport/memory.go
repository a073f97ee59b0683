// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process broker for tests. Connections made
// through its Dialer record their options and publishes; Deliver and
// Drop inject inbound frames and connection loss synchronously.
type MemoryBroker struct {
	mu          sync.Mutex
	connections []*memoryConn
	dials       []ConnectOptions
	dialErr     error
	rejections  map[string]error

	// deliverMu serializes inbound delivery so frames arrive in order.
	deliverMu sync.Mutex

	dialed    chan ConnectOptions
	published chan Message
}

// NewMemoryBroker creates a broker whose Dialed and Published channels
// buffer up to 64 entries each.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		rejections: make(map[string]error),
		dialed:     make(chan ConnectOptions, 64),
		published:  make(chan Message, 64),
	}
}

// Dialer returns a Dialer connecting to this broker.
func (b *MemoryBroker) Dialer() Dialer { return memoryDialer{broker: b} }

// Dialed yields the options of every successful connection, in order.
func (b *MemoryBroker) Dialed() <-chan ConnectOptions { return b.dialed }

// Published yields every acknowledged publish, in order.
func (b *MemoryBroker) Published() <-chan Message { return b.published }

// Dials returns the options of every connection attempt so far.
func (b *MemoryBroker) Dials() []ConnectOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ConnectOptions(nil), b.dials...)
}

// FailDials makes subsequent dials return err. A nil err restores
// normal behavior.
func (b *MemoryBroker) FailDials(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// RejectPublishes makes publishes to topic fail with err. A nil err
// removes the rejection.
func (b *MemoryBroker) RejectPublishes(topic string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.rejections, topic)
		return
	}
	b.rejections[topic] = err
}

// Deliver sends a frame to every open connection and returns after each
// OnMessage handler has returned.
func (b *MemoryBroker) Deliver(topic string, payload []byte) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	for _, conn := range b.open() {
		if conn.options.OnMessage != nil {
			conn.options.OnMessage(Message{Topic: topic, Payload: append([]byte(nil), payload...)})
		}
	}
}

// Drop simulates loss of every open connection with err.
func (b *MemoryBroker) Drop(err error) {
	for _, conn := range b.open() {
		if conn.markClosed() && conn.options.OnClose != nil {
			conn.options.OnClose(err)
		}
	}
}

func (b *MemoryBroker) open() []*memoryConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	var open []*memoryConn
	for _, conn := range b.connections {
		if !conn.isClosed() {
			open = append(open, conn)
		}
	}
	return open
}

type memoryDialer struct {
	broker *MemoryBroker
}

func (d memoryDialer) Dial(ctx context.Context, options ConnectOptions) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	broker := d.broker
	broker.mu.Lock()
	broker.dials = append(broker.dials, options)
	if broker.dialErr != nil {
		err := broker.dialErr
		broker.mu.Unlock()
		return nil, err
	}
	conn := &memoryConn{broker: broker, options: options}
	broker.connections = append(broker.connections, conn)
	broker.mu.Unlock()

	select {
	case broker.dialed <- options:
	default:
	}
	return conn, nil
}

type memoryConn struct {
	broker  *MemoryBroker
	options ConnectOptions

	mu     sync.Mutex
	closed bool
}

func (c *memoryConn) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	c.broker.mu.Lock()
	rejection := c.broker.rejections[topic]
	c.broker.mu.Unlock()
	if rejection != nil {
		return rejection
	}
	select {
	case c.broker.published <- Message{Topic: topic, Payload: append([]byte(nil), payload...)}:
	default:
	}
	return nil
}

func (c *memoryConn) Close() error {
	c.markClosed()
	return nil
}

// markClosed reports whether this call closed the connection.
func (c *memoryConn) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *memoryConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
