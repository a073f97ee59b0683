// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
)

const (
	// DefaultKeepAlive is the MQTT ping interval.
	DefaultKeepAlive = 10 * time.Second

	// DefaultConnectTimeout bounds the websocket and MQTT handshakes.
	DefaultConnectTimeout = 30 * time.Second

	// protocolVersion 3 selects MQTT 3.1 ("MQIsdp").
	protocolVersion = 3

	// disconnectQuiesce is how long Close lets in-flight work finish,
	// in milliseconds.
	disconnectQuiesce = 250
)

// MQTTDialer connects with an MQTT 3.1 client over a websocket.
type MQTTDialer struct {
	// Websocket performs the websocket handshake. Defaults to a dialer
	// honoring proxy environment variables.
	Websocket *websocket.Dialer

	// KeepAlive defaults to DefaultKeepAlive.
	KeepAlive time.Duration

	// ConnectTimeout defaults to DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Compile-time interface check.
var _ Dialer = (*MQTTDialer)(nil)

func (d *MQTTDialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *MQTTDialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return DefaultConnectTimeout
}

// clientOptions builds the MQTT configuration for one attempt. The
// broker URL's scheme is irrelevant: openConnection replaces paho's own
// network handling.
func (d *MQTTDialer) clientOptions(ctx context.Context, options ConnectOptions, conn *mqttConn) *mqtt.ClientOptions {
	keepAlive := d.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	clientOptions := mqtt.NewClientOptions().
		AddBroker(options.URL).
		SetClientID(options.ClientID).
		SetUsername(options.Username).
		SetProtocolVersion(protocolVersion).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(d.connectTimeout()).
		SetWriteTimeout(d.connectTimeout()).
		SetDefaultPublishHandler(func(_ mqtt.Client, message mqtt.Message) {
			if options.OnMessage != nil {
				options.OnMessage(Message{Topic: message.Topic(), Payload: message.Payload()})
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if conn.closed.Load() {
				return
			}
			d.logger().Warn("realtime connection lost", "error", err)
			if options.OnClose != nil {
				options.OnClose(err)
			}
		})
	clientOptions.SetCustomOpenConnectionFn(func(broker *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
		return d.openConnection(ctx, broker, options)
	})
	return clientOptions
}

func (d *MQTTDialer) openConnection(ctx context.Context, broker *url.URL, options ConnectOptions) (net.Conn, error) {
	dialer := d.Websocket
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: d.connectTimeout(),
		}
	}
	ws, response, err := dialer.DialContext(ctx, broker.String(), options.Header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("transport: websocket handshake with %s: %s: %w", broker.Host, response.Status, err)
		}
		return nil, fmt.Errorf("transport: websocket dial %s: %w", broker.Host, err)
	}
	return NewWebsocketConn(ws), nil
}

// Dial connects to options.URL and waits for the broker's CONNACK.
func (d *MQTTDialer) Dial(ctx context.Context, options ConnectOptions) (Conn, error) {
	if _, err := url.Parse(options.URL); err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint: %w", err)
	}
	dialContext, cancel := context.WithTimeout(ctx, d.connectTimeout())
	defer cancel()

	conn := &mqttConn{}
	conn.client = mqtt.NewClient(d.clientOptions(dialContext, options, conn))
	token := conn.client.Connect()
	if err := wait(dialContext, token); err != nil {
		conn.closed.Store(true)
		conn.client.Disconnect(0)
		return nil, fmt.Errorf("transport: mqtt connect: %w", err)
	}
	d.logger().Debug("realtime connection established", "client_id", options.ClientID)
	return conn, nil
}

type mqttConn struct {
	client mqtt.Client
	closed atomic.Bool
}

// qosAtLeastOnce requires a PUBACK for every publish.
const qosAtLeastOnce = 1

func (c *mqttConn) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.closed.Load() || !c.client.IsConnectionOpen() {
		return ErrClosed
	}
	if err := wait(ctx, c.client.Publish(topic, qosAtLeastOnce, false, payload)); err != nil {
		return fmt.Errorf("transport: publish %s: %w", topic, err)
	}
	return nil
}

func (c *mqttConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
