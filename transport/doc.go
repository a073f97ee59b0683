// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries the realtime connection: a lightweight
// connect/publish/subscribe session running over a websocket.
//
// The package defines two interfaces. [Dialer] opens a connection given
// [ConnectOptions] (endpoint, client id, the identity blob sent as the
// MQTT username, and the HTTP headers of the websocket handshake).
// [Conn] publishes application frames and waits for the broker's
// acknowledgement. Inbound frames are delivered to
// ConnectOptions.OnMessage one at a time, in arrival order, and loss of
// the connection is reported once through ConnectOptions.OnClose.
//
// The production implementation, [MQTTDialer], runs an MQTT 3.1 client
// (eclipse/paho.mqtt.golang) with clean sessions and no automatic
// reconnection over a gorilla/websocket connection wrapped by
// [WebsocketConn] as a net.Conn. [MemoryBroker] provides an in-process
// implementation for tests: it records connects and publishes, and
// injects inbound frames and connection loss synchronously.
package transport
