// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/messenger/lib/testutil"
)

func TestMemoryBrokerRoundTrip(t *testing.T) {
	broker := NewMemoryBroker()
	var received []Message
	conn, err := broker.Dialer().Dial(context.Background(), ConnectOptions{
		ClientID:  "mqttwsclient",
		OnMessage: func(message Message) { received = append(received, message) },
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	dialed := testutil.RequireReceive(t, broker.Dialed(), time.Second, "dial")
	if dialed.ClientID != "mqttwsclient" {
		t.Errorf("dialed client id = %q", dialed.ClientID)
	}

	if err := conn.Publish(context.Background(), "/ls_req", []byte("task")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	published := testutil.RequireReceive(t, broker.Published(), time.Second, "publish")
	if published.Topic != "/ls_req" || string(published.Payload) != "task" {
		t.Errorf("published = %+v", published)
	}

	broker.Deliver("/t_ms", []byte("one"))
	broker.Deliver("/t_ms", []byte("two"))
	if len(received) != 2 || string(received[0].Payload) != "one" || string(received[1].Payload) != "two" {
		t.Errorf("received = %+v", received)
	}

	conn.Close()
	if err := conn.Publish(context.Background(), "/ls_req", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after close = %v, want ErrClosed", err)
	}
	broker.Deliver("/t_ms", []byte("three"))
	if len(received) != 2 {
		t.Error("closed connection still receives frames")
	}
}

func TestMemoryBrokerDropReportsOnce(t *testing.T) {
	broker := NewMemoryBroker()
	closes := make(chan error, 2)
	conn, _ := broker.Dialer().Dial(context.Background(), ConnectOptions{OnClose: func(err error) { closes <- err }})

	lost := errors.New("connection reset")
	broker.Drop(lost)
	broker.Drop(lost)
	if err := testutil.RequireReceive(t, closes, time.Second, "close"); !errors.Is(err, lost) {
		t.Errorf("OnClose error = %v", err)
	}
	testutil.RequireNoReceive(t, closes, 50*time.Millisecond, "second close")
	if err := conn.Publish(context.Background(), "/t", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("publish after drop = %v", err)
	}
}

func TestMemoryBrokerFailures(t *testing.T) {
	broker := NewMemoryBroker()
	refused := errors.New("refused")
	broker.FailDials(refused)
	if _, err := broker.Dialer().Dial(context.Background(), ConnectOptions{}); !errors.Is(err, refused) {
		t.Errorf("Dial error = %v", err)
	}
	broker.FailDials(nil)

	conn, err := broker.Dialer().Dial(context.Background(), ConnectOptions{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	broker.RejectPublishes("/messenger_sync_create_queue", refused)
	if err := conn.Publish(context.Background(), "/messenger_sync_create_queue", nil); !errors.Is(err, refused) {
		t.Errorf("Publish error = %v", err)
	}
	if len(broker.Dials()) != 2 {
		t.Errorf("recorded %d dials, want 2", len(broker.Dials()))
	}
}
