// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import "errors"

// ErrUpdatesDropped is delivered as an Update.Err to a subscriber that
// fell behind. The wrapped message carries how many updates it missed.
var ErrUpdatesDropped = errors.New("realtime: subscriber fell behind, updates dropped")

// Subscription receives the session's updates in arrival order.
type Subscription struct {
	session *Session
	ch      chan Update

	// dropped counts updates lost since the last drop notice. Guarded
	// by session.mu.
	dropped int
}

// Updates returns the subscription's channel. It is closed by
// Unsubscribe or when the session reaches Closed or Errored.
func (sub *Subscription) Updates() <-chan Update { return sub.ch }

// Err returns the error that ended the session, or nil while it runs
// and after it ended Closed.
func (sub *Subscription) Err() error { return sub.session.Err() }

// Unsubscribe stops delivery and closes the channel. It is idempotent.
func (sub *Subscription) Unsubscribe() {
	s := sub.session
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.subscribers {
		if candidate == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Subscribe registers a new subscriber with the given channel capacity.
// Subscribing to a finished session returns an already closed channel.
func (s *Session) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{session: s, ch: make(chan Update, buffer)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		close(sub.ch)
		return sub
	}
	s.subscribers = append(s.subscribers, sub)
	return sub
}
