// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package realtime maintains the push connection of an authenticated
// messaging.Session.
//
// Connect dials the broker with a JSON identity, publishes a queue
// frame that either creates a fresh delta queue or resumes from the
// session's sync cursor, and becomes Active once the broker
// acknowledges it. Inbound frames are routed by topic: the delta topic
// advances the cursor and feeds each delta through delta.Classify,
// the typing topics produce typing indicators, and the presence topic
// produces presence updates when enabled.
//
// Classified events and stream errors are fanned out to subscribers.
// Each Subscription has its own buffered channel. A subscriber that
// falls behind loses updates rather than stalling the connection, and
// is sent ErrUpdatesDropped once it has room again. The session ends
// Closed when the caller closes it or the broker closes the socket, and
// Errored on any other transport failure. All subscription channels
// close when it ends. There is no automatic reconnect: callers build a new
// Session, which resumes from the cursor the old one left behind.
package realtime
