// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import "encoding/json"

// SyncFrame is one message on the main delta topic.
type SyncFrame struct {
	// FirstDeltaSeqID and SyncToken are set together when the server
	// creates or resets the queue.
	FirstDeltaSeqID int64
	SyncToken       string

	// LastIssuedSeqID is the newest sequence id covered by the frame,
	// or zero when absent.
	LastIssuedSeqID int64

	// QueueEntityID is the account the queue belongs to, if stated.
	QueueEntityID string

	Deltas []json.RawMessage
}

// ParseSyncFrame decodes a main-topic frame without classifying its
// deltas.
func ParseSyncFrame(raw []byte) (*SyncFrame, error) {
	var wire struct {
		FirstDeltaSeqID number            `json:"firstDeltaSeqId"`
		SyncToken       string            `json:"syncToken"`
		LastIssuedSeqID number            `json:"lastIssuedSeqId"`
		QueueEntityID   id                `json:"queueEntityId"`
		Deltas          []json.RawMessage `json:"deltas"`
		ErrorCode       string            `json:"errorCode"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, parseError("sync frame shape", raw, err)
	}
	if wire.ErrorCode != "" {
		return nil, parseError("sync queue error "+wire.ErrorCode, raw, nil)
	}
	return &SyncFrame{
		FirstDeltaSeqID: int64(wire.FirstDeltaSeqID),
		SyncToken:       wire.SyncToken,
		LastIssuedSeqID: int64(wire.LastIssuedSeqID),
		QueueEntityID:   wire.QueueEntityID.String(),
		Deltas:          wire.Deltas,
	}, nil
}

// ParseTyping decodes a typing topic frame. One-to-one threads omit the
// thread id, and the sender's id stands in for it.
func ParseTyping(raw []byte) (*Typing, error) {
	var wire struct {
		State    *number `json:"state"`
		SenderID id      `json:"sender_fbid"`
		Thread   id      `json:"thread"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, parseError("typing frame shape", raw, err)
	}
	if wire.SenderID == "" {
		return nil, parseError("typing frame has no sender", raw, nil)
	}
	thread := wire.Thread.String()
	if thread == "" {
		thread = wire.SenderID.String()
	}
	return &Typing{
		Type:     TypeTyping,
		ThreadID: formatID(thread),
		From:     wire.SenderID.String(),
		IsTyping: wire.State != nil && *wire.State != 0,
	}, nil
}

// ParsePresence decodes a presence topic frame into one event per
// listed account. Timestamps are converted from seconds to
// milliseconds. A malformed entry yields an error for that entry only.
func ParsePresence(raw []byte) ([]*Presence, []error) {
	var wire struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, []error{parseError("presence frame shape", raw, err)}
	}
	var found []*Presence
	var errs []error
	for _, entry := range wire.List {
		var item struct {
			User     id     `json:"u"`
			LastSeen number `json:"l"`
			Status   number `json:"p"`
		}
		if err := json.Unmarshal(entry, &item); err != nil {
			errs = append(errs, parseError("presence entry", entry, err))
			continue
		}
		if item.User == "" {
			errs = append(errs, parseError("presence entry has no user", entry, nil))
			continue
		}
		found = append(found, &Presence{
			Type:      TypePresence,
			UserID:    item.User.String(),
			Timestamp: int64(item.LastSeen) * 1000,
			Status:    int(item.Status),
		})
	}
	return found, errs
}

// Keep reports whether options admit event. Events resolved outside
// Classify use it to apply the same self-echo suppression.
func Keep(event Event, options Options) bool {
	return options.keep(event)
}
