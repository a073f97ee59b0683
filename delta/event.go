// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package delta classifies the payloads pushed over the realtime
// connection into typed events. Every function here is pure: it reads
// the raw payload and the caller's options and returns events, never
// performing I/O.
package delta

import "encoding/json"

// Type discriminates Event implementations. The values appear in the
// JSON encoding of every event.
type Type string

const (
	TypeMessage         Type = "message"
	TypeReply           Type = "message_reply"
	TypeReaction        Type = "message_reaction"
	TypeUnsend          Type = "message_unsend"
	TypeTyping          Type = "typ"
	TypePresence        Type = "presence"
	TypeDeliveryReceipt Type = "delivery_receipt"
	TypeReadReceipt     Type = "read_receipt"
	TypeThreadEvent     Type = "event"
	TypeThreadImage     Type = "change_thread_image"
	TypeForcedFetch     Type = "forced_fetch"
	TypeUnclassified    Type = "unclassified"
)

// Event is one classified inbound change. The set of implementations is
// closed: *Message, *Reply, *Reaction, *Unsend, *Typing, *Presence,
// *DeliveryReceipt, *ReadReceipt, *ThreadEvent, *ThreadImage,
// *ForcedFetch, and *Unclassified.
type Event interface {
	// Kind returns the event's discriminant.
	Kind() Type
	// Thread returns the thread the event belongs to, or "" for
	// events not scoped to a thread (presence).
	Thread() string
	// Author returns the account that caused the event, or "" when
	// the event has no author of its own (receipts, presence).
	Author() string
}

// Message is a regular message.
type Message struct {
	Type        Type              `json:"type"`
	ThreadID    string            `json:"threadID"`
	MessageID   string            `json:"messageID"`
	SenderID    string            `json:"senderID"`
	Body        string            `json:"body"`
	Mentions    map[string]string `json:"mentions"`
	Attachments []Attachment      `json:"attachments"`
	Timestamp   int64             `json:"timestamp"`
	IsGroup     bool              `json:"isGroup"`
}

func (m *Message) Kind() Type     { return m.Type }
func (m *Message) Thread() string { return m.ThreadID }
func (m *Message) Author() string { return m.SenderID }

// Reply is a message quoting an earlier one. ReplyTo is nil when the
// server omits the quoted message (for example, when it was deleted).
type Reply struct {
	Message
	ReplyTo *Message `json:"messageReply,omitempty"`
}

// Reaction is a reaction added to or removed from a message. Reaction is
// empty when the reaction was removed.
type Reaction struct {
	Type      Type   `json:"type"`
	ThreadID  string `json:"threadID"`
	MessageID string `json:"messageID"`
	Reaction  string `json:"reaction"`
	SenderID  string `json:"senderID"`
	UserID    string `json:"userID"`
}

func (r *Reaction) Kind() Type     { return r.Type }
func (r *Reaction) Thread() string { return r.ThreadID }
func (r *Reaction) Author() string { return r.UserID }

// Unsend reports a message its sender removed for everyone.
type Unsend struct {
	Type              Type   `json:"type"`
	ThreadID          string `json:"threadID"`
	MessageID         string `json:"messageID"`
	SenderID          string `json:"senderID"`
	DeletionTimestamp int64  `json:"deletionTimestamp"`
	Timestamp         int64  `json:"timestamp"`
}

func (u *Unsend) Kind() Type     { return u.Type }
func (u *Unsend) Thread() string { return u.ThreadID }
func (u *Unsend) Author() string { return u.SenderID }

// Typing is a typing indicator change.
type Typing struct {
	Type     Type   `json:"type"`
	ThreadID string `json:"threadID"`
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

func (t *Typing) Kind() Type     { return t.Type }
func (t *Typing) Thread() string { return t.ThreadID }
func (t *Typing) Author() string { return t.From }

// Presence is a contact's last-active report.
type Presence struct {
	Type      Type   `json:"type"`
	UserID    string `json:"userID"`
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"statuses"`
}

func (p *Presence) Kind() Type     { return p.Type }
func (p *Presence) Thread() string { return "" }
func (p *Presence) Author() string { return "" }

// DeliveryReceipt reports messages delivered to another participant.
type DeliveryReceipt struct {
	Type        Type     `json:"type"`
	ThreadID    string   `json:"threadID"`
	DeliveredTo string   `json:"deliveredTo"`
	MessageIDs  []string `json:"messageIDs"`
	Time        int64    `json:"time"`
}

func (d *DeliveryReceipt) Kind() Type     { return d.Type }
func (d *DeliveryReceipt) Thread() string { return d.ThreadID }
func (d *DeliveryReceipt) Author() string { return "" }

// ReadReceipt reports that a participant read a thread.
type ReadReceipt struct {
	Type     Type   `json:"type"`
	ThreadID string `json:"threadID"`
	Reader   string `json:"reader"`
	Time     int64  `json:"time"`
}

func (r *ReadReceipt) Kind() Type     { return r.Type }
func (r *ReadReceipt) Thread() string { return r.ThreadID }
func (r *ReadReceipt) Author() string { return "" }

// ThreadEvent is an administrative change to a thread: a rename,
// participants joining or leaving, or an admin text change such as a
// new color, emoji, nickname, or admin list.
type ThreadEvent struct {
	Type      Type            `json:"type"`
	ThreadID  string          `json:"threadID"`
	AuthorID  string          `json:"author"`
	LogType   string          `json:"logMessageType"`
	LogData   json.RawMessage `json:"logMessageData"`
	LogBody   string          `json:"logMessageBody"`
	Timestamp int64           `json:"timestamp"`
}

func (e *ThreadEvent) Kind() Type     { return e.Type }
func (e *ThreadEvent) Thread() string { return e.ThreadID }
func (e *ThreadEvent) Author() string { return e.AuthorID }

// ThreadImage is a group photo change. It is produced by resolving a
// ForcedFetch against the server, not by Classify.
type ThreadImage struct {
	Type         Type   `json:"type"`
	ThreadID     string `json:"threadID"`
	AuthorID     string `json:"author"`
	Snippet      string `json:"snippet"`
	Timestamp    int64  `json:"timestamp"`
	AttachmentID string `json:"attachmentID"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	URL          string `json:"url"`
}

func (i *ThreadImage) Kind() Type     { return i.Type }
func (i *ThreadImage) Thread() string { return i.ThreadID }
func (i *ThreadImage) Author() string { return i.AuthorID }

// ForcedFetch asks the client to fetch a message the server did not
// inline. The realtime session resolves it into a ThreadImage when the
// message is a group photo change.
type ForcedFetch struct {
	Type      Type   `json:"type"`
	ThreadID  string `json:"threadID"`
	MessageID string `json:"messageID"`
}

func (f *ForcedFetch) Kind() Type     { return f.Type }
func (f *ForcedFetch) Thread() string { return f.ThreadID }
func (f *ForcedFetch) Author() string { return "" }

// Unclassified carries a delta whose class is not recognized.
type Unclassified struct {
	Type  Type            `json:"type"`
	Class string          `json:"class"`
	Raw   json.RawMessage `json:"raw"`
}

func (u *Unclassified) Kind() Type     { return u.Type }
func (u *Unclassified) Thread() string { return "" }
func (u *Unclassified) Author() string { return "" }
