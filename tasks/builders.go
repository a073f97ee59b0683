// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/bureau-foundation/messenger/messaging"
)

// Send types of the send-message handler.
const (
	sendTypeText       = 1
	sendTypeSticker    = 2
	sendTypeAttachment = 3
	sendTypeForward    = 5
)

// Mention tags an account in a message body.
type Mention struct {
	// ID is the mentioned account.
	ID string

	// Tag is the text of the mention as it appears in the body, such
	// as "@Alice".
	Tag string

	// FromIndex is the byte offset in the body at which the search for
	// Tag starts. It disambiguates repeated tags.
	FromIndex int
}

// EmojiSize is the display size of an emoji sent on its own.
type EmojiSize string

const (
	EmojiSmall  EmojiSize = "small"
	EmojiMedium EmojiSize = "medium"
	EmojiLarge  EmojiSize = "large"
)

// hotEmojiSize maps an EmojiSize to the wire value.
var hotEmojiSize = map[EmojiSize]int{
	EmojiSmall:  1,
	EmojiMedium: 2,
	EmojiLarge:  3,
}

// shareTypeLink marks a shareable attachment built from a URL.
const shareTypeLink = 100

// Message is an outgoing message. Exactly one of Text, StickerID,
// AttachmentIDs, Emoji, or URL is the primary content; Text may
// accompany attachments and URLs.
type Message struct {
	ThreadID string
	Text     string
	Mentions []Mention

	// ReplyTo is the id of the message being replied to.
	ReplyTo string

	StickerID     string
	AttachmentIDs []string

	// Emoji is sent enlarged in place of Text. EmojiSize defaults to
	// EmojiMedium.
	Emoji     string
	EmojiSize EmojiSize

	// URL is shared as a link preview. ShareParams are the parameters
	// the server returned for it (see messaging.Session.ShareURL);
	// Dispatcher.Send fetches them when they are nil.
	URL         string
	ShareParams json.RawMessage
}

type shareableAttachment struct {
	ShareType   int             `json:"share_type"`
	ShareParams json.RawMessage `json:"share_params"`
}

type replyMetadata struct {
	SourceID   string `json:"reply_source_id"`
	SourceType int    `json:"reply_source_type"`
	Type       int    `json:"reply_type"`
}

type mentionData struct {
	IDs     string `json:"mention_ids"`
	Offsets string `json:"mention_offsets"`
	Lengths string `json:"mention_lengths"`
	Types   string `json:"mention_types"`
}

type sendPayload struct {
	ThreadID          json.Number    `json:"thread_id"`
	OTID              string         `json:"otid"`
	Source            int            `json:"source"`
	SendType          int            `json:"send_type"`
	SyncGroup         int            `json:"sync_group"`
	Text              string         `json:"text,omitempty"`
	InitiatingSource  int            `json:"initiating_source"`
	SkipURLPreviewGen int            `json:"skip_url_preview_gen"`
	TextHasLinks      int            `json:"text_has_links"`
	MultitabEnv       int            `json:"multitab_env"`
	StickerID         json.Number    `json:"sticker_id,omitempty"`
	AttachmentFBIDs   []json.Number  `json:"attachment_fbids,omitempty"`
	ReplyMetadata     *replyMetadata `json:"reply_metadata,omitempty"`
	MentionData       *mentionData   `json:"mention_data,omitempty"`

	HotEmojiSize        int                  `json:"hot_emoji_size,omitempty"`
	ShareableAttachment *shareableAttachment `json:"shareable_attachment,omitempty"`

	ForwardedMessageID       string `json:"forwarded_msg_id,omitempty"`
	StripForwardedMsgCaption *int   `json:"strip_forwarded_msg_caption,omitempty"`
}

// MessageTask builds a send-message task. otid is the client-generated
// message id (see OfflineThreadingID) the server echoes back.
func MessageTask(message Message, otid int64) (Task, error) {
	const op = "send_message"
	threadID, err := fbid(op, "thread id", message.ThreadID)
	if err != nil {
		return Task{}, err
	}
	payload := sendPayload{
		ThreadID:         threadID,
		OTID:             strconv.FormatInt(otid, 10),
		SendType:         sendTypeText,
		SyncGroup:        1,
		Text:             message.Text,
		InitiatingSource: 1,
	}
	if message.EmojiSize != "" && message.Emoji == "" {
		return Task{}, messaging.PreconditionError(op, "emoji size given without an emoji")
	}
	switch {
	case message.StickerID != "":
		if message.Text != "" || len(message.AttachmentIDs) > 0 || message.Emoji != "" || message.URL != "" {
			return Task{}, messaging.PreconditionError(op, "a sticker cannot carry other content")
		}
		payload.SendType = sendTypeSticker
		if payload.StickerID, err = fbid(op, "sticker id", message.StickerID); err != nil {
			return Task{}, err
		}
	case message.Emoji != "":
		if message.Text != "" || len(message.AttachmentIDs) > 0 {
			return Task{}, messaging.PreconditionError(op, "an emoji message cannot carry text or attachments")
		}
		size := message.EmojiSize
		if size == "" {
			size = EmojiMedium
		}
		wire, ok := hotEmojiSize[size]
		if !ok {
			return Task{}, messaging.PreconditionError(op, "unknown emoji size "+strconv.Quote(string(size)))
		}
		payload.Text = message.Emoji
		payload.HotEmojiSize = wire
	case len(message.AttachmentIDs) > 0:
		payload.SendType = sendTypeAttachment
		for _, attachment := range message.AttachmentIDs {
			id, err := fbid(op, "attachment id", attachment)
			if err != nil {
				return Task{}, err
			}
			payload.AttachmentFBIDs = append(payload.AttachmentFBIDs, id)
		}
	case message.URL == "" && message.Text == "":
		return Task{}, messaging.PreconditionError(op, "message has no content")
	}
	if message.URL != "" {
		if len(message.ShareParams) == 0 {
			return Task{}, messaging.PreconditionError(op, "share parameters for "+strconv.Quote(message.URL)+" are missing")
		}
		payload.ShareableAttachment = &shareableAttachment{ShareType: shareTypeLink, ShareParams: message.ShareParams}
		payload.TextHasLinks = 1
	}
	if strings.Contains(message.Text, "http://") || strings.Contains(message.Text, "https://") {
		payload.TextHasLinks = 1
	}
	if message.ReplyTo != "" {
		payload.ReplyMetadata = &replyMetadata{SourceID: message.ReplyTo, SourceType: 1}
	}
	if len(message.Mentions) > 0 {
		data, err := encodeMentions(message.Text, message.Mentions)
		if err != nil {
			return Task{}, err
		}
		payload.MentionData = data
	}
	return Task{Label: LabelSendMessage, Payload: payload, QueueName: message.ThreadID}, nil
}

// TextTask builds a plain text message task.
func TextTask(threadID, text string, otid int64) (Task, error) {
	return MessageTask(Message{ThreadID: threadID, Text: text}, otid)
}

// StickerTask builds a sticker message task.
func StickerTask(threadID, stickerID string, otid int64) (Task, error) {
	return MessageTask(Message{ThreadID: threadID, StickerID: stickerID}, otid)
}

// AttachmentTask builds a message referencing uploaded attachments.
func AttachmentTask(threadID string, attachmentIDs []string, otid int64) (Task, error) {
	return MessageTask(Message{ThreadID: threadID, AttachmentIDs: attachmentIDs}, otid)
}

// encodeMentions locates each tag in text and reports offsets and
// lengths in UTF-16 code units.
func encodeMentions(text string, mentions []Mention) (*mentionData, error) {
	const op = "send_message"
	var ids, offsets, lengths, types []string
	for _, mention := range mentions {
		if _, err := fbid(op, "mention id", mention.ID); err != nil {
			return nil, err
		}
		if mention.Tag == "" {
			return nil, messaging.PreconditionError(op, "mention tag is empty")
		}
		if mention.FromIndex < 0 || mention.FromIndex > len(text) {
			return nil, messaging.PreconditionError(op, "mention search start is outside the text")
		}
		index := strings.Index(text[mention.FromIndex:], mention.Tag)
		if index < 0 {
			return nil, messaging.PreconditionError(op, "mention "+strconv.Quote(mention.Tag)+" not found in text")
		}
		index += mention.FromIndex
		ids = append(ids, mention.ID)
		offsets = append(offsets, strconv.Itoa(utf16Length(text[:index])))
		lengths = append(lengths, strconv.Itoa(utf16Length(mention.Tag)))
		types = append(types, "p")
	}
	return &mentionData{
		IDs:     strings.Join(ids, ","),
		Offsets: strings.Join(offsets, ","),
		Lengths: strings.Join(lengths, ","),
		Types:   strings.Join(types, ","),
	}, nil
}

func utf16Length(text string) int {
	return len(utf16.Encode([]rune(text)))
}

// ForwardTask forwards messageID into threadID.
func ForwardTask(threadID, messageID string, otid int64) (Task, error) {
	const op = "forward"
	thread, err := fbid(op, "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	if messageID == "" {
		return Task{}, messaging.PreconditionError(op, "message id is required")
	}
	strip := 0
	return Task{
		Label: LabelSendMessage,
		Payload: sendPayload{
			ThreadID:                 thread,
			OTID:                     strconv.FormatInt(otid, 10),
			Source:                   65536,
			SendType:                 sendTypeForward,
			SyncGroup:                1,
			InitiatingSource:         1,
			ForwardedMessageID:       messageID,
			StripForwardedMsgCaption: &strip,
		},
		QueueName: threadID,
	}, nil
}

// ReactionTask sets actorID's reaction on a message. An empty reaction
// removes it.
func ReactionTask(threadID, messageID, actorID, reaction string, timestampMs int64) (Task, error) {
	const op = "reaction"
	thread, err := fbid(op, "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	actor, err := fbid(op, "actor id", actorID)
	if err != nil {
		return Task{}, err
	}
	if messageID == "" {
		return Task{}, messaging.PreconditionError(op, "message id is required")
	}
	queue, err := json.Marshal([]string{"reaction", messageID})
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelReaction,
		Payload: struct {
			ThreadKey       json.Number `json:"thread_key"`
			TimestampMs     int64       `json:"timestamp_ms"`
			MessageID       string      `json:"message_id"`
			ActorID         json.Number `json:"actor_id"`
			Reaction        string      `json:"reaction"`
			ReactionStyle   *int        `json:"reaction_style"`
			SyncGroup       int         `json:"sync_group"`
			SendAttribution int         `json:"send_attribution"`
		}{thread, timestampMs, messageID, actor, reaction, nil, 1, 65537},
		QueueName: string(queue),
	}, nil
}

// MarkReadTask moves the read watermark of threadID.
func MarkReadTask(threadID string, watermarkMs int64) (Task, error) {
	thread, err := fbid("mark_read", "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelMarkRead,
		Payload: struct {
			ThreadID   json.Number `json:"thread_id"`
			LastReadTs int64       `json:"last_read_watermark_ts"`
			SyncGroup  int         `json:"sync_group"`
		}{thread, watermarkMs, 1},
		QueueName: threadID,
	}, nil
}

// RenameThreadTask sets the name of a group thread.
func RenameThreadTask(threadID, name string) (Task, error) {
	thread, err := fbid("rename_thread", "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelRenameThread,
		Payload: struct {
			ThreadKey  json.Number `json:"thread_key"`
			ThreadName string      `json:"thread_name"`
			SyncGroup  int         `json:"sync_group"`
		}{thread, name, 1},
		QueueName: threadID,
	}, nil
}

// ThreadImageTask sets the photo of a group thread to an uploaded
// image.
func ThreadImageTask(threadID, imageID string) (Task, error) {
	const op = "thread_image"
	thread, err := fbid(op, "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	image, err := fbid(op, "image id", imageID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelThreadImage,
		Payload: struct {
			ThreadKey json.Number `json:"thread_key"`
			ImageID   json.Number `json:"image_id"`
			SyncGroup int         `json:"sync_group"`
		}{thread, image, 1},
		QueueName: "thread_image",
	}, nil
}

// AddParticipantsTask adds accounts to a group thread.
func AddParticipantsTask(threadID string, userIDs ...string) (Task, error) {
	const op = "add_participants"
	thread, err := fbid(op, "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	if len(userIDs) == 0 {
		return Task{}, messaging.PreconditionError(op, "no participants given")
	}
	contacts := make([]json.Number, len(userIDs))
	for index, userID := range userIDs {
		if contacts[index], err = fbid(op, "user id", userID); err != nil {
			return Task{}, err
		}
	}
	return Task{
		Label: LabelAddParticipants,
		Payload: struct {
			ThreadKey  json.Number   `json:"thread_key"`
			ContactIDs []json.Number `json:"contact_ids"`
			SyncGroup  int           `json:"sync_group"`
		}{thread, contacts, 1},
		QueueName: threadID,
	}, nil
}

// RemoveParticipantTask removes an account from a group thread.
func RemoveParticipantTask(threadID, userID string) (Task, error) {
	const op = "remove_participant"
	thread, err := fbid(op, "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	contact, err := fbid(op, "user id", userID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelRemoveParticipant,
		Payload: struct {
			ThreadID  json.Number `json:"thread_id"`
			ContactID json.Number `json:"contact_id"`
			SyncGroup int         `json:"sync_group"`
		}{thread, contact, 1},
		QueueName: "remove_participant_v2",
	}, nil
}

// AdminTask promotes or demotes a participant of a group thread.
func AdminTask(threadID, userID string, admin bool) (Task, error) {
	const op = "set_admin"
	thread, err := fbid(op, "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	contact, err := fbid(op, "user id", userID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelSetAdmin,
		Payload: struct {
			ThreadKey json.Number `json:"thread_key"`
			ContactID json.Number `json:"contact_id"`
			IsAdmin   int         `json:"is_admin"`
		}{thread, contact, boolInt(admin)},
		QueueName: "admin_status",
	}, nil
}

// TypingTask starts or stops the typing indicator in a thread.
func TypingTask(threadID string, isGroup, typing bool) (Task, error) {
	thread, err := fbid("typing", "thread id", threadID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		Label: LabelTyping,
		Payload: struct {
			ThreadKey     json.Number `json:"thread_key"`
			IsGroupThread int         `json:"is_group_thread"`
			IsTyping      int         `json:"is_typing"`
			Attribution   int         `json:"attribution"`
		}{thread, boolInt(isGroup), boolInt(typing), 0},
		QueueName: "typing",
	}, nil
}

// UnsendTask retracts a message the account sent.
func UnsendTask(messageID string) (Task, error) {
	if messageID == "" {
		return Task{}, messaging.PreconditionError("unsend", "message id is required")
	}
	return Task{
		Label: LabelUnsend,
		Payload: struct {
			MessageID string `json:"message_id"`
		}{messageID},
		QueueName: "unsend_message",
	}, nil
}
