// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"encoding/json"
	"fmt"
	"unicode/utf16"
)

// Options controls which classified events are returned.
type Options struct {
	// SelfID is the logged-in account. Events it authored are dropped
	// unless SelfListen is set.
	SelfID string

	// SelfListen keeps events authored by SelfID.
	SelfListen bool

	// ListenEvents enables everything other than messages and replies:
	// reactions, unsends, receipts, and thread events.
	ListenEvents bool

	// IncludeUnclassified returns deltas with an unrecognized class as
	// *Unclassified events instead of dropping them. It has no effect
	// unless ListenEvents is also set.
	IncludeUnclassified bool
}

// keep applies self-echo suppression to one classified event.
func (o Options) keep(event Event) bool {
	return o.SelfListen || o.SelfID == "" || event.Author() != o.SelfID
}

type envelope struct {
	Class string `json:"class"`
}

// Classify turns one delta into zero or more events. Deltas that batch
// several logical changes are split and each element is classified
// independently: a malformed element contributes one error and does not
// affect its siblings. Every error is a protocol_parse *messaging.Error
// carrying the offending payload.
func Classify(raw json.RawMessage, options Options) ([]Event, []error) {
	var head envelope
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, []error{parseError("delta is not an object", raw, err)}
	}

	var events []Event
	var errs []error
	emit := func(event Event, err error) {
		switch {
		case err != nil:
			errs = append(errs, err)
		case event != nil && options.keep(event):
			events = append(events, event)
		}
	}

	switch head.Class {
	case "NewMessage":
		emit(classifyNewMessage(raw))
		return events, errs
	case "ClientPayload":
		classifyClientPayload(raw, options, emit)
		return events, errs
	}

	if !options.ListenEvents {
		return nil, nil
	}
	switch head.Class {
	case "DeliveryReceipt":
		emit(classifyDeliveryReceipt(raw))
	case "ReadReceipt":
		emit(classifyReadReceipt(raw))
	case "AdminTextMessage", "ThreadName", "ParticipantsAddedToGroupThread", "ParticipantLeftGroupThread":
		emit(classifyThreadEvent(head.Class, raw))
	case "ForcedFetch":
		emit(classifyForcedFetch(raw))
	default:
		if options.IncludeUnclassified {
			emit(&Unclassified{Type: TypeUnclassified, Class: head.Class, Raw: raw}, nil)
		}
	}
	return events, errs
}

func classifyNewMessage(raw json.RawMessage) (Event, error) {
	var message wireMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return nil, parseError("NewMessage shape", raw, err)
	}
	formatted, err := formatMessage(&message, raw)
	if err != nil {
		return nil, err
	}
	return formatted, nil
}

// formatMessage builds a Message from the fields shared by new messages
// and both halves of a reply.
func formatMessage(message *wireMessage, raw []byte) (*Message, error) {
	metadata := message.MessageMetadata
	if metadata == nil || metadata.ThreadKey == nil || metadata.ThreadKey.id() == "" {
		return nil, parseError("message has no thread key", raw, nil)
	}
	if metadata.ActorFbID == "" {
		return nil, parseError("message has no sender", raw, nil)
	}
	body := ""
	if message.Body != nil {
		body = *message.Body
	}
	mentions := map[string]string{}
	if message.Data != nil && message.Data.Prng != "" {
		var err error
		if mentions, err = decodeMentions(body, message.Data.Prng); err != nil {
			return nil, parseError(err.Error(), raw, nil)
		}
	}
	attachments := make([]Attachment, 0, len(message.Attachments))
	for _, attachment := range message.Attachments {
		attachments = append(attachments, formatAttachment(attachment))
	}
	return &Message{
		Type:        TypeMessage,
		ThreadID:    formatID(metadata.ThreadKey.id()),
		MessageID:   metadata.MessageID,
		SenderID:    metadata.ActorFbID.String(),
		Body:        body,
		Mentions:    mentions,
		Attachments: attachments,
		Timestamp:   int64(metadata.Timestamp),
		IsGroup:     metadata.ThreadKey.isGroup(),
	}, nil
}

type mention struct {
	ID     *id     `json:"i"`
	Offset *number `json:"o"`
	Length *number `json:"l"`
}

// decodeMentions maps each mentioned account to the span of body it
// covers. Offsets and lengths count UTF-16 code units.
func decodeMentions(body, prng string) (map[string]string, error) {
	var spans []mention
	if err := json.Unmarshal([]byte(prng), &spans); err != nil {
		return nil, fmt.Errorf("mention list: %v", err)
	}
	units := utf16.Encode([]rune(body))
	mentions := make(map[string]string, len(spans))
	for index, span := range spans {
		if span.ID == nil || span.Offset == nil || span.Length == nil {
			return nil, fmt.Errorf("mention %d is missing id, offset, or length", index)
		}
		start, length := int64(*span.Offset), int64(*span.Length)
		if start < 0 || length < 0 || start+length > int64(len(units)) {
			return nil, fmt.Errorf("mention %d spans [%d,%d) outside a body of %d units", index, start, start+length, len(units))
		}
		mentions[span.ID.String()] = string(utf16.Decode(units[start : start+length]))
	}
	return mentions, nil
}

type clientPayload struct {
	Payload []int `json:"payload"`
}

type clientDelta struct {
	Reaction *struct {
		ThreadKey *threadKey `json:"threadKey"`
		MessageID string     `json:"messageId"`
		Reaction  string     `json:"reaction"`
		SenderID  id         `json:"senderId"`
		UserID    id         `json:"userId"`
	} `json:"deltaMessageReaction"`
	Recall *struct {
		ThreadKey         *threadKey `json:"threadKey"`
		MessageID         string     `json:"messageID"`
		SenderID          id         `json:"senderID"`
		DeletionTimestamp number     `json:"deletionTimestamp"`
		Timestamp         number     `json:"timestamp"`
	} `json:"deltaRecallMessageData"`
	Reply *struct {
		Message          *wireMessage `json:"message"`
		RepliedToMessage *wireMessage `json:"repliedToMessage"`
	} `json:"deltaMessageReply"`
}

// classifyClientPayload decodes the byte-array JSON document a
// ClientPayload delta carries and classifies each inner delta.
func classifyClientPayload(raw json.RawMessage, options Options, emit func(Event, error)) {
	var outer clientPayload
	if err := json.Unmarshal(raw, &outer); err != nil {
		emit(nil, parseError("ClientPayload shape", raw, err))
		return
	}
	decoded := make([]byte, len(outer.Payload))
	for index, value := range outer.Payload {
		if value < 0 || value > 255 {
			emit(nil, parseError(fmt.Sprintf("ClientPayload byte %d out of range", index), raw, nil))
			return
		}
		decoded[index] = byte(value)
	}
	var inner struct {
		Deltas []json.RawMessage `json:"deltas"`
	}
	if err := json.Unmarshal(decoded, &inner); err != nil {
		emit(nil, parseError("ClientPayload contents", decoded, err))
		return
	}
	for _, element := range inner.Deltas {
		emit(classifyClientDelta(element, options))
	}
}

func classifyClientDelta(raw json.RawMessage, options Options) (Event, error) {
	var element clientDelta
	if err := json.Unmarshal(raw, &element); err != nil {
		return nil, parseError("client delta shape", raw, err)
	}
	switch {
	case element.Reaction != nil:
		if !options.ListenEvents {
			return nil, nil
		}
		reaction := element.Reaction
		if reaction.ThreadKey.id() == "" {
			return nil, parseError("reaction has no thread key", raw, nil)
		}
		return &Reaction{
			Type:      TypeReaction,
			ThreadID:  reaction.ThreadKey.id(),
			MessageID: reaction.MessageID,
			Reaction:  reaction.Reaction,
			SenderID:  reaction.SenderID.String(),
			UserID:    reaction.UserID.String(),
		}, nil
	case element.Recall != nil:
		if !options.ListenEvents {
			return nil, nil
		}
		recall := element.Recall
		if recall.ThreadKey.id() == "" {
			return nil, parseError("unsend has no thread key", raw, nil)
		}
		return &Unsend{
			Type:              TypeUnsend,
			ThreadID:          recall.ThreadKey.id(),
			MessageID:         recall.MessageID,
			SenderID:          recall.SenderID.String(),
			DeletionTimestamp: int64(recall.DeletionTimestamp),
			Timestamp:         int64(recall.Timestamp),
		}, nil
	case element.Reply != nil:
		if element.Reply.Message == nil {
			return nil, parseError("reply has no message", raw, nil)
		}
		message, err := formatMessage(element.Reply.Message, raw)
		if err != nil {
			return nil, err
		}
		message.Type = TypeReply
		reply := &Reply{Message: *message}
		if element.Reply.RepliedToMessage != nil {
			if reply.ReplyTo, err = formatMessage(element.Reply.RepliedToMessage, raw); err != nil {
				return nil, err
			}
		}
		return reply, nil
	}
	return nil, nil
}

func classifyDeliveryReceipt(raw json.RawMessage) (Event, error) {
	var receipt struct {
		ThreadKey   *threadKey `json:"threadKey"`
		ActorFbID   id         `json:"actorFbId"`
		MessageIDs  []string   `json:"messageIds"`
		WatermarkMs number     `json:"deliveredWatermarkTimestampMs"`
	}
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, parseError("DeliveryReceipt shape", raw, err)
	}
	if receipt.ThreadKey.id() == "" {
		return nil, parseError("delivery receipt has no thread key", raw, nil)
	}
	deliveredTo := receipt.ActorFbID.String()
	if deliveredTo == "" {
		deliveredTo = receipt.ThreadKey.OtherUserFbID.String()
	}
	return &DeliveryReceipt{
		Type:        TypeDeliveryReceipt,
		ThreadID:    formatID(receipt.ThreadKey.id()),
		DeliveredTo: deliveredTo,
		MessageIDs:  receipt.MessageIDs,
		Time:        int64(receipt.WatermarkMs),
	}, nil
}

// classifyReadReceipt handles both thread kinds: in a one-to-one thread
// otherUserFbId is both the reader and the thread, in a group the
// reader is actorFbId.
func classifyReadReceipt(raw json.RawMessage) (Event, error) {
	var receipt struct {
		ThreadKey         *threadKey `json:"threadKey"`
		ActorFbID         id         `json:"actorFbId"`
		ActionTimestampMs number     `json:"actionTimestampMs"`
	}
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, parseError("ReadReceipt shape", raw, err)
	}
	key := receipt.ThreadKey
	if key == nil || (key.OtherUserFbID == "" && key.ThreadFbID == "") {
		return nil, parseError("read receipt has no thread key", raw, nil)
	}
	reader, thread := key.OtherUserFbID.String(), key.OtherUserFbID.String()
	if reader == "" {
		reader, thread = receipt.ActorFbID.String(), key.ThreadFbID.String()
	}
	return &ReadReceipt{
		Type:     TypeReadReceipt,
		ThreadID: formatID(thread),
		Reader:   reader,
		Time:     int64(receipt.ActionTimestampMs),
	}, nil
}

// adminLogTypes renames admin text message types to their log names.
var adminLogTypes = map[string]string{
	"change_thread_theme":    "log:thread-color",
	"change_thread_nickname": "log:user-nickname",
	"change_thread_icon":     "log:thread-icon",
	"change_thread_admins":   "log:thread-admins",
}

func classifyThreadEvent(class string, raw json.RawMessage) (Event, error) {
	var wire struct {
		MessageMetadata     *messageMetadata `json:"messageMetadata"`
		Type                string           `json:"type"`
		UntypedData         json.RawMessage  `json:"untypedData"`
		Name                *string          `json:"name"`
		AddedParticipants   json.RawMessage  `json:"addedParticipants"`
		LeftParticipantFbID json.RawMessage  `json:"leftParticipantFbId"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, parseError(class+" shape", raw, err)
	}
	metadata := wire.MessageMetadata
	if metadata == nil || metadata.ThreadKey.id() == "" {
		return nil, parseError(class+" has no thread key", raw, nil)
	}

	var logType string
	var logData any
	switch class {
	case "AdminTextMessage":
		logType = wire.Type
		if renamed, ok := adminLogTypes[wire.Type]; ok {
			logType = renamed
		}
		logData = wire.UntypedData
	case "ThreadName":
		if wire.Name == nil {
			return nil, parseError("ThreadName has no name", raw, nil)
		}
		logType, logData = "log:thread-name", map[string]string{"name": *wire.Name}
	case "ParticipantsAddedToGroupThread":
		logType, logData = "log:subscribe", map[string]json.RawMessage{"addedParticipants": wire.AddedParticipants}
	case "ParticipantLeftGroupThread":
		logType, logData = "log:unsubscribe", map[string]json.RawMessage{"leftParticipantFbId": wire.LeftParticipantFbID}
	}
	encoded, err := json.Marshal(logData)
	if err != nil {
		return nil, parseError(class+" data", raw, err)
	}
	return &ThreadEvent{
		Type:      TypeThreadEvent,
		ThreadID:  formatID(metadata.ThreadKey.id()),
		AuthorID:  metadata.ActorFbID.String(),
		LogType:   logType,
		LogData:   encoded,
		LogBody:   metadata.AdminText,
		Timestamp: int64(metadata.Timestamp),
	}, nil
}

// classifyForcedFetch returns nil for fetches that do not name both a
// group thread and a message.
func classifyForcedFetch(raw json.RawMessage) (Event, error) {
	var fetch struct {
		ThreadKey *threadKey `json:"threadKey"`
		MessageID string     `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &fetch); err != nil {
		return nil, parseError("ForcedFetch shape", raw, err)
	}
	if fetch.ThreadKey == nil || fetch.ThreadKey.ThreadFbID == "" || fetch.MessageID == "" {
		return nil, nil
	}
	return &ForcedFetch{
		Type:      TypeForcedFetch,
		ThreadID:  fetch.ThreadKey.ThreadFbID.String(),
		MessageID: fetch.MessageID,
	}, nil
}
