// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/messenger/messaging"
)

func newMessage(sender, body, prng string) string {
	data := ""
	if prng != "" {
		encoded, _ := json.Marshal(prng)
		data = `,"data":{"prng":` + string(encoded) + `}`
	}
	encodedBody, _ := json.Marshal(body)
	return `{"class":"NewMessage","body":` + string(encodedBody) + data + `,` +
		`"messageMetadata":{"threadKey":{"otherUserFbId":"` + sender + `"},"messageId":"mid.1","actorFbId":"` + sender + `","timestamp":"1700000000000"}}`
}

// clientPayload encodes inner deltas the way the server does: a JSON
// document serialized as an array of byte values.
func clientPayloadDelta(t *testing.T, deltas ...string) string {
	t.Helper()
	document := `{"deltas":[` + strings.Join(deltas, ",") + `]}`
	values := make([]int, len(document))
	for index := range len(document) {
		values[index] = int(document[index])
	}
	encoded, err := json.Marshal(map[string]any{"class": "ClientPayload", "payload": values})
	if err != nil {
		t.Fatalf("encoding client payload: %v", err)
	}
	return string(encoded)
}

func classifyOne(t *testing.T, raw string, options Options) Event {
	t.Helper()
	events, errs := Classify(json.RawMessage(raw), options)
	if len(errs) != 0 {
		t.Fatalf("Classify errors: %v", errs)
	}
	if len(events) != 1 {
		t.Fatalf("Classify returned %d events, want 1: %+v", len(events), events)
	}
	return events[0]
}

func TestClassifyMessage(t *testing.T) {
	event := classifyOne(t, newMessage("42", "hi @bob", `[{"i":"42","o":3,"l":4}]`), Options{SelfID: "100001"})
	message, ok := event.(*Message)
	if !ok {
		t.Fatalf("event = %T, want *Message", event)
	}
	if message.Type != TypeMessage || message.ThreadID != "42" || message.SenderID != "42" || message.MessageID != "mid.1" {
		t.Errorf("message = %+v", message)
	}
	if message.Timestamp != 1700000000000 || message.IsGroup {
		t.Errorf("timestamp = %d, isGroup = %v", message.Timestamp, message.IsGroup)
	}
	if len(message.Mentions) != 1 || message.Mentions["42"] != "@bob" {
		t.Errorf("mentions = %v, want {42: @bob}", message.Mentions)
	}
}

func TestMentionsUseUTF16Offsets(t *testing.T) {
	event := classifyOne(t, newMessage("42", "😀 @ann", `[{"i":7,"o":3,"l":4}]`), Options{})
	if mentions := event.(*Message).Mentions; mentions["7"] != "@ann" {
		t.Errorf("mentions = %v, want {7: @ann}", mentions)
	}
}

func TestMentionErrors(t *testing.T) {
	tests := []struct {
		name string
		prng string
	}{
		{"out of range", `[{"i":"42","o":5,"l":4}]`},
		{"negative offset", `[{"i":"42","o":-1,"l":2}]`},
		{"missing length", `[{"i":"42","o":3}]`},
		{"not a list", `{"i":"42"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			events, errs := Classify(json.RawMessage(newMessage("42", "hi @bob", test.prng)), Options{})
			if len(events) != 0 || len(errs) != 1 {
				t.Fatalf("events = %v, errs = %v", events, errs)
			}
			var classifyErr *messaging.Error
			if !errors.As(errs[0], &classifyErr) || classifyErr.Kind != messaging.KindProtocolParse {
				t.Fatalf("error = %v, want protocol_parse", errs[0])
			}
			if len(classifyErr.Payload) == 0 {
				t.Error("error carries no payload")
			}
		})
	}
}

func TestSelfEchoSuppression(t *testing.T) {
	raw := json.RawMessage(newMessage("100001", "from me", ""))
	events, errs := Classify(raw, Options{SelfID: "100001"})
	if len(events) != 0 || len(errs) != 0 {
		t.Errorf("without self listen: events = %v, errs = %v", events, errs)
	}
	events, _ = Classify(raw, Options{SelfID: "100001", SelfListen: true})
	if len(events) != 1 {
		t.Errorf("with self listen: %d events, want 1", len(events))
	}
}

func TestClassifyMissingThreadKey(t *testing.T) {
	_, errs := Classify(json.RawMessage(`{"class":"NewMessage","body":"x","messageMetadata":{"actorFbId":"1"}}`), Options{})
	if len(errs) != 1 || !errors.Is(errs[0], messaging.ErrProtocolParse) {
		t.Errorf("errs = %v", errs)
	}
}

func TestClassifyNotAnObject(t *testing.T) {
	_, errs := Classify(json.RawMessage(`[1,2]`), Options{})
	if len(errs) != 1 || !errors.Is(errs[0], messaging.ErrProtocolParse) {
		t.Errorf("errs = %v", errs)
	}
}

const reactionDelta = `{"deltaMessageReaction":{"threadKey":{"threadFbId":"900"},"messageId":"mid.5","reaction":"😍","senderId":77,"userId":55,"action":0}}`

const recallDelta = `{"deltaRecallMessageData":{"threadKey":{"otherUserFbId":"55"},"messageID":"mid.6","senderID":"55","deletionTimestamp":1700000000500,"timestamp":1700000000000}}`

const replyDelta = `{"deltaMessageReply":{
	"message":{"body":"yes @al","data":{"prng":"[{\"i\":\"66\",\"o\":4,\"l\":3}]"},"attachments":[],
		"messageMetadata":{"threadKey":{"threadFbId":"900"},"messageId":"mid.8","actorFbId":"55","timestamp":"1700000001000"}},
	"repliedToMessage":{"body":"coming?","attachments":[],
		"messageMetadata":{"threadKey":{"threadFbId":"900"},"messageId":"mid.7","actorFbId":"66","timestamp":"1700000000000"}}}}`

func TestClassifyClientPayloadIsolatesElements(t *testing.T) {
	raw := clientPayloadDelta(t, reactionDelta, `{"deltaMessageReply":{"message":{"body":"broken"}}}`, replyDelta, recallDelta)
	events, errs := Classify(json.RawMessage(raw), Options{ListenEvents: true})
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one error for the malformed reply", errs)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}

	reaction, ok := events[0].(*Reaction)
	if !ok || reaction.ThreadID != "900" || reaction.Reaction != "😍" || reaction.UserID != "55" || reaction.SenderID != "77" {
		t.Errorf("reaction = %+v", events[0])
	}

	reply, ok := events[1].(*Reply)
	if !ok {
		t.Fatalf("events[1] = %T, want *Reply", events[1])
	}
	if reply.Type != TypeReply || reply.MessageID != "mid.8" || !reply.IsGroup || reply.Mentions["66"] != "@al" {
		t.Errorf("reply = %+v", reply.Message)
	}
	if reply.ReplyTo == nil || reply.ReplyTo.MessageID != "mid.7" || reply.ReplyTo.Type != TypeMessage || reply.ReplyTo.SenderID != "66" {
		t.Errorf("replied-to = %+v", reply.ReplyTo)
	}

	unsend, ok := events[2].(*Unsend)
	if !ok || unsend.ThreadID != "55" || unsend.MessageID != "mid.6" || unsend.DeletionTimestamp != 1700000000500 {
		t.Errorf("unsend = %+v", events[2])
	}
}

func TestReactionsNeedListenEvents(t *testing.T) {
	raw := clientPayloadDelta(t, reactionDelta, replyDelta)
	events, errs := Classify(json.RawMessage(raw), Options{})
	if len(errs) != 0 || len(events) != 1 || events[0].Kind() != TypeReply {
		t.Errorf("events = %+v, errs = %v", events, errs)
	}
}

func TestClientPayloadByteOutOfRange(t *testing.T) {
	_, errs := Classify(json.RawMessage(`{"class":"ClientPayload","payload":[123,300]}`), Options{ListenEvents: true})
	if len(errs) != 1 || !errors.Is(errs[0], messaging.ErrProtocolParse) {
		t.Errorf("errs = %v", errs)
	}
}

func TestNonMessageClassesNeedListenEvents(t *testing.T) {
	raw := json.RawMessage(`{"class":"ReadReceipt","threadKey":{"otherUserFbId":"55"},"actionTimestampMs":"1700000000000"}`)
	if events, errs := Classify(raw, Options{}); len(events) != 0 || len(errs) != 0 {
		t.Errorf("events = %v, errs = %v", events, errs)
	}
}

func TestClassifyReadReceipt(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantThread string
		wantReader string
	}{
		{
			name:       "one to one",
			raw:        `{"class":"ReadReceipt","threadKey":{"otherUserFbId":"55"},"actionTimestampMs":"1700000000000"}`,
			wantThread: "55",
			wantReader: "55",
		},
		{
			name:       "group",
			raw:        `{"class":"ReadReceipt","threadKey":{"threadFbId":"900"},"actorFbId":"66","actionTimestampMs":1700000000000}`,
			wantThread: "900",
			wantReader: "66",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			receipt, ok := classifyOne(t, test.raw, Options{ListenEvents: true}).(*ReadReceipt)
			if !ok {
				t.Fatal("event is not a read receipt")
			}
			if receipt.ThreadID != test.wantThread || receipt.Reader != test.wantReader || receipt.Time != 1700000000000 {
				t.Errorf("receipt = %+v", receipt)
			}
		})
	}
}

func TestClassifyDeliveryReceipt(t *testing.T) {
	raw := `{"class":"DeliveryReceipt","threadKey":{"threadFbId":"900"},"actorFbId":"66","messageIds":["mid.1","mid.2"],"deliveredWatermarkTimestampMs":"1700000000000"}`
	receipt, ok := classifyOne(t, raw, Options{ListenEvents: true}).(*DeliveryReceipt)
	if !ok || receipt.ThreadID != "900" || receipt.DeliveredTo != "66" || len(receipt.MessageIDs) != 2 || receipt.Time != 1700000000000 {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestClassifyThreadEvents(t *testing.T) {
	metadata := `"messageMetadata":{"threadKey":{"threadFbId":"900"},"actorFbId":"55","adminText":"Al changed things.","timestamp":"1700000000000"}`
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantData string
	}{
		{"rename", `{"class":"ThreadName","name":"Team",` + metadata + `}`, "log:thread-name", `{"name":"Team"}`},
		{"nickname", `{"class":"AdminTextMessage","type":"change_thread_nickname","untypedData":{"nickname":"Al","participant_id":"55"},` + metadata + `}`, "log:user-nickname", `{"nickname":"Al","participant_id":"55"}`},
		{"poll", `{"class":"AdminTextMessage","type":"group_poll","untypedData":{"question":"?"},` + metadata + `}`, "group_poll", `{"question":"?"}`},
		{"added", `{"class":"ParticipantsAddedToGroupThread","addedParticipants":[{"userFbId":"77"}],` + metadata + `}`, "log:subscribe", `{"addedParticipants":[{"userFbId":"77"}]}`},
		{"left", `{"class":"ParticipantLeftGroupThread","leftParticipantFbId":"77",` + metadata + `}`, "log:unsubscribe", `{"leftParticipantFbId":"77"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			event, ok := classifyOne(t, test.raw, Options{ListenEvents: true}).(*ThreadEvent)
			if !ok {
				t.Fatal("event is not a thread event")
			}
			if event.ThreadID != "900" || event.AuthorID != "55" || event.LogBody != "Al changed things." {
				t.Errorf("event = %+v", event)
			}
			if event.LogType != test.wantType {
				t.Errorf("LogType = %q, want %q", event.LogType, test.wantType)
			}
			if string(event.LogData) != test.wantData {
				t.Errorf("LogData = %s, want %s", event.LogData, test.wantData)
			}
		})
	}
}

func TestThreadEventSelfSuppression(t *testing.T) {
	raw := json.RawMessage(`{"class":"ThreadName","name":"Team","messageMetadata":{"threadKey":{"threadFbId":"900"},"actorFbId":"100001"}}`)
	if events, _ := Classify(raw, Options{SelfID: "100001", ListenEvents: true}); len(events) != 0 {
		t.Errorf("own rename not suppressed: %+v", events)
	}
}

func TestClassifyForcedFetch(t *testing.T) {
	event := classifyOne(t, `{"class":"ForcedFetch","threadKey":{"threadFbId":900},"messageId":"mid.9"}`, Options{ListenEvents: true})
	fetch, ok := event.(*ForcedFetch)
	if !ok || fetch.ThreadID != "900" || fetch.MessageID != "mid.9" {
		t.Errorf("fetch = %+v", event)
	}
	events, errs := Classify(json.RawMessage(`{"class":"ForcedFetch","threadKey":{"otherUserFbId":"55"}}`), Options{ListenEvents: true})
	if len(events) != 0 || len(errs) != 0 {
		t.Errorf("incomplete fetch: events = %v, errs = %v", events, errs)
	}
}

func TestUnknownClass(t *testing.T) {
	raw := json.RawMessage(`{"class":"MarkFolderSeen","folders":["INBOX"]}`)
	if events, errs := Classify(raw, Options{ListenEvents: true}); len(events) != 0 || len(errs) != 0 {
		t.Errorf("events = %v, errs = %v", events, errs)
	}
	events, _ := Classify(raw, Options{ListenEvents: true, IncludeUnclassified: true})
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	if unclassified := events[0].(*Unclassified); unclassified.Class != "MarkFolderSeen" {
		t.Errorf("class = %q", unclassified.Class)
	}
}

func TestAttachmentFormats(t *testing.T) {
	raw := `{"class":"NewMessage","body":"",
		"messageMetadata":{"threadKey":{"threadFbId":"900"},"messageId":"mid.1","actorFbId":"55","timestamp":1},
		"attachments":[
			{"fbid":"1","mercury":{"blob_attachment":{"__typename":"MessageImage","legacy_attachment_id":"11","filename":"cat.png",
				"thumbnail":{"uri":"https://t"},"preview":{"uri":"https://p","width":10,"height":8},
				"large_preview":{"uri":"https://l"},"original_dimensions":{"x":100,"y":80}}}},
			{"mercury":{"attach_type":"photo","fileName":"dog.jpg","metadata":{"fbid":12,"url":"https://d","dimensions":"640,480"}}},
			{"mercury":{"sticker_attachment":{"id":"369239263222822","url":"https://s","pack":{"id":"227877430692340"},"width":120,"height":120,"label":"Like"}}},
			{"mercury":{"blob_attachment":{"__typename":"MessageAudio","filename":"a.mp4","url_shimhash":"shim","playable_url":"https://a","playable_duration_in_ms":2500}}},
			{"mercury":{"blob_attachment":{"__typename":"SomethingNew"}}}
		]}`
	message := classifyOne(t, raw, Options{}).(*Message)
	if len(message.Attachments) != 5 {
		t.Fatalf("got %d attachments", len(message.Attachments))
	}
	want := []Attachment{
		{Type: "photo", ID: "11", Filename: "cat.png", URL: "https://l", PreviewURL: "https://p", ThumbnailURL: "https://t", Width: 100, Height: 80},
		{Type: "photo", ID: "12", Filename: "dog.jpg", URL: "https://d", Width: 640, Height: 480},
		{Type: "sticker", ID: "369239263222822", URL: "https://s", PackID: "227877430692340", Width: 120, Height: 120, Description: "Like"},
		{Type: "audio", ID: "shim", Filename: "a.mp4", URL: "https://a", DurationMs: 2500},
	}
	for index, expected := range want {
		got := message.Attachments[index]
		got.Raw = nil
		if !attachmentsEqual(got, expected) {
			t.Errorf("attachment %d = %+v, want %+v", index, got, expected)
		}
	}
	if last := message.Attachments[4]; last.Type != "unknown" || len(last.Raw) == 0 {
		t.Errorf("unrecognized attachment = %+v", last)
	}
}

func attachmentsEqual(a, b Attachment) bool {
	a.Raw, b.Raw = nil, nil
	encodedA, _ := json.Marshal(a)
	encodedB, _ := json.Marshal(b)
	return string(encodedA) == string(encodedB)
}

func TestReplyAttachmentsFromMercuryJSON(t *testing.T) {
	reply := `{"deltaMessageReply":{"message":{"body":"see","messageMetadata":{"threadKey":{"otherUserFbId":"55"},"messageId":"mid.2","actorFbId":"55","timestamp":"1"},
		"attachments":[{"fbid":"31","mercuryJSON":"{\"blob_attachment\":{\"__typename\":\"MessageFile\",\"message_file_fbid\":\"31\",\"filename\":\"r.pdf\",\"url\":\"https://f\",\"content_type\":\"application/pdf\"}}"}]}}}`
	event := classifyOne(t, clientPayloadDelta(t, reply), Options{})
	attachments := event.(*Reply).Attachments
	if len(attachments) != 1 || attachments[0].Type != "file" || attachments[0].ID != "31" || attachments[0].ContentType != "application/pdf" {
		t.Errorf("attachments = %+v", attachments)
	}
}

func TestFormatID(t *testing.T) {
	for input, want := range map[string]string{
		"fbid:123": "123",
		"id.456":   "456",
		"789":      "789",
	} {
		if got := formatID(input); got != want {
			t.Errorf("formatID(%q) = %q, want %q", input, got, want)
		}
	}
}
