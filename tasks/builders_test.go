// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/messenger/messaging"
)

// payloadOf marshals a task payload the way the dispatcher does and
// decodes it for inspection.
func payloadOf(t *testing.T, task Task) map[string]any {
	t.Helper()
	data, err := json.Marshal(task.Payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", task.Label, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return payload
}

func TestMessageTask(t *testing.T) {
	tests := []struct {
		name    string
		message Message
		want    map[string]any
		absent  []string
	}{
		{
			name:    "text",
			message: Message{ThreadID: "900", Text: "hello"},
			want: map[string]any{
				"thread_id": float64(900), "otid": "7", "send_type": float64(1), "sync_group": float64(1),
				"text": "hello", "initiating_source": float64(1), "text_has_links": float64(0),
			},
			absent: []string{"sticker_id", "attachment_fbids", "reply_metadata", "mention_data", "forwarded_msg_id"},
		},
		{
			name:    "link",
			message: Message{ThreadID: "900", Text: "see https://example.com"},
			want:    map[string]any{"text_has_links": float64(1)},
		},
		{
			name:    "sticker",
			message: Message{ThreadID: "900", StickerID: "369239263222822"},
			want:    map[string]any{"send_type": float64(2), "sticker_id": float64(369239263222822)},
			absent:  []string{"text"},
		},
		{
			name:    "attachments with caption",
			message: Message{ThreadID: "900", Text: "pics", AttachmentIDs: []string{"1", "2"}},
			want:    map[string]any{"send_type": float64(3), "text": "pics"},
		},
		{
			name:    "emoji defaults to medium",
			message: Message{ThreadID: "900", Emoji: "👍"},
			want:    map[string]any{"send_type": float64(1), "text": "👍", "hot_emoji_size": float64(2)},
		},
		{
			name:    "large emoji",
			message: Message{ThreadID: "900", Emoji: "❤", EmojiSize: EmojiLarge},
			want:    map[string]any{"text": "❤", "hot_emoji_size": float64(3)},
		},
		{
			name:    "small emoji",
			message: Message{ThreadID: "900", Emoji: "❤", EmojiSize: EmojiSmall},
			want:    map[string]any{"hot_emoji_size": float64(1)},
		},
		{
			name: "url share",
			message: Message{ThreadID: "900", URL: "https://example.com",
				ShareParams: json.RawMessage(`{"urlInfo":{"canonical":"https://example.com"}}`)},
			want: map[string]any{
				"send_type":      float64(1),
				"text_has_links": float64(1),
				"shareable_attachment": map[string]any{
					"share_type":   float64(100),
					"share_params": map[string]any{"urlInfo": map[string]any{"canonical": "https://example.com"}},
				},
			},
			absent: []string{"text", "hot_emoji_size"},
		},
		{
			name:    "reply",
			message: Message{ThreadID: "900", Text: "agreed", ReplyTo: "mid.$abc"},
			want: map[string]any{"reply_metadata": map[string]any{
				"reply_source_id": "mid.$abc", "reply_source_type": float64(1), "reply_type": float64(0),
			}},
		},
		{
			name: "mentions measured in UTF-16",
			message: Message{ThreadID: "900", Text: "😀 @Alice and @Bob, @Alice", Mentions: []Mention{
				{ID: "11", Tag: "@Alice"},
				{ID: "22", Tag: "@Bob"},
				{ID: "11", Tag: "@Alice", FromIndex: 10},
			}},
			want: map[string]any{"mention_data": map[string]any{
				"mention_ids":     "11,22,11",
				"mention_offsets": "3,14,20",
				"mention_lengths": "6,4,6",
				"mention_types":   "p,p,p",
			}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			task, err := MessageTask(test.message, 7)
			if err != nil {
				t.Fatalf("MessageTask: %v", err)
			}
			if task.Label != LabelSendMessage || task.QueueName != test.message.ThreadID {
				t.Errorf("label %q queue %q", task.Label, task.QueueName)
			}
			payload := payloadOf(t, task)
			for key, want := range test.want {
				if got, _ := json.Marshal(payload[key]); string(got) != mustJSON(t, want) {
					t.Errorf("%s = %s, want %s", key, got, mustJSON(t, want))
				}
			}
			for _, key := range test.absent {
				if _, present := payload[key]; present {
					t.Errorf("%s present: %v", key, payload[key])
				}
			}
		})
	}
}

func mustJSON(t *testing.T, value any) string {
	t.Helper()
	data, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestMessageTaskRejects(t *testing.T) {
	tests := []struct {
		name    string
		message Message
	}{
		{"no thread", Message{Text: "hi"}},
		{"thread not numeric", Message{ThreadID: "t_900", Text: "hi"}},
		{"no content", Message{ThreadID: "900"}},
		{"sticker with text", Message{ThreadID: "900", Text: "hi", StickerID: "1"}},
		{"sticker with emoji", Message{ThreadID: "900", StickerID: "1", Emoji: "👍"}},
		{"emoji with text", Message{ThreadID: "900", Text: "hi", Emoji: "👍"}},
		{"emoji size without emoji", Message{ThreadID: "900", Text: "hi", EmojiSize: EmojiLarge}},
		{"unknown emoji size", Message{ThreadID: "900", Emoji: "👍", EmojiSize: "huge"}},
		{"url without share params", Message{ThreadID: "900", URL: "https://example.com"}},
		{"bad attachment id", Message{ThreadID: "900", AttachmentIDs: []string{"x"}}},
		{"mention missing", Message{ThreadID: "900", Text: "hi", Mentions: []Mention{{ID: "1", Tag: "@Zed"}}}},
		{"mention without id", Message{ThreadID: "900", Text: "hi @Zed", Mentions: []Mention{{Tag: "@Zed"}}}},
		{"mention start outside text", Message{ThreadID: "900", Text: "hi", Mentions: []Mention{{ID: "1", Tag: "hi", FromIndex: 9}}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := MessageTask(test.message, 1); !errors.Is(err, messaging.ErrPrecondition) {
				t.Errorf("error = %v, want precondition error", err)
			}
		})
	}
}

func TestActionTasks(t *testing.T) {
	build := func(task Task, err error) Task {
		if err != nil {
			t.Fatalf("building task: %v", err)
		}
		return task
	}
	tests := []struct {
		name    string
		task    Task
		label   string
		queue   string
		payload string
	}{
		{
			name:    "forward",
			task:    build(ForwardTask("900", "mid.$1", 5)),
			label:   "46",
			queue:   "900",
			payload: `{"forwarded_msg_id":"mid.$1","initiating_source":1,"multitab_env":0,"otid":"5","send_type":5,"skip_url_preview_gen":0,"source":65536,"strip_forwarded_msg_caption":0,"sync_group":1,"text_has_links":0,"thread_id":900}`,
		},
		{
			name:    "reaction",
			task:    build(ReactionTask("900", "mid.$1", "100001", "😍", 1700000000000)),
			label:   "29",
			queue:   `["reaction","mid.$1"]`,
			payload: `{"actor_id":100001,"message_id":"mid.$1","reaction":"😍","reaction_style":null,"send_attribution":65537,"sync_group":1,"thread_key":900,"timestamp_ms":1700000000000}`,
		},
		{
			name:    "mark read",
			task:    build(MarkReadTask("900", 1700000000000)),
			label:   "21",
			queue:   "900",
			payload: `{"last_read_watermark_ts":1700000000000,"sync_group":1,"thread_id":900}`,
		},
		{
			name:    "rename",
			task:    build(RenameThreadTask("900", "Weekend")),
			label:   "32",
			queue:   "900",
			payload: `{"sync_group":1,"thread_key":900,"thread_name":"Weekend"}`,
		},
		{
			name:    "thread image",
			task:    build(ThreadImageTask("900", "77")),
			label:   "37",
			queue:   "thread_image",
			payload: `{"image_id":77,"sync_group":1,"thread_key":900}`,
		},
		{
			name:    "add participants",
			task:    build(AddParticipantsTask("900", "11", "22")),
			label:   "23",
			queue:   "900",
			payload: `{"contact_ids":[11,22],"sync_group":1,"thread_key":900}`,
		},
		{
			name:    "remove participant",
			task:    build(RemoveParticipantTask("900", "11")),
			label:   "140",
			queue:   "remove_participant_v2",
			payload: `{"contact_id":11,"sync_group":1,"thread_id":900}`,
		},
		{
			name:    "promote admin",
			task:    build(AdminTask("900", "11", true)),
			label:   "25",
			queue:   "admin_status",
			payload: `{"contact_id":11,"is_admin":1,"thread_key":900}`,
		},
		{
			name:    "demote admin",
			task:    build(AdminTask("900", "11", false)),
			label:   "25",
			queue:   "admin_status",
			payload: `{"contact_id":11,"is_admin":0,"thread_key":900}`,
		},
		{
			name:    "typing",
			task:    build(TypingTask("900", true, true)),
			label:   "3",
			queue:   "typing",
			payload: `{"attribution":0,"is_group_thread":1,"is_typing":1,"thread_key":900}`,
		},
		{
			name:    "unsend",
			task:    build(UnsendTask("mid.$1")),
			label:   "33",
			queue:   "unsend_message",
			payload: `{"message_id":"mid.$1"}`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.task.Label != test.label || test.task.QueueName != test.queue {
				t.Errorf("label %q queue %q, want %q %q", test.task.Label, test.task.QueueName, test.label, test.queue)
			}
			// Re-encoding through a map sorts keys for comparison.
			if got := mustJSON(t, payloadOf(t, test.task)); got != test.payload {
				t.Errorf("payload = %s\nwant      %s", got, test.payload)
			}
		})
	}
}

func TestActionTasksReject(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"forward without message", second(ForwardTask("900", "", 1))},
		{"reaction bad actor", second(ReactionTask("900", "mid.1", "me", "x", 1))},
		{"rename bad thread", second(RenameThreadTask("", "x"))},
		{"image bad id", second(ThreadImageTask("900", "abc"))},
		{"add nobody", second(AddParticipantsTask("900"))},
		{"add bad id", second(AddParticipantsTask("900", "11", "z"))},
		{"remove bad user", second(RemoveParticipantTask("900", ""))},
		{"admin bad thread", second(AdminTask("x", "11", true))},
		{"typing bad thread", second(TypingTask("", false, true))},
		{"unsend without id", second(UnsendTask(""))},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if !errors.Is(test.err, messaging.ErrPrecondition) {
				t.Errorf("error = %v, want precondition error", test.err)
			}
		})
	}
}

func second(_ Task, err error) error { return err }

func TestOfflineThreadingID(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	seen := make(map[int64]bool)
	for range 64 {
		id := OfflineThreadingID(now)
		if id>>22 != now.UnixMilli() {
			t.Fatalf("id %d does not carry the timestamp", id)
		}
		seen[id] = true
	}
	if len(seen) < 60 {
		t.Errorf("only %d distinct ids in 64 draws", len(seen))
	}
}
