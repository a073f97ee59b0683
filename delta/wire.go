// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/bureau-foundation/messenger/messaging"
)

// number decodes integers the server sends either as JSON numbers or
// as decimal strings. Null and "" decode to zero.
type number int64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		if text == "" {
			*n = 0
			return nil
		}
		value, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return fmt.Errorf("delta: %q is not an integer", text)
		}
		*n = number(value)
		return nil
	}
	var value json.Number
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	parsed, err := value.Int64()
	if err != nil {
		floating, floatErr := value.Float64()
		if floatErr != nil {
			return err
		}
		parsed = int64(floating)
	}
	*n = number(parsed)
	return nil
}

type threadKey struct {
	ThreadFbID    messaging.ID `json:"threadFbId"`
	OtherUserFbID messaging.ID `json:"otherUserFbId"`
}

// id returns the group thread id, falling back to the other user for
// one-to-one threads.
func (k *threadKey) id() string {
	if k == nil {
		return ""
	}
	if k.ThreadFbID != "" {
		return k.ThreadFbID.String()
	}
	return k.OtherUserFbID.String()
}

func (k *threadKey) isGroup() bool { return k != nil && k.ThreadFbID != "" }

type messageMetadata struct {
	ThreadKey *threadKey   `json:"threadKey"`
	MessageID string       `json:"messageId"`
	ActorFbID messaging.ID `json:"actorFbId"`
	Timestamp number       `json:"timestamp"`
	AdminText string       `json:"adminText"`
}

// wireMessage is the shape shared by NewMessage deltas and both halves
// of a reply.
type wireMessage struct {
	MessageMetadata *messageMetadata  `json:"messageMetadata"`
	Body            *string           `json:"body"`
	Attachments     []json.RawMessage `json:"attachments"`
	Data            *struct {
		Prng string `json:"prng"`
	} `json:"data"`
}

var idPrefix = regexp.MustCompile(`(fb)?id[:.]`)

// formatID strips the "fbid:" and "id." prefixes some payloads put on
// thread ids.
func formatID(id string) string {
	location := idPrefix.FindStringIndex(id)
	if location == nil {
		return id
	}
	return id[:location[0]] + id[location[1]:]
}

func parseError(message string, raw []byte, cause error) error {
	return messaging.ParseError("classify", message, raw, cause)
}
