// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an account, thread, or message identifier. The server encodes
// the same identifier as a JSON number in some payloads and a string in
// others; ID accepts both and always marshals as a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*id = ID(text)
		return nil
	default:
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("messaging: id %s is neither string nor number", data)
		}
		*id = ID(number.String())
		return nil
	}
}

func (id ID) String() string { return string(id) }
