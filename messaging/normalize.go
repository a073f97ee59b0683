// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
)

// notLoggedInCode is the error number the server uses for an invalid
// session.
const notLoggedInCode = "1357001"

// guardPattern is the anti-hijacking prefix prepended to JSON bodies.
var guardPattern = regexp.MustCompile(`for\s*\(\s*;\s*;\s*\)\s*;\s*`)

// Normalize strips the anti-hijacking prefix from body and parses what
// remains. A body holding several JSON values back to back is returned
// as a JSON array of them, in order.
func Normalize(body []byte) (json.RawMessage, error) {
	stripped := body
	if location := guardPattern.FindIndex(body); location != nil {
		stripped = append(append([]byte{}, body[:location[0]]...), body[location[1]:]...)
	}

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	var values []json.RawMessage
	for {
		var value json.RawMessage
		err := decoder.Decode(&value)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ParseError("normalize", "response is not JSON", body, err)
		}
		values = append(values, value)
	}

	switch len(values) {
	case 0:
		return nil, ParseError("normalize", "response body is empty", body, nil)
	case 1:
		return values[0], nil
	default:
		combined, err := json.Marshal(values)
		if err != nil {
			return nil, ParseError("normalize", "combining response objects", body, err)
		}
		return combined, nil
	}
}

// directives are side effects the server requests through the
// jsmods.require list of a response.
type directives struct {
	cookies []scriptCookie
	token   string
}

type scriptCookie struct {
	name  string
	value string
	path  string
}

// envelope holds the fields of a normalized response that the
// substrate itself interprets.
type envelope struct {
	Redirect string          `json:"redirect"`
	Error    json.RawMessage `json:"error"`
	Jsmods   struct {
		Require []json.RawMessage `json:"require"`
	} `json:"jsmods"`
}

// readEnvelopes returns the envelope of value, or of each element when
// value is an array. Non-object elements are skipped.
func readEnvelopes(value json.RawMessage) []envelope {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil
	}
	var elements []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return nil
		}
	} else {
		elements = []json.RawMessage{trimmed}
	}

	var envelopes []envelope
	for _, element := range elements {
		var parsed envelope
		if err := json.Unmarshal(element, &parsed); err == nil {
			envelopes = append(envelopes, parsed)
		}
	}
	return envelopes
}

func (e envelope) notLoggedIn() bool {
	return strings.TrimSpace(string(e.Error)) == notLoggedInCode
}

// directives extracts Cookie and DTSG/setToken entries. Entries are
// arrays of [module, method, refs, args]; anything else is ignored.
func (e envelope) directives() directives {
	var found directives
	for _, raw := range e.Jsmods.Require {
		var entry []json.RawMessage
		if json.Unmarshal(raw, &entry) != nil || len(entry) < 4 {
			continue
		}
		var module, method string
		json.Unmarshal(entry[0], &module)
		json.Unmarshal(entry[1], &method)

		var args []json.RawMessage
		if json.Unmarshal(entry[3], &args) != nil || len(args) == 0 {
			continue
		}

		switch {
		case module == "Cookie":
			cookie, ok := parseScriptCookie(args)
			if ok {
				found.cookies = append(found.cookies, cookie)
			}
		case module == "DTSG" && method == "setToken":
			var token string
			if json.Unmarshal(args[0], &token) == nil && token != "" {
				found.token = token
			}
		}
	}
	return found
}

// parseScriptCookie reads [name, value, maxAge, path]. Names carry a
// "_js_" prefix that the browser strips before storing.
func parseScriptCookie(args []json.RawMessage) (scriptCookie, bool) {
	if len(args) < 2 {
		return scriptCookie{}, false
	}
	var cookie scriptCookie
	if json.Unmarshal(args[0], &cookie.name) != nil || json.Unmarshal(args[1], &cookie.value) != nil {
		return scriptCookie{}, false
	}
	cookie.name = strings.Replace(cookie.name, "_js_", "", 1)
	if len(args) >= 4 {
		json.Unmarshal(args[3], &cookie.path)
	}
	if cookie.path == "" {
		cookie.path = "/"
	}
	return cookie, cookie.name != ""
}

// Jazoest derives the companion of a CSRF token: "2" followed by the
// decimal code of every UTF-16 unit of token.
func Jazoest(token string) string {
	var builder strings.Builder
	builder.WriteByte('2')
	for _, unit := range utf16.Encode([]rune(token)) {
		builder.WriteString(strconv.Itoa(int(unit)))
	}
	return builder.String()
}
