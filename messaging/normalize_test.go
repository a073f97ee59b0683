// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeStripsGuard(t *testing.T) {
	body, err := Normalize([]byte(`for (;;);{"payload":{"ok":true}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	var parsed struct {
		Payload struct {
			OK bool `json:"ok"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || !parsed.Payload.OK {
		t.Errorf("Normalize = %s (%v)", body, err)
	}

	spaced, err := Normalize([]byte("for ( ; ; ) ;  {\"a\":1}"))
	if err != nil || string(spaced) != `{"a":1}` {
		t.Errorf("Normalize with spaced guard = %s, %v", spaced, err)
	}
}

func TestNormalizeMultipleObjects(t *testing.T) {
	body, err := Normalize([]byte("{\"a\":1}\r\n{\"b\":2}"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	var parts []map[string]int
	if err := json.Unmarshal(body, &parts); err != nil {
		t.Fatalf("result is not an array: %s", body)
	}
	if len(parts) != 2 || parts[0]["a"] != 1 || parts[1]["b"] != 2 {
		t.Errorf("Normalize = %s, want [{a:1},{b:2}]", body)
	}
}

func TestNormalizeErrors(t *testing.T) {
	for _, input := range []string{"", "for (;;);", "<html>login</html>", `{"a":`} {
		_, err := Normalize([]byte(input))
		if !errors.Is(err, ErrProtocolParse) {
			t.Errorf("Normalize(%q) error = %v, want protocol_parse", input, err)
			continue
		}
		var clientErr *Error
		errors.As(err, &clientErr)
		if string(clientErr.Payload) != input {
			t.Errorf("Normalize(%q) payload = %q, want raw body", input, clientErr.Payload)
		}
	}
}

func TestDirectives(t *testing.T) {
	raw := json.RawMessage(`{"jsmods":{"require":[
		["Cookie","set",[],["_js_c_user","100001",31536000,"/"]],
		["DTSG","setToken",[],["NEWTOKEN"]],
		["ServerJS","handle",[],[{}]],
		"garbage"
	]}}`)
	envelopes := readEnvelopes(raw)
	if len(envelopes) != 1 {
		t.Fatalf("readEnvelopes returned %d envelopes", len(envelopes))
	}
	found := envelopes[0].directives()
	if found.token != "NEWTOKEN" {
		t.Errorf("token = %q", found.token)
	}
	if len(found.cookies) != 1 || found.cookies[0].name != "c_user" || found.cookies[0].value != "100001" || found.cookies[0].path != "/" {
		t.Errorf("cookies = %+v", found.cookies)
	}
}

func TestJazoest(t *testing.T) {
	if got := Jazoest("AB"); got != "26566" {
		t.Errorf("Jazoest(AB) = %q, want 26566", got)
	}
	if got := Jazoest(""); got != "2" {
		t.Errorf("Jazoest(\"\") = %q, want 2", got)
	}
}
