// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cookies

import (
	"errors"
	"testing"
	"time"
)

func TestExportRestoreRoundtrip(t *testing.T) {
	original := NewStore(fixedNow)
	original.Set(Cookie{Name: "c_user", Value: "100001", Domain: "facebook.com"})
	original.Set(Cookie{Name: "xs", Value: "33%3Aabc", Domain: "facebook.com", Secure: true, Expires: now.Add(24 * time.Hour)})
	original.Set(Cookie{Name: "c_user", Value: "100001", Domain: "messenger.com"})

	data, err := original.Export().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	state, err := ParseAppState(data)
	if err != nil {
		t.Fatalf("ParseAppState: %v", err)
	}

	restored := NewStore(fixedNow)
	if err := restored.Restore(state); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	want := original.All()
	got := restored.All()
	if len(got) != len(want) {
		t.Fatalf("restored %d cookies, want %d", len(got), len(want))
	}
	for index := range want {
		if got[index].Name != want[index].Name || got[index].Value != want[index].Value ||
			got[index].Domain != want[index].Domain || !got[index].Expires.Equal(want[index].Expires) ||
			got[index].Secure != want[index].Secure {
			t.Errorf("cookie %d = %+v, want %+v", index, got[index], want[index])
		}
	}
	if user, _ := restored.Get("www.facebook.com", "c_user"); user.Value != "100001" {
		t.Errorf("restored c_user = %q", user.Value)
	}
}

func TestParseAppStateLenient(t *testing.T) {
	data := []byte(`[
		// captured from a browser
		{"name": "c_user", "value": "42", "domain": ".facebook.com", "path": "/", "expires": "Infinity"},
		{"key": "xs", "value": "v", "domain": "facebook.com", "path": "/",},
	]`)
	state, err := ParseAppState(data)
	if err != nil {
		t.Fatalf("ParseAppState: %v", err)
	}
	if len(state) != 2 || state[0].Key != "c_user" || state[1].Key != "xs" {
		t.Fatalf("state = %+v", state)
	}

	store := NewStore(fixedNow)
	if err := store.Restore(state); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	cookie, ok := store.Get("facebook.com", "c_user")
	if !ok || !cookie.Expires.IsZero() {
		t.Errorf("Infinity expiry should restore as a session cookie: %+v", cookie)
	}
}

func TestParseAppStateErrors(t *testing.T) {
	if _, err := ParseAppState([]byte(`[]`)); !errors.Is(err, ErrEmptyAppState) {
		t.Errorf("empty appstate error = %v", err)
	}
	if _, err := ParseAppState([]byte(`[{"value":"x","domain":"facebook.com"}]`)); err == nil {
		t.Error("record without key should be rejected")
	}
	if _, err := ParseAppState([]byte(`{"not":"a list"}`)); err == nil {
		t.Error("non-array appstate should be rejected")
	}
	if err := NewStore(nil).Restore(nil); !errors.Is(err, ErrEmptyAppState) {
		t.Errorf("Restore(nil) error = %v", err)
	}
}
