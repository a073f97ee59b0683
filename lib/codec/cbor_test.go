// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

type cursorState struct {
	UserID    string `cbor:"user_id"`
	LastSeqID int64  `cbor:"last_seq_id"`
	SyncToken string `cbor:"sync_token,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	state := cursorState{UserID: "100001", LastSeqID: 42, SyncToken: "tok"}
	first, err := Marshal(state)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(state)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("encoding not deterministic: %x != %x", first, second)
	}
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.cbor")
	want := cursorState{UserID: "100001", LastSeqID: 1337, SyncToken: "abc"}

	if err := WriteFile(path, want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	var got cursorState
	if err := ReadFile(path, &got); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != want {
		t.Errorf("ReadFile = %+v, want %+v", got, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the state file", len(entries))
	}
}

func TestReadFileMissing(t *testing.T) {
	var state cursorState
	err := ReadFile(filepath.Join(t.TempDir(), "absent.cbor"), &state)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("ReadFile error = %v, want fs.ErrNotExist", err)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"user_id": "7", "last_seq_id": 9, "future": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var state cursorState
	if err := Unmarshal(data, &state); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if state.UserID != "7" || state.LastSeqID != 9 {
		t.Errorf("Unmarshal = %+v", state)
	}
}
