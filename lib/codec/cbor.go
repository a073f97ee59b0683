// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration for the client's on-disk
// state, such as the realtime sync cursor kept between runs.
//
// Wire traffic with the server is JSON; only local state is CBOR. The
// encoder uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// state always produces the same bytes.
package codec

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// WriteFile encodes v and replaces path atomically. The file is
// created with mode 0600 since state files carry account identifiers.
func WriteFile(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: encoding %s: %w", path, err)
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("codec: creating temporary file: %w", err)
	}
	defer os.Remove(temporary.Name())

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("codec: writing %s: %w", path, err)
	}
	if err := temporary.Chmod(0o600); err != nil {
		temporary.Close()
		return fmt.Errorf("codec: chmod %s: %w", path, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("codec: closing %s: %w", path, err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("codec: replacing %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes path into v. A missing file is reported with an
// error that satisfies errors.Is(err, fs.ErrNotExist).
func ReadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: decoding %s: %w", path, err)
	}
	return nil
}
