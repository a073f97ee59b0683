// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pwenc encrypts login passwords in the browser envelope format
// accepted by the login endpoint:
//
//	#PWD_BROWSER:5:<unix seconds>:<base64 payload>
//
// The payload seals a fresh AES-256 key to the server's X25519 public
// key (a NaCl sealed box) and encrypts the password under that key with
// AES-GCM, a zero nonce, and the timestamp as additional data. The key
// is used exactly once, which is what makes the zero nonce safe.
package pwenc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/crypto/nacl/box"
)

const (
	// Version is the envelope version emitted by Encrypt.
	Version = 5

	formatVersion = 1
	keySize       = 32
	tagSize       = 16
	sealedKeySize = keySize + box.AnonymousOverhead
)

// PublicKey is the server's password encryption key as published on the
// login page.
type PublicKey struct {
	// Hex is the 32-byte X25519 key in lowercase hex.
	Hex string
	// ID identifies the key to the server. It must fit in one byte.
	ID int
}

// Encrypt returns the encpass form value for password at timestamp.
func Encrypt(key PublicKey, timestamp int64, password []byte) (string, error) {
	payload, err := seal(rand.Reader, key, []byte(strconv.FormatInt(timestamp, 10)), password)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("#PWD_BROWSER:%d:%d:%s", Version, timestamp, base64.StdEncoding.EncodeToString(payload)), nil
}

// seal builds the binary payload:
//
//	version(1) keyID(1) sealedLen(2, little endian) sealedKey tag(16) ciphertext
func seal(random io.Reader, key PublicKey, additionalData, password []byte) ([]byte, error) {
	if len(key.Hex) != 2*keySize {
		return nil, fmt.Errorf("pwenc: public key must be %d hex characters, got %d", 2*keySize, len(key.Hex))
	}
	decoded, err := hex.DecodeString(key.Hex)
	if err != nil {
		return nil, fmt.Errorf("pwenc: public key: %w", err)
	}
	if key.ID < 0 || key.ID > 255 {
		return nil, fmt.Errorf("pwenc: key id %d out of range", key.ID)
	}
	var recipient [keySize]byte
	copy(recipient[:], decoded)

	symmetric := make([]byte, keySize)
	if _, err := io.ReadFull(random, symmetric); err != nil {
		return nil, fmt.Errorf("pwenc: generating key: %w", err)
	}
	defer clear(symmetric)

	block, err := aes.NewCipher(symmetric)
	if err != nil {
		return nil, fmt.Errorf("pwenc: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("pwenc: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	sealedText := gcm.Seal(nil, nonce, password, additionalData)
	ciphertext, tag := sealedText[:len(sealedText)-tagSize], sealedText[len(sealedText)-tagSize:]

	sealedKey, err := box.SealAnonymous(nil, symmetric, &recipient, random)
	if err != nil {
		return nil, fmt.Errorf("pwenc: sealing key: %w", err)
	}
	if len(sealedKey) != sealedKeySize {
		return nil, fmt.Errorf("pwenc: sealed key is %d bytes, want %d", len(sealedKey), sealedKeySize)
	}

	payload := make([]byte, 0, 4+sealedKeySize+tagSize+len(ciphertext))
	payload = append(payload, formatVersion, byte(key.ID), byte(len(sealedKey)), byte(len(sealedKey)>>8))
	payload = append(payload, sealedKey...)
	payload = append(payload, tag...)
	payload = append(payload, ciphertext...)
	return payload, nil
}
