// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
	}{
		{KindAuth, ErrAuth},
		{KindTransientServer, ErrTransientServer},
		{KindProtocolParse, ErrProtocolParse},
		{KindNotLoggedIn, ErrNotLoggedIn},
		{KindPrecondition, ErrPrecondition},
	}
	for _, test := range tests {
		err := fmt.Errorf("wrapped: %w", &Error{Kind: test.kind, Op: "call"})
		if !errors.Is(err, test.sentinel) {
			t.Errorf("%s error does not match its sentinel", test.kind)
		}
		if !IsKind(err, test.kind) {
			t.Errorf("IsKind(%s) = false", test.kind)
		}
		if KindOf(err) != test.kind {
			t.Errorf("KindOf = %q, want %q", KindOf(err), test.kind)
		}
		for _, other := range tests {
			if other.kind != test.kind && errors.Is(err, other.sentinel) {
				t.Errorf("%s error matches %s sentinel", test.kind, other.kind)
			}
		}
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	err := TransientError("fetch", 503, []byte("busy"), context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause is not reachable through errors.Is")
	}
	var clientErr *Error
	if !errors.As(err, &clientErr) || clientErr.StatusCode != 503 || string(clientErr.Payload) != "busy" {
		t.Errorf("errors.As = %+v", clientErr)
	}
	message := err.Error()
	for _, want := range []string{"fetch", "transient_server", "503"} {
		if !strings.Contains(message, want) {
			t.Errorf("Error() = %q, missing %q", message, want)
		}
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf on a plain error should be empty")
	}
}
