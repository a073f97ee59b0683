// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// Kind classifies every error the client returns.
type Kind string

const (
	// KindAuth covers login rejection, blocked accounts, missing user
	// cookies, and failed approval codes.
	KindAuth Kind = "auth"

	// KindTransientServer covers 5xx responses after the retry budget is
	// spent, network failures, and timeouts.
	KindTransientServer Kind = "transient_server"

	// KindProtocolParse covers bodies or frames that do not match the
	// expected shape.
	KindProtocolParse Kind = "protocol_parse"

	// KindNotLoggedIn is the server reporting the session is invalid.
	KindNotLoggedIn Kind = "not_logged_in"

	// KindPrecondition covers operations attempted in the wrong state,
	// such as publishing before the realtime session is active.
	KindPrecondition Kind = "precondition"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its Kind.
var (
	ErrAuth            = errors.New("messaging: authentication failed")
	ErrTransientServer = errors.New("messaging: transient server failure")
	ErrProtocolParse   = errors.New("messaging: unexpected response shape")
	ErrNotLoggedIn     = errors.New("messaging: not logged in")
	ErrPrecondition    = errors.New("messaging: precondition not met")
)

var sentinels = map[Kind]error{
	KindAuth:            ErrAuth,
	KindTransientServer: ErrTransientServer,
	KindProtocolParse:   ErrProtocolParse,
	KindNotLoggedIn:     ErrNotLoggedIn,
	KindPrecondition:    ErrPrecondition,
}

// Error is the structured error returned at every public boundary.
// Callers can use errors.As to reach the details:
//
//	var clientErr *messaging.Error
//	if errors.As(err, &clientErr) && clientErr.Kind == messaging.KindTransientServer {
//	    log.Printf("gave up after status %d", clientErr.StatusCode)
//	}
type Error struct {
	Kind Kind

	// Op names the operation that failed ("login", "call", "publish").
	Op string

	// StatusCode is the HTTP status, when there was one.
	StatusCode int

	// Payload is the offending body or frame, kept for diagnosis.
	Payload []byte

	// Message describes the failure.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	text := fmt.Sprintf("messaging: %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		text += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Message != "" {
		text += ": " + e.Message
	}
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	return text
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's Kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr.Kind
	}
	return ""
}

// AuthError builds a KindAuth error.
func AuthError(op, message string, cause error) *Error {
	return &Error{Kind: KindAuth, Op: op, Message: message, Err: cause}
}

// ParseError builds a KindProtocolParse error carrying payload.
func ParseError(op, message string, payload []byte, cause error) *Error {
	return &Error{Kind: KindProtocolParse, Op: op, Message: message, Payload: payload, Err: cause}
}

// PreconditionError builds a KindPrecondition error.
func PreconditionError(op, message string) *Error {
	return &Error{Kind: KindPrecondition, Op: op, Message: message}
}

// TransientError builds a KindTransientServer error.
func TransientError(op string, statusCode int, payload []byte, cause error) *Error {
	return &Error{Kind: KindTransientServer, Op: op, StatusCode: statusCode, Payload: payload, Err: cause}
}
