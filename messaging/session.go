// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	// maxRetries is how many times a 5xx response is retried before
	// the call fails.
	maxRetries = 5

	// maxRetryDelay is the exclusive upper bound of the random delay
	// before each retry.
	maxRetryDelay = 5000 * time.Millisecond

	// maxRedirectDepth bounds {"redirect": url} chains on GET.
	maxRedirectDepth = 5
)

// DefaultRetryDelay draws a uniform delay in [0, 5000) milliseconds.
func DefaultRetryDelay() time.Duration {
	return time.Duration(rand.IntN(int(maxRetryDelay/time.Millisecond))) * time.Millisecond
}

// NewClientID returns a random 31-bit integer in hex, the format the
// web client uses to identify a browser tab.
func NewClientID() string {
	return strconv.FormatUint(uint64(rand.Uint32()&0x7fffffff), 16)
}

// SessionConfig describes a freshly authenticated session.
type SessionConfig struct {
	// UserID is the numeric account id. Required.
	UserID string

	// Token is the CSRF token (fb_dtsg) scraped from the landing page.
	// Required.
	Token string

	// Revision is the client build revision sent as __rev.
	Revision string

	// ClientID defaults to NewClientID().
	ClientID string

	// RetryDelay picks the wait before each 5xx retry. Defaults to
	// DefaultRetryDelay. Tests substitute a deterministic function.
	RetryDelay func() time.Duration
}

// Session is the authenticated context of one login: identity, the
// CSRF token pair, per-request counters, and the realtime sync cursor.
// All methods are safe for concurrent use.
type Session struct {
	client     *Client
	logger     *slog.Logger
	userID     string
	clientID   string
	revision   string
	retryDelay func() time.Duration

	mu             sync.Mutex
	token          string
	jazoest        string
	loggedIn       bool
	requestCounter uint64
	taskCounter    int64
	requestID      int64
	lastSeqID      int64
	syncToken      string
}

// NewSession binds an authenticated identity to client.
func (c *Client) NewSession(config SessionConfig) (*Session, error) {
	if config.UserID == "" {
		return nil, AuthError("session", "user id is required", nil)
	}
	if config.Token == "" {
		return nil, AuthError("session", "csrf token is required", nil)
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = NewClientID()
	}
	retryDelay := config.RetryDelay
	if retryDelay == nil {
		retryDelay = DefaultRetryDelay
	}
	return &Session{
		client:     c,
		logger:     c.logger.With("user_id", config.UserID),
		userID:     config.UserID,
		clientID:   clientID,
		revision:   config.Revision,
		retryDelay: retryDelay,
		token:      config.Token,
		jazoest:    Jazoest(config.Token),
		loggedIn:   true,
	}, nil
}

// Client returns the client the session sends through.
func (s *Session) Client() *Client { return s.client }

// UserID returns the logged-in account id.
func (s *Session) UserID() string { return s.userID }

// ClientID returns the random per-session client id.
func (s *Session) ClientID() string { return s.clientID }

// Revision returns the client build revision sent as __rev.
func (s *Session) Revision() string { return s.revision }

// Logger returns the session logger, tagged with the account id.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Token returns the current CSRF token and its jazoest companion. The
// pair is always read together.
func (s *Session) Token() (token, jazoest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.jazoest
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.jazoest = Jazoest(token)
}

// LoggedIn reports false once the server has declared the session
// invalid.
func (s *Session) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// NextTaskIDs reserves one request id and count task ids for an
// outgoing task envelope. Ids are strictly increasing across all
// callers.
func (s *Session) NextTaskIDs(count int) (requestID int64, taskIDs []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID++
	taskIDs = make([]int64, count)
	for index := range taskIDs {
		s.taskCounter++
		taskIDs[index] = s.taskCounter
	}
	return s.requestID, taskIDs
}

// Cursor returns the realtime sync position.
func (s *Session) Cursor() (lastSeqID int64, syncToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeqID, s.syncToken
}

// AdvanceSequence moves the sequence id forward. Smaller values are
// ignored so the cursor never moves backwards. Returns the value in
// effect afterwards.
func (s *Session) AdvanceSequence(seqID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seqID > s.lastSeqID {
		s.lastSeqID = seqID
	}
	return s.lastSeqID
}

// SetSyncToken records the queue token issued by the server together
// with the first sequence id it covers.
func (s *Session) SetSyncToken(token string, firstSeqID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncToken = token
	if firstSeqID > s.lastSeqID {
		s.lastSeqID = firstSeqID
	}
}

// RestoreCursor seeds the cursor from persisted state.
func (s *Session) RestoreCursor(lastSeqID int64, syncToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lastSeqID > s.lastSeqID {
		s.lastSeqID = lastSeqID
	}
	s.syncToken = syncToken
}

// defaults returns the parameters every authenticated request carries.
// Each call consumes one request counter value.
func (s *Session) defaults() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter := s.requestCounter
	s.requestCounter++
	return url.Values{
		"__user":  {s.userID},
		"__req":   {strconv.FormatUint(counter, 36)},
		"__rev":   {s.revision},
		"__a":     {"1"},
		"fb_dtsg": {s.token},
		"jazoest": {s.jazoest},
	}
}

// mergeDefaults overlays the default parameters on form. A caller
// value survives only where the default is empty.
func (s *Session) mergeDefaults(form url.Values) url.Values {
	merged := s.defaults()
	for key, values := range form {
		if merged.Get(key) == "" {
			merged[key] = values
		}
	}
	return merged
}

// Call sends an authenticated request and returns the normalized JSON
// body.
//
// 5xx responses are retried up to five times after a random delay of
// under five seconds. Token and cookie updates carried in the body are
// applied before it is returned, and a {"redirect": url} body on a GET
// is followed.
func (s *Session) Call(ctx context.Context, request Request) (json.RawMessage, error) {
	return s.call(ctx, request, 0)
}

func (s *Session) call(ctx context.Context, request Request, depth int) (json.RawMessage, error) {
	callerForm := request.Form
	var response *Response
	for attempt := 0; ; attempt++ {
		request.Form = s.mergeDefaults(callerForm)
		var err error
		response, err = s.client.Fetch(ctx, request)
		if err != nil {
			s.client.metrics.request("transient")
			return nil, err
		}
		if response.StatusCode < 500 || response.StatusCode > 599 {
			break
		}
		if attempt == maxRetries {
			s.client.metrics.request("transient")
			return nil, TransientError("call", response.StatusCode, response.Body,
				fmt.Errorf("%s still failing after %d retries", request.URL, maxRetries))
		}

		delay := s.retryDelay()
		s.client.metrics.retry()
		s.logger.Warn("server error, retrying",
			"url", request.URL,
			"status", response.StatusCode,
			"attempt", attempt+1,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			return nil, TransientError("call", response.StatusCode, response.Body, ctx.Err())
		case <-s.client.clock.After(delay):
		}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		s.client.metrics.request("parse")
		return nil, &Error{
			Kind:       KindProtocolParse,
			Op:         "call",
			StatusCode: response.StatusCode,
			Payload:    response.Body,
			Message:    fmt.Sprintf("unexpected status from %s", request.URL),
		}
	}

	body, err := Normalize(response.Body)
	if err != nil {
		s.client.metrics.request("parse")
		return nil, err
	}

	notLoggedIn := false
	redirect := ""
	for _, parsed := range readEnvelopes(body) {
		s.apply(parsed.directives())
		if parsed.notLoggedIn() {
			notLoggedIn = true
		}
		if parsed.Redirect != "" && redirect == "" {
			redirect = parsed.Redirect
		}
	}

	if redirect != "" && request.method() == http.MethodGet {
		if depth >= maxRedirectDepth {
			s.client.metrics.request("parse")
			return nil, ParseError("call", fmt.Sprintf("redirect chain from %s exceeds %d", request.URL, maxRedirectDepth), body, nil)
		}
		return s.call(ctx, Request{Method: http.MethodGet, URL: resolveReference(request.URL, redirect), Header: request.Header}, depth+1)
	}

	if notLoggedIn {
		s.mu.Lock()
		s.loggedIn = false
		s.mu.Unlock()
		s.client.metrics.request("not_logged_in")
		return nil, &Error{Kind: KindNotLoggedIn, Op: "call", StatusCode: response.StatusCode, Payload: body}
	}

	s.client.metrics.request("ok")
	return body, nil
}

func (s *Session) apply(found directives) {
	for _, cookie := range found.cookies {
		if err := s.client.SetSiteCookie(cookie.name, cookie.value, cookie.path); err != nil {
			s.logger.Warn("applying script cookie", "name", cookie.name, "error", err)
		}
	}
	if found.token != "" {
		current, _ := s.Token()
		if current != found.token {
			s.setToken(found.token)
			s.client.metrics.refreshed()
			s.logger.Debug("csrf token rotated")
		}
	}
}

// resolveReference resolves a possibly relative reference against base.
func resolveReference(base, reference string) string {
	parsedBase, err := url.Parse(base)
	if err != nil {
		return reference
	}
	resolved, err := parsedBase.Parse(reference)
	if err != nil {
		return reference
	}
	return resolved.String()
}
