// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/messenger/lib/cookies"
	"github.com/bureau-foundation/messenger/lib/pwenc"
	"github.com/bureau-foundation/messenger/lib/secret"
	"github.com/bureau-foundation/messenger/lib/webpage"
	"github.com/bureau-foundation/messenger/messaging"
)

// State is the position of a Flow.
type State int

const (
	StateInit State = iota
	StatePageLoaded
	StateCredentialsSubmitted
	StateAuthenticated
	StateCheckpointPending
	StateBlocked
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePageLoaded:
		return "page_loaded"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateAuthenticated:
		return "authenticated"
	case StateCheckpointPending:
		return "checkpoint_pending"
	case StateBlocked:
		return "blocked"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// loginCallsiteID is part of the privacy mutation token on the login
// URL.
const loginCallsiteID = 381229079575946

// EncryptFunc produces the encpass form value for a password.
type EncryptFunc func(key pwenc.PublicKey, timestamp int64, password []byte) (string, error)

// Config configures a Flow.
type Config struct {
	// Client carries every request and owns the cookie store the
	// session is built on. Required.
	Client *messaging.Client

	// ForceLogin approves "was this you?" checkpoints instead of
	// reporting the account as blocked.
	ForceLogin bool

	// Encrypt defaults to pwenc.Encrypt.
	Encrypt EncryptFunc

	// RetryDelay is passed to the session. See
	// messaging.SessionConfig.
	RetryDelay func() time.Duration

	// Logger defaults to the client's logger.
	Logger *slog.Logger
}

// Result is the outcome of a credential login that did not fail.
// Exactly one field is set.
type Result struct {
	Session    *messaging.Session
	Checkpoint *Checkpoint
}

// Credentials identify the account to log in as: an email and password,
// or a previously exported AppState. Exactly one form must be set.
type Credentials struct {
	Email    string
	Password *secret.Buffer
	AppState cookies.AppState
}

// Flow runs one login. It is safe for concurrent use, but each Flow
// performs at most one Login or Restore.
type Flow struct {
	client     *messaging.Client
	forceLogin bool
	encrypt    EncryptFunc
	retryDelay func() time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	state State
}

// NewFlow validates config and returns a Flow in StateInit.
func NewFlow(config Config) (*Flow, error) {
	if config.Client == nil {
		return nil, messaging.PreconditionError("login", "client is required")
	}
	encrypt := config.Encrypt
	if encrypt == nil {
		encrypt = pwenc.Encrypt
	}
	logger := config.Logger
	if logger == nil {
		logger = config.Client.Logger()
	}
	return &Flow{
		client:     config.Client,
		forceLogin: config.ForceLogin,
		encrypt:    encrypt,
		retryDelay: config.RetryDelay,
		logger:     logger.With("component", "auth"),
	}, nil
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(state State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

// begin claims the flow for its single run.
func (f *Flow) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateInit {
		return messaging.PreconditionError(op, "login flow is "+f.state.String())
	}
	f.state = StatePageLoaded
	return nil
}

// Authenticate runs Login or Restore depending on which form of
// credentials is set.
func (f *Flow) Authenticate(ctx context.Context, credentials Credentials) (*Result, error) {
	hasPassword := credentials.Email != "" || credentials.Password != nil
	hasState := len(credentials.AppState) > 0
	switch {
	case hasPassword && hasState:
		return nil, messaging.AuthError("authenticate", "both password and appstate given", nil)
	case hasState:
		session, err := f.Restore(ctx, credentials.AppState)
		if err != nil {
			return nil, err
		}
		return &Result{Session: session}, nil
	case credentials.Email != "" && credentials.Password != nil:
		return f.Login(ctx, credentials.Email, credentials.Password.Bytes())
	case hasPassword:
		return nil, messaging.AuthError("authenticate", "email and password are both required", nil)
	default:
		return nil, messaging.AuthError("authenticate", "no credentials given", nil)
	}
}

// Login authenticates with credentials. A rejected password and a
// blocked account are auth errors. When the account requires a login
// approval code the Result carries a Checkpoint instead of a Session.
func (f *Flow) Login(ctx context.Context, email string, password []byte) (*Result, error) {
	if err := f.begin("login"); err != nil {
		return nil, err
	}
	endpoints := f.client.Endpoints()

	landing, err := f.client.Fetch(ctx, messaging.Request{
		Method:          http.MethodGet,
		URL:             endpoints.Mobile + "/",
		FollowRedirects: true,
	})
	if err != nil {
		return nil, err
	}
	page, err := webpage.Parse(landing.Body)
	if err != nil {
		return nil, messaging.ParseError("login", "login page", landing.Body, err)
	}
	jazoest, _ := page.InputValue("jazoest")
	lsd, _ := page.InputValue("lsd")
	if jazoest == "" || lsd == "" {
		return nil, messaging.ParseError("login", "login form fields missing", landing.Body, nil)
	}
	key, err := page.PublicKey()
	if err != nil {
		return nil, messaging.ParseError("login", "password key missing", landing.Body, err)
	}
	for _, cookie := range page.ScriptCookies() {
		err := f.client.Cookies().Set(cookies.Cookie{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: f.client.CookieDomain(),
			Path:   cookie.Path,
		})
		if err != nil {
			f.logger.Warn("skipping script cookie", "name", cookie.Name, "error", err)
		}
	}

	timestamp := f.client.Clock().Now().Unix()
	encpass, err := f.encrypt(key, timestamp, password)
	if err != nil {
		return nil, messaging.ParseError("login", "encrypting password", nil, err)
	}
	form := url.Values{
		"jazoest":      {jazoest},
		"lsd":          {lsd},
		"email":        {email},
		"login_source": {"comet_headerless_login"},
		"next":         {""},
		"encpass":      {encpass},
	}
	token := base64.StdEncoding.EncodeToString(fmt.Appendf(nil,
		`{"type":0,"creation_time":%d,"callsite_id":%d}`, timestamp, loginCallsiteID))

	f.setState(StateCredentialsSubmitted)
	f.logger.Info("submitting credentials")
	submitted, err := f.client.Fetch(ctx, messaging.Request{
		URL:  endpoints.Web + "/login/?privacy_mutation_token=" + url.QueryEscape(token),
		Form: form,
	})
	if err != nil {
		return nil, err
	}
	if !strings.Contains(string(submitted.Body), "window.location.replace") {
		f.setState(StateRejected)
		return nil, messaging.AuthError("login", "wrong username or password", nil)
	}
	if submittedPage, err := webpage.Parse(submitted.Body); err == nil {
		if target, ok := submittedPage.LocationReplace(); ok {
			f.logger.Debug("login redirected", "target", target)
		}
	}

	if location := submitted.Location(); strings.Contains(location, endpoints.Web+"/checkpoint/") {
		return f.checkpoint(ctx, location)
	}

	session, err := f.establish(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Session: session}, nil
}

// Restore authenticates from an exported cookie set.
func (f *Flow) Restore(ctx context.Context, state cookies.AppState) (*messaging.Session, error) {
	if err := f.begin("restore"); err != nil {
		return nil, err
	}
	if err := f.client.Cookies().Restore(state); err != nil {
		f.setState(StateRejected)
		return nil, messaging.AuthError("restore", "loading appstate", err)
	}
	return f.establish(ctx)
}

// establish loads the landing page with the cookies now in the store
// and builds the session from it.
func (f *Flow) establish(ctx context.Context) (*messaging.Session, error) {
	landing, err := f.client.Fetch(ctx, messaging.Request{
		Method:          http.MethodGet,
		URL:             f.client.Endpoints().Web + "/",
		FollowRedirects: true,
	})
	if err != nil {
		return nil, err
	}
	page, err := webpage.Parse(landing.Body)
	if err != nil {
		return nil, messaging.ParseError("login", "landing page", landing.Body, err)
	}
	// Some networks redirect with a refresh tag instead of a 3xx.
	if target, ok := page.MetaRefresh(); ok {
		f.logger.Debug("following refresh redirect", "target", target)
		landing, err = f.client.Fetch(ctx, messaging.Request{
			Method:          http.MethodGet,
			URL:             target,
			FollowRedirects: true,
		})
		if err != nil {
			return nil, err
		}
		if page, err = webpage.Parse(landing.Body); err != nil {
			return nil, messaging.ParseError("login", "landing page", landing.Body, err)
		}
	}

	userID, ok := f.client.UserID()
	if !ok {
		f.setState(StateRejected)
		return nil, messaging.AuthError("login",
			"no c_user cookie after login; the account may be blocked or the session expired", nil)
	}
	token, ok := page.Token()
	if !ok {
		f.setState(StateRejected)
		return nil, messaging.AuthError("login", "landing page carries no csrf token", nil)
	}
	session, err := f.client.NewSession(messaging.SessionConfig{
		UserID:     userID,
		Token:      token,
		Revision:   page.Revision(),
		RetryDelay: f.retryDelay,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Reconnect(ctx); err != nil {
		return nil, err
	}
	f.setState(StateAuthenticated)
	f.logger.Info("logged in", "user_id", userID)
	return session, nil
}
