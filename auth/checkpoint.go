// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bureau-foundation/messenger/lib/webpage"
	"github.com/bureau-foundation/messenger/messaging"
)

// maxApprovalFailures is how many rejected approval codes end the
// checkpoint.
const maxApprovalFailures = 2

// Checkpoint is a login held at a login-approval checkpoint.
type Checkpoint struct {
	flow *Flow
	form url.Values

	mu       sync.Mutex
	failures int
	done     bool
}

// checkpoint loads the checkpoint page a login was redirected to and
// either returns it for an approval code, approves it (ForceLogin), or
// reports the account as blocked.
func (f *Flow) checkpoint(ctx context.Context, location string) (*Result, error) {
	f.logger.Info("login stopped at checkpoint")
	response, err := f.client.Fetch(ctx, messaging.Request{
		Method:          http.MethodGet,
		URL:             location,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, err
	}
	page, err := webpage.Parse(response.Body)
	if err != nil {
		return nil, messaging.ParseError("checkpoint", "checkpoint page", response.Body, err)
	}
	form := page.FormInputs()

	if page.Contains("checkpoint/?next") {
		f.setState(StateCheckpointPending)
		f.logger.Info("login approval code required")
		return &Result{Checkpoint: &Checkpoint{flow: f, form: form}}, nil
	}

	if !f.forceLogin {
		f.setState(StateBlocked)
		return nil, messaging.AuthError("checkpoint",
			"account is held at a security checkpoint; log in with a browser or retry with force login", nil)
	}
	if page.Contains("Suspicious Login Attempt") {
		form.Set("submit[This was me]", "This was me")
	} else {
		form.Set("submit[This Is Okay]", "This Is Okay")
	}
	approved, err := f.submitCheckpoint(ctx, form)
	if err != nil {
		return nil, err
	}
	if !approved {
		f.setState(StateBlocked)
		return nil, messaging.AuthError("checkpoint", "forced login was not accepted", nil)
	}
	session, err := f.establish(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{Session: session}, nil
}

// checkpointURL is where checkpoint forms are posted.
func (f *Flow) checkpointURL() string {
	web := f.client.Endpoints().Web
	return web + "/checkpoint/?next=" + url.QueryEscape(web+"/home.php")
}

// submitCheckpoint posts a filled checkpoint form and then asks the
// server to remember this device. It reports false when the server
// sent the login back for review.
func (f *Flow) submitCheckpoint(ctx context.Context, form url.Values) (bool, error) {
	if _, err := f.client.Fetch(ctx, messaging.Request{URL: f.checkpointURL(), Form: form}); err != nil {
		return false, err
	}
	form.Set("name_action_selected", "save_device")
	response, err := f.client.Fetch(ctx, messaging.Request{URL: f.checkpointURL(), Form: form})
	if err != nil {
		return false, err
	}
	if response.Header.Get("Location") == "" && strings.Contains(string(response.Body), "Review Recent Login") {
		return false, nil
	}
	return true, nil
}

// SubmitApprovalCode completes the login with a code from the account's
// approval device or SMS. A rejected code may be retried once; the
// second rejection ends the checkpoint and later calls fail.
func (c *Checkpoint) SubmitApprovalCode(ctx context.Context, code string) (*messaging.Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, messaging.PreconditionError("checkpoint", "approval code is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil, messaging.PreconditionError("checkpoint", "checkpoint already finished")
	}

	form := url.Values{}
	for key, values := range c.form {
		form[key] = append([]string(nil), values...)
	}
	form.Set("approvals_code", code)
	form.Set("submit[Continue]", "Continue")

	approved, err := c.flow.submitCheckpoint(ctx, form)
	if err != nil {
		return nil, err
	}
	if !approved {
		c.failures++
		if c.failures >= maxApprovalFailures {
			c.done = true
			c.flow.setState(StateRejected)
			return nil, messaging.AuthError("checkpoint", "approval code rejected again; checkpoint abandoned", nil)
		}
		c.flow.logger.Warn("approval code rejected", "attempts_left", maxApprovalFailures-c.failures)
		return nil, messaging.AuthError("checkpoint", "approval code rejected", nil)
	}

	c.done = true
	return c.flow.establish(ctx)
}

// Attempts returns how many codes may still be submitted.
func (c *Checkpoint) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return 0
	}
	return maxApprovalFailures - c.failures
}
