// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/messenger/auth"
	"github.com/bureau-foundation/messenger/cmd/messenger/cli"
	"github.com/bureau-foundation/messenger/lib/secret"
	"github.com/bureau-foundation/messenger/messaging"
)

type loginOptions struct {
	commonOptions
	email      string
	sealTo     []string
	forceLogin bool
}

func loginCommand() *cli.Command {
	var options loginOptions
	return &cli.Command{
		Name:    "login",
		Summary: "Log in with credentials and save the session",
		Description: `Log in with an email and password and save the session cookies
(AppState) for later commands.

The password, and a login approval code if the account asks for one,
are read from the terminal without echo. With --seal-to (or recipients
in the configuration) the AppState is sealed to those age recipients
and later commands need --identity to open it.`,
		Examples: []cli.Example{
			{Description: "Log in and save a plain AppState", Command: "messenger login --email me@example.com"},
			{Description: "Seal the saved session to an age key", Command: "messenger login --email me@example.com --seal-to age1..."},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("login", pflag.ContinueOnError)
			options.commonOptions.bind(flagSet)
			flagSet.StringVar(&options.email, "email", "", "account email or phone number (required)")
			flagSet.StringSliceVar(&options.sealTo, "seal-to", nil, "age recipient to seal the AppState to (repeatable)")
			flagSet.BoolVar(&options.forceLogin, "force-login", false, `approve "was this you?" checkpoints`)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if options.email == "" {
				return errors.New("--email is required")
			}
			return runLogin(&options)
		},
	}
}

func runLogin(options *loginOptions) error {
	env, err := setup(&options.commonOptions)
	if err != nil {
		return err
	}
	defer env.Close()
	ctx, cancel := signalContext()
	defer cancel()

	recipients := options.sealTo
	if len(recipients) == 0 {
		recipients = env.config.Recipients
	}

	password, err := secret.Prompt(os.Stdin, os.Stderr, "Password: ")
	if err != nil {
		return err
	}
	defer password.Close()

	flow, err := auth.NewFlow(auth.Config{
		Client:     env.client,
		ForceLogin: options.forceLogin || env.config.Client.ForceLogin,
		Logger:     env.logger,
	})
	if err != nil {
		return err
	}
	result, err := flow.Authenticate(ctx, auth.Credentials{Email: options.email, Password: password})
	if err != nil {
		return err
	}
	session := result.Session
	if result.Checkpoint != nil {
		if session, err = approve(ctx, result.Checkpoint, os.Stdin, os.Stderr); err != nil {
			return err
		}
	}

	if err := writeAppState(env.config.Paths.AppState, env.client.Cookies().Export(), recipients); err != nil {
		return err
	}
	env.logger.Info("session saved",
		"user_id", session.UserID(),
		"appstate", env.config.Paths.AppState,
		"sealed", len(recipients) > 0,
	)
	return nil
}

// approve prompts for approval codes until the checkpoint accepts one
// or runs out of attempts.
func approve(ctx context.Context, checkpoint *auth.Checkpoint, in *os.File, out io.Writer) (*messaging.Session, error) {
	fmt.Fprintln(out, "Login approval required. Enter the code from your approval device or SMS.")
	for {
		code, err := secret.Prompt(in, out, "Approval code: ")
		if err != nil {
			return nil, err
		}
		session, err := checkpoint.SubmitApprovalCode(ctx, code.String())
		code.Close()
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, messaging.ErrAuth) || checkpoint.Attempts() == 0 {
			return nil, err
		}
		fmt.Fprintf(out, "Code rejected; %d attempt(s) left.\n", checkpoint.Attempts())
	}
}
