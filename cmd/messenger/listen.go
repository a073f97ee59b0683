// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/messenger/cmd/messenger/cli"
	"github.com/bureau-foundation/messenger/realtime"
)

// listenBuffer is the subscription depth; a stalled stdout beyond it
// drops events rather than stalling the connection.
const listenBuffer = 1024

func listenCommand() *cli.Command {
	var options commonOptions
	return &cli.Command{
		Name:    "listen",
		Summary: "Print realtime events as JSON lines",
		Description: `Restore the saved session, connect to the realtime service, and print
every event to stdout as one JSON object per line.

The sync cursor is saved after every frame, so the next run resumes
where this one stopped.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("listen", pflag.ContinueOnError)
			options.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runListen(&options)
		},
	}
}

func runListen(options *commonOptions) error {
	env, err := setup(options)
	if err != nil {
		return err
	}
	defer env.Close()
	ctx, cancel := signalContext()
	defer cancel()

	session, err := env.restore(ctx)
	if err != nil {
		return err
	}
	live, subscription, err := env.connect(ctx, session, listenBuffer)
	if err != nil {
		return err
	}
	defer live.Close()
	env.logger.Info("listening", "user_id", session.UserID())

	go func() {
		<-ctx.Done()
		live.Close()
	}()
	err = printUpdates(os.Stdout, subscription, env.logger.Warn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// printUpdates writes each event as a JSON line until the subscription
// closes, then returns the session's terminal error. Stream errors are
// reported through warn and do not stop the loop.
func printUpdates(w io.Writer, subscription *realtime.Subscription, warn func(string, ...any)) error {
	encoder := json.NewEncoder(w)
	for update := range subscription.Updates() {
		if update.Err != nil {
			warn("stream error", "error", update.Err)
			continue
		}
		if err := encoder.Encode(update.Event); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
	}
	return subscription.Err()
}
