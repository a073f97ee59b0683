// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command messenger logs in to the messaging web client, listens for
// realtime events, and sends messages.
//
//	messenger login --email me@example.com
//	messenger listen > events.jsonl
//	messenger send --thread 1000123 hello there
package main

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/messenger/cmd/messenger/cli"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func root() *cli.Command {
	return &cli.Command{
		Name:    "messenger",
		Summary: "Messaging web client",
		Description: `Messaging web client.

Log in once to save the session cookies (AppState), then listen or send
using the saved session. Configuration is read from the YAML file named
by --config or MESSENGER_CONFIG.`,
		Subcommands: []*cli.Command{
			loginCommand(),
			listenCommand(),
			sendCommand(),
			versionCommand(),
		},
	}
}
