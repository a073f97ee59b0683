// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/bureau-foundation/messenger/cmd/messenger/cli"
	"github.com/bureau-foundation/messenger/lib/version"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print the build version",
		Run: func([]string) error {
			fmt.Println("messenger " + version.Full())
			return nil
		},
	}
}
