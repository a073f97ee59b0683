// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommands(t *testing.T) {
	command := root()
	var names []string
	for _, sub := range command.Subcommands {
		names = append(names, sub.Name)
	}
	if got := strings.Join(names, " "); got != "login listen send version" {
		t.Errorf("subcommands = %q", got)
	}
}

func TestRequiredFlags(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"login"}, "--email is required"},
		{[]string{"login", "--email", "me@example.com", "extra"}, `unexpected argument "extra"`},
		{[]string{"send", "hello"}, "--thread is required"},
		{[]string{"listen", "now"}, `unexpected argument "now"`},
		{[]string{"send", "--thred", "1"}, "did you mean --thread"},
	}
	for _, test := range tests {
		t.Run(strings.Join(test.args, " "), func(t *testing.T) {
			command := root()
			command.Output = &bytes.Buffer{}
			err := command.Execute(test.args)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %v, want %q", err, test.want)
			}
		})
	}
}
