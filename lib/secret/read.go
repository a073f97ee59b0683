// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompt writes prompt to out and reads one line from in. When in is a
// terminal the line is read without echo.
func Prompt(in *os.File, out io.Writer, prompt string) (*Buffer, error) {
	fmt.Fprint(out, prompt)

	var line []byte
	if term.IsTerminal(int(in.Fd())) {
		var err error
		line, err = term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return nil, fmt.Errorf("secret: reading from terminal: %w", err)
		}
	} else {
		var err error
		line, err = readLine(in)
		if err != nil {
			return nil, err
		}
	}
	return fromLine(line)
}

// ReadLine reads a single line from r into a Buffer.
func ReadLine(r io.Reader) (*Buffer, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	return fromLine(line)
}

func readLine(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("secret: reading input: %w", err)
		}
		return nil, errors.New("secret: input is empty")
	}
	line := make([]byte, len(scanner.Bytes()))
	copy(line, scanner.Bytes())
	Zero(scanner.Bytes())
	return line, nil
}

func fromLine(line []byte) (*Buffer, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		Zero(line)
		return nil, errors.New("secret: input is empty")
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(line)
	return buffer, err
}
