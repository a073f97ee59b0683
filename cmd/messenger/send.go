// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/messenger/cmd/messenger/cli"
	"github.com/bureau-foundation/messenger/messaging"
	"github.com/bureau-foundation/messenger/tasks"
)

type sendOptions struct {
	commonOptions
	thread  string
	replyTo string
	sticker string
	files   []string

	url       string
	emoji     string
	emojiSize string
}

func sendCommand() *cli.Command {
	var options sendOptions
	return &cli.Command{
		Name:    "send",
		Summary: "Send a message to a thread",
		Usage:   "messenger send --thread ID [flags] [text...]",
		Description: `Restore the saved session, connect, and send one message. The
remaining arguments are joined into the message text. Prints the
offline threading id the server echoes for the new message.`,
		Examples: []cli.Example{
			{Description: "Send a text message", Command: "messenger send --thread 1000123 hello there"},
			{Description: "Send a photo with a caption", Command: "messenger send --thread 1000123 --file cat.jpg look"},
			{Description: "Share a link", Command: "messenger send --thread 1000123 --url https://example.com"},
			{Description: "Send a large thumbs up", Command: "messenger send --thread 1000123 --emoji 👍 --emoji-size large"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			options.commonOptions.bind(flagSet)
			flagSet.StringVar(&options.thread, "thread", "", "thread id (required)")
			flagSet.StringVar(&options.replyTo, "reply-to", "", "message id to reply to")
			flagSet.StringVar(&options.sticker, "sticker", "", "sticker id to send instead of text")
			flagSet.StringSliceVar(&options.files, "file", nil, "file to attach (repeatable)")
			flagSet.StringVar(&options.url, "url", "", "link to share with a preview")
			flagSet.StringVar(&options.emoji, "emoji", "", "emoji to send instead of text")
			flagSet.StringVar(&options.emojiSize, "emoji-size", "", "emoji size: small, medium, or large")
			return flagSet
		},
		Run: func(args []string) error {
			if options.thread == "" {
				return errors.New("--thread is required")
			}
			return runSend(&options, strings.Join(args, " "))
		},
	}
}

func runSend(options *sendOptions, text string) error {
	files, err := readAttachments(options.files)
	if err != nil {
		return err
	}
	env, err := setup(&options.commonOptions)
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
	live, _, err := env.connect(ctx, session, 0)
	if err != nil {
		return err
	}
	defer live.Close()

	dispatcher, err := tasks.New(tasks.Config{
		Session:       session,
		Conn:          live,
		TypingTimeout: env.config.TypingTimeout(),
		Limiter:       taskLimiter(env.config.Client.TaskRate),
		Logger:        env.logger,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	otid, err := dispatcher.Send(ctx, tasks.Message{
		ThreadID:  options.thread,
		Text:      text,
		ReplyTo:   options.replyTo,
		StickerID: options.sticker,
		URL:       options.url,
		Emoji:     options.emoji,
		EmojiSize: tasks.EmojiSize(options.emojiSize),
	}, files...)
	if err != nil {
		return err
	}
	return cli.WriteJSON(map[string]string{
		"thread_id":            options.thread,
		"offline_threading_id": otid,
	})
}

// taskLimiter allows bursts of two seconds' worth of envelopes.
func taskLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond*2)))
}

func readAttachments(paths []string) ([]messaging.File, error) {
	files := make([]messaging.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading attachment: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		files = append(files, messaging.File{
			Name:        filepath.Base(path),
			ContentType: contentType,
			Data:        data,
		})
	}
	return files, nil
}
