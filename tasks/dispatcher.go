// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/messenger/lib/clock"
	"github.com/bureau-foundation/messenger/messaging"
	"github.com/bureau-foundation/messenger/realtime"
)

// DefaultTypingTimeout is how long a typing indicator stays on before
// the dispatcher stops it.
const DefaultTypingTimeout = 30 * time.Second

// Conn is the live connection tasks are published on.
// *realtime.Session implements it.
type Conn interface {
	State() realtime.State
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Compile-time interface check.
var _ Conn = (*realtime.Session)(nil)

// Config configures a Dispatcher.
type Config struct {
	// Session allocates task and request ids and performs uploads.
	// Required.
	Session *messaging.Session

	// Conn carries the envelopes. Required.
	Conn Conn

	// Clock drives typing auto-stop and message ids. Defaults to the
	// session client's clock.
	Clock clock.Clock

	// TypingTimeout defaults to DefaultTypingTimeout.
	TypingTimeout time.Duration

	// Limiter paces envelopes. The server throttles accounts that
	// publish in bursts. Nil means unpaced.
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Dispatcher publishes tasks for one session. It is safe for
// concurrent use.
type Dispatcher struct {
	session       *messaging.Session
	conn          Conn
	clock         clock.Clock
	typingTimeout time.Duration
	limiter       *rate.Limiter
	logger        *slog.Logger

	mu     sync.Mutex
	typing map[string]*clock.Timer
}

// New validates config and returns a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Session == nil {
		return nil, messaging.PreconditionError("dispatch", "messaging session is required")
	}
	if config.Conn == nil {
		return nil, messaging.PreconditionError("dispatch", "realtime connection is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = config.Session.Client().Clock()
	}
	typingTimeout := config.TypingTimeout
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = config.Session.Logger()
	}
	return &Dispatcher{
		session:       config.Session,
		conn:          config.Conn,
		clock:         clk,
		typingTimeout: typingTimeout,
		limiter:       config.Limiter,
		logger:        logger.With("component", "tasks"),
		typing:        make(map[string]*clock.Timer),
	}, nil
}

// Dispatch publishes tasks in one envelope. Task ids are allocated in
// order from the session, so tasks on the same queue run in the order
// given. It fails with a precondition error unless the connection is
// Active, and waits for the limiter before any id is allocated.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return messaging.PreconditionError("dispatch", "no tasks given")
	}
	if state := d.conn.State(); state != realtime.StateActive {
		return messaging.PreconditionError("dispatch", "realtime session is "+state.String())
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return messaging.TransientError("dispatch", 0, nil, err)
		}
	}
	requestID, taskIDs := d.session.NextTaskIDs(len(tasks))
	payload, err := encodeEnvelope(requestID, taskIDs, d.nextOTID(), tasks)
	if err != nil {
		return err
	}
	if err := d.conn.Publish(ctx, realtime.TopicTaskRequest, payload); err != nil {
		return err
	}
	d.logger.Debug("tasks dispatched",
		"request_id", requestID,
		"first_task_id", taskIDs[0],
		"count", len(tasks),
		"label", tasks[0].Label,
	)
	return nil
}

func (d *Dispatcher) nextOTID() int64 {
	return OfflineThreadingID(d.clock.Now())
}

// Send uploads message files, then sends the message with the resulting
// attachment ids appended to message.AttachmentIDs. A message.URL
// without share parameters is resolved through the session first. It
// returns the offline threading id the server will echo for the new
// message.
func (d *Dispatcher) Send(ctx context.Context, message Message, files ...messaging.File) (string, error) {
	if message.URL != "" && len(message.ShareParams) == 0 {
		params, err := d.session.ShareURL(ctx, message.URL)
		if err != nil {
			return "", err
		}
		message.ShareParams = params
	}
	if len(files) > 0 {
		uploads, err := d.session.UploadAttachments(ctx, files...)
		if err != nil {
			return "", err
		}
		for _, upload := range uploads {
			message.AttachmentIDs = append(message.AttachmentIDs, upload.ID)
		}
	}
	otid := d.nextOTID()
	task, err := MessageTask(message, otid)
	if err != nil {
		return "", err
	}
	if err := d.Dispatch(ctx, task); err != nil {
		return "", err
	}
	d.stopTypingTimer(message.ThreadID)
	return strconv.FormatInt(otid, 10), nil
}

// Forward forwards messageID into threadID.
func (d *Dispatcher) Forward(ctx context.Context, threadID, messageID string) error {
	task, err := ForwardTask(threadID, messageID, d.nextOTID())
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// React sets the logged-in account's reaction on a message. An empty
// reaction removes it.
func (d *Dispatcher) React(ctx context.Context, threadID, messageID, reaction string) error {
	task, err := ReactionTask(threadID, messageID, d.session.UserID(), reaction, d.clock.Now().UnixMilli())
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// MarkRead moves the read watermark of threadID to now.
func (d *Dispatcher) MarkRead(ctx context.Context, threadID string) error {
	task, err := MarkReadTask(threadID, d.clock.Now().UnixMilli())
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// RenameThread sets the name of a group thread.
func (d *Dispatcher) RenameThread(ctx context.Context, threadID, name string) error {
	task, err := RenameThreadTask(threadID, name)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// ChangeThreadImage uploads image and sets it as the photo of a group
// thread.
func (d *Dispatcher) ChangeThreadImage(ctx context.Context, threadID string, image messaging.File) error {
	uploads, err := d.session.UploadAttachments(ctx, image)
	if err != nil {
		return err
	}
	if uploads[0].Kind != "image" {
		return messaging.PreconditionError("thread_image", "upload is a "+uploads[0].Kind+", not an image")
	}
	task, err := ThreadImageTask(threadID, uploads[0].ID)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// AddParticipants adds accounts to a group thread.
func (d *Dispatcher) AddParticipants(ctx context.Context, threadID string, userIDs ...string) error {
	task, err := AddParticipantsTask(threadID, userIDs...)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// RemoveParticipant removes an account from a group thread.
func (d *Dispatcher) RemoveParticipant(ctx context.Context, threadID, userID string) error {
	task, err := RemoveParticipantTask(threadID, userID)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// SetAdmin promotes or demotes a participant of a group thread.
func (d *Dispatcher) SetAdmin(ctx context.Context, threadID, userID string, admin bool) error {
	task, err := AdminTask(threadID, userID, admin)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// Unsend retracts a message the account sent.
func (d *Dispatcher) Unsend(ctx context.Context, messageID string) error {
	task, err := UnsendTask(messageID)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// Typing turns the typing indicator on or off. Turning it on schedules
// an automatic stop after the typing timeout; a later start resets the
// timer, and an explicit stop or a sent message cancels it.
func (d *Dispatcher) Typing(ctx context.Context, threadID string, isGroup, typing bool) error {
	task, err := TypingTask(threadID, isGroup, typing)
	if err != nil {
		return err
	}
	d.stopTypingTimer(threadID)
	if err := d.Dispatch(ctx, task); err != nil {
		return err
	}
	if !typing {
		return nil
	}

	stop, err := TypingTask(threadID, isGroup, false)
	if err != nil {
		return err
	}
	// The lock is held until timer is recorded so the callback never
	// observes a stale map entry.
	d.mu.Lock()
	defer d.mu.Unlock()
	var timer *clock.Timer
	timer = d.clock.AfterFunc(d.typingTimeout, func() {
		d.mu.Lock()
		if d.typing[threadID] != timer {
			d.mu.Unlock()
			return
		}
		delete(d.typing, threadID)
		d.mu.Unlock()

		stopContext, cancel := context.WithTimeout(context.Background(), messaging.DefaultTimeout)
		defer cancel()
		if err := d.Dispatch(stopContext, stop); err != nil {
			d.logger.Warn("stopping typing indicator failed", "thread_id", threadID, "error", err)
		}
	})
	d.typing[threadID] = timer
	return nil
}

func (d *Dispatcher) stopTypingTimer(threadID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.typing[threadID]; ok {
		timer.Stop()
		delete(d.typing, threadID)
	}
}

// Close cancels pending typing auto-stops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for threadID, timer := range d.typing {
		timer.Stop()
		delete(d.typing, threadID)
	}
}
