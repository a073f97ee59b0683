// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/messenger/delta"
	"github.com/bureau-foundation/messenger/lib/netutil"
	"github.com/bureau-foundation/messenger/messaging"
	"github.com/bureau-foundation/messenger/transport"
)

// DefaultEndpoint is the broker websocket endpoint.
const DefaultEndpoint = "wss://edge-chat.facebook.com/chat"

// DefaultSubscriptionBuffer is the channel capacity used when Subscribe
// is given a non-positive buffer.
const DefaultSubscriptionBuffer = 64

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateQueueCreate
	StateQueueResume
	StateActive
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateQueueCreate:
		return "queue_create"
	case StateQueueResume:
		return "queue_resume"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s State) terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Config configures a Session.
type Config struct {
	// Session is the authenticated substrate. It supplies the identity,
	// the cookies for the handshake, and the sync cursor. Required.
	Session *messaging.Session

	// Dialer opens the broker connection. Defaults to an MQTTDialer
	// sharing Logger.
	Dialer transport.Dialer

	// Endpoint defaults to DefaultEndpoint.
	Endpoint string

	// DeviceID identifies this client installation. Defaults to a fresh
	// random UUID.
	DeviceID string

	// Offline connects without marking the account available for chat.
	Offline bool

	// Foreground marks the client as the focused tab.
	Foreground bool

	// SelfListen delivers events authored by the logged-in account.
	SelfListen bool

	// ListenEvents delivers reactions, unsends, receipts, and thread
	// events in addition to messages.
	ListenEvents bool

	// UpdatePresence delivers presence updates.
	UpdatePresence bool

	// IncludeUnclassified delivers deltas of unknown class as
	// *delta.Unclassified. Requires ListenEvents.
	IncludeUnclassified bool

	// AutoMarkDelivery acknowledges delivery of every incoming message.
	AutoMarkDelivery bool

	// AutoMarkRead also marks the thread read after acknowledging
	// delivery. Requires AutoMarkDelivery.
	AutoMarkRead bool

	// ActionTimeout bounds the HTTP calls the session makes on its own:
	// delivery acknowledgements and forced-fetch resolution. Defaults
	// to messaging.DefaultTimeout.
	ActionTimeout time.Duration

	// OnCursor is called after a delta frame moves the sync cursor,
	// before the frame's deltas are delivered. It runs on the receive
	// path and must not block.
	OnCursor func(lastSeqID int64, syncToken string)

	Logger  *slog.Logger
	Metrics *Metrics
}

// Update is one item of the event stream: a classified event, or a
// frame or delta that could not be decoded.
type Update struct {
	Event delta.Event
	Err   error
}

// Session is one realtime connection. It is created Idle, connected
// once, and ends Closed or Errored. All methods are safe for
// concurrent use.
type Session struct {
	session       *messaging.Session
	dialer        transport.Dialer
	endpoint      string
	deviceID      string
	chatOn        bool
	foreground    bool
	options       delta.Options
	presence      bool
	markDelivery  bool
	markRead      bool
	actionTimeout time.Duration
	onCursor      func(int64, string)
	logger        *slog.Logger
	metrics       *Metrics

	mu          sync.Mutex
	state       State
	conn        transport.Conn
	err         error
	subscribers []*Subscription
	done        chan struct{}

	background sync.WaitGroup
}

// New validates config and returns an Idle session. Subscribe before
// Connect to observe every update.
func New(config Config) (*Session, error) {
	if config.Session == nil {
		return nil, messaging.PreconditionError("realtime", "messaging session is required")
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, messaging.PreconditionError("realtime", "invalid endpoint "+endpoint)
	}
	logger := config.Logger
	if logger == nil {
		logger = config.Session.Logger()
	}
	logger = logger.With("component", "realtime")
	dialer := config.Dialer
	if dialer == nil {
		dialer = &transport.MQTTDialer{Logger: logger}
	}
	deviceID := config.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	actionTimeout := config.ActionTimeout
	if actionTimeout <= 0 {
		actionTimeout = messaging.DefaultTimeout
	}
	return &Session{
		session:    config.Session,
		dialer:     dialer,
		endpoint:   endpoint,
		deviceID:   deviceID,
		chatOn:     !config.Offline,
		foreground: config.Foreground,
		options: delta.Options{
			SelfID:              config.Session.UserID(),
			SelfListen:          config.SelfListen,
			ListenEvents:        config.ListenEvents,
			IncludeUnclassified: config.IncludeUnclassified,
		},
		presence:      config.UpdatePresence,
		markDelivery:  config.AutoMarkDelivery,
		markRead:      config.AutoMarkDelivery && config.AutoMarkRead,
		actionTimeout: actionTimeout,
		onCursor:      config.OnCursor,
		logger:        logger,
		metrics:       config.Metrics,
		state:         StateIdle,
		done:          make(chan struct{}),
	}, nil
}

// Connect is New followed by Session.Connect.
func Connect(ctx context.Context, config Config) (*Session, error) {
	session, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

// Connect dials the broker and publishes the queue frame. It returns
// once the frame is acknowledged and the session is Active. A session
// connects at most once; a failed attempt leaves it Errored.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return messaging.PreconditionError("connect", "realtime session is "+state.String())
	}
	s.state = StateConnecting
	s.mu.Unlock()

	lastSeqID, syncToken := s.session.Cursor()
	if syncToken == "" && lastSeqID == 0 {
		sequenceID, err := s.session.FetchSequenceID(ctx)
		if err != nil {
			s.finish(StateErrored, err)
			return err
		}
		lastSeqID = s.session.AdvanceSequence(sequenceID)
	}

	mode, queueState := "create", StateQueueCreate
	if syncToken != "" {
		mode, queueState = "resume", StateQueueResume
	}

	sessionID := newSessionID()
	username, err := json.Marshal(newIdentity(s.session.UserID(), s.deviceID, sessionID, s.chatOn, s.foreground))
	if err != nil {
		s.finish(StateErrored, err)
		return err
	}
	target, err := endpointURL(s.endpoint, sessionID)
	if err != nil {
		wrapped := messaging.PreconditionError("connect", "invalid endpoint "+s.endpoint)
		s.finish(StateErrored, wrapped)
		return wrapped
	}

	conn, err := s.dialer.Dial(ctx, transport.ConnectOptions{
		URL:       target,
		ClientID:  mqttClientID,
		Username:  string(username),
		Header:    s.handshakeHeader(),
		OnMessage: s.receive,
		OnClose:   s.lost,
	})
	if err != nil {
		wrapped := messaging.TransientError("connect", 0, nil, err)
		s.metrics.connect(mode, "dial_failed")
		s.finish(StateErrored, wrapped)
		return wrapped
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return s.interrupted()
	}
	s.conn = conn
	s.state = queueState
	s.mu.Unlock()

	topic, payload, err := buildQueueFrame(s.session.UserID(), lastSeqID, syncToken)
	if err != nil {
		s.finish(StateErrored, err)
		return err
	}
	if err := conn.Publish(ctx, topic, payload); err != nil {
		wrapped := messaging.TransientError("connect", 0, payload, err)
		s.metrics.connect(mode, "queue_failed")
		s.finish(StateErrored, wrapped)
		return wrapped
	}

	s.mu.Lock()
	if s.state != queueState {
		s.mu.Unlock()
		return s.interrupted()
	}
	s.state = StateActive
	s.mu.Unlock()

	s.metrics.connect(mode, "ok")
	s.metrics.setActive(1)
	s.logger.Info("realtime session active",
		"mode", mode,
		"last_seq_id", lastSeqID,
		"session_id", sessionID,
	)
	return nil
}

// interrupted describes a connect attempt overtaken by Close or by loss
// of the connection.
func (s *Session) interrupted() error {
	if err := s.Err(); err != nil {
		return err
	}
	return messaging.PreconditionError("connect", "realtime session closed while connecting")
}

// handshakeHeader carries the web origin's cookies and identity to the
// broker.
func (s *Session) handshakeHeader() http.Header {
	client := s.session.Client()
	web := client.Endpoints().Web
	header := http.Header{}
	if parsed, err := url.Parse(web); err == nil {
		if cookie := client.Cookies().Header(parsed); cookie != "" {
			header.Set("Cookie", cookie)
		}
	}
	header.Set("Origin", web)
	header.Set("User-Agent", client.UserAgent())
	header.Set("Referer", web)
	if parsed, err := url.Parse(s.endpoint); err == nil {
		header.Set("Host", parsed.Host)
	}
	return header
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Errored, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session reaches Closed or Errored.
func (s *Session) Done() <-chan struct{} { return s.done }

// Messaging returns the substrate session.
func (s *Session) Messaging() *messaging.Session { return s.session }

// Publish sends payload on topic. It fails with a precondition error
// unless the session is Active. A transport failure other than ctx
// ending moves the session to Errored.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()
	if state != StateActive {
		return messaging.PreconditionError("publish", "realtime session is "+state.String())
	}
	if err := conn.Publish(ctx, topic, payload); err != nil {
		wrapped := messaging.TransientError("publish", 0, payload, err)
		if ctx.Err() == nil {
			s.finish(StateErrored, wrapped)
		}
		return wrapped
	}
	return nil
}

// Close disconnects and closes every subscription. In-flight HTTP calls
// started by the session are not interrupted. Close is idempotent.
func (s *Session) Close() error {
	return s.finish(StateClosed, nil)
}

// Wait blocks until the delivery acknowledgements and forced-fetch
// lookups started by the session have returned.
func (s *Session) Wait() {
	s.background.Wait()
}

// finish moves the session to a terminal state exactly once.
func (s *Session) finish(state State, cause error) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	wasActive := s.state == StateActive
	s.state = state
	s.err = cause
	conn := s.conn
	subscribers := s.subscribers
	s.subscribers = nil
	for _, subscription := range subscribers {
		close(subscription.ch)
	}
	close(s.done)
	s.mu.Unlock()

	if wasActive {
		s.metrics.setActive(-1)
	}
	if cause != nil {
		s.logger.Warn("realtime session failed", "error", cause)
	} else {
		s.logger.Info("realtime session closed")
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// lost handles the transport reporting the end of the connection. An
// ordinary socket close ends the session Closed; anything else is a
// transport failure and ends it Errored.
func (s *Session) lost(err error) {
	if err == nil || netutil.IsExpectedCloseError(err) {
		s.logger.Debug("broker closed the connection", "reason", err)
		s.finish(StateClosed, nil)
		return
	}
	s.finish(StateErrored, messaging.TransientError("receive", 0, nil, err))
}

// receive routes one inbound frame. The transport calls it
// sequentially.
func (s *Session) receive(message transport.Message) {
	if s.State().terminal() {
		return
	}
	s.metrics.frame(message.Topic)
	switch message.Topic {
	case TopicSync:
		s.receiveSync(message.Payload)
	case TopicThreadTyping, TopicOrcaTyping:
		typing, err := delta.ParseTyping(message.Payload)
		if err != nil {
			s.emitError(err)
			return
		}
		if delta.Keep(typing, s.options) {
			s.emit(typing)
		}
	case TopicPresence:
		if !s.presence {
			return
		}
		updates, errs := delta.ParsePresence(message.Payload)
		for _, err := range errs {
			s.emitError(err)
		}
		for _, update := range updates {
			s.emit(update)
		}
	default:
		s.logger.Debug("unrouted realtime frame", "topic", message.Topic, "size", len(message.Payload))
	}
}

// receiveSync applies the cursor fields of a delta frame and then
// delivers its deltas in order.
func (s *Session) receiveSync(payload []byte) {
	frame, err := delta.ParseSyncFrame(payload)
	if err != nil {
		s.emitError(err)
		return
	}
	moved := false
	if frame.FirstDeltaSeqID != 0 && frame.SyncToken != "" {
		s.session.SetSyncToken(frame.SyncToken, frame.FirstDeltaSeqID)
		moved = true
	}
	if frame.LastIssuedSeqID != 0 {
		s.session.AdvanceSequence(frame.LastIssuedSeqID)
		moved = true
	}
	if moved && s.onCursor != nil {
		s.onCursor(s.session.Cursor())
	}

	for _, raw := range frame.Deltas {
		events, errs := delta.Classify(raw, s.options)
		for _, err := range errs {
			s.emitError(err)
		}
		for _, event := range events {
			s.dispatch(event)
		}
	}
}

func (s *Session) dispatch(event delta.Event) {
	switch typed := event.(type) {
	case *delta.ForcedFetch:
		s.resolveForcedFetch(typed)
		return
	case *delta.Message:
		s.resolvePhotos(typed)
		s.acknowledge(typed)
	case *delta.Reply:
		s.resolvePhotos(&typed.Message)
		if typed.ReplyTo != nil {
			s.resolvePhotos(typed.ReplyTo)
		}
		s.acknowledge(&typed.Message)
	}
	s.emit(event)
}

// resolvePhotos replaces the preview URL of each photo attachment with
// its full-size URL, one lookup at a time, before the message is
// delivered. A failed lookup keeps the preview URL and is reported on
// the stream.
func (s *Session) resolvePhotos(message *delta.Message) {
	for index := range message.Attachments {
		attachment := &message.Attachments[index]
		if attachment.Type != "photo" || attachment.ID == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
		photoURL, err := s.session.ResolvePhotoURL(ctx, attachment.ID)
		cancel()
		if err != nil {
			s.emitError(err)
			continue
		}
		attachment.URL = photoURL
	}
}

// acknowledge marks an incoming message delivered, and its thread read
// when configured. Failures are logged; they never reach the stream.
func (s *Session) acknowledge(message *delta.Message) {
	if !s.markDelivery || message.SenderID == s.session.UserID() {
		return
	}
	threadID, messageID := message.ThreadID, message.MessageID
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
		defer cancel()
		if err := s.session.MarkDelivered(ctx, threadID, messageID); err != nil {
			s.logger.Warn("marking message delivered failed",
				"thread_id", threadID,
				"message_id", messageID,
				"error", err,
			)
			return
		}
		if !s.markRead {
			return
		}
		if err := s.session.MarkRead(ctx, threadID, true); err != nil {
			s.logger.Warn("marking thread read failed", "thread_id", threadID, "error", err)
		}
	}()
}

// resolveForcedFetch looks up the message a forced fetch refers to and
// delivers it when it is a thread image change. The resolved event may
// arrive after events from later frames.
func (s *Session) resolveForcedFetch(fetch *delta.ForcedFetch) {
	if fetch.ThreadID == "" || fetch.MessageID == "" {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
		defer cancel()
		image, err := s.session.FetchThreadImage(ctx, fetch.ThreadID, fetch.MessageID)
		if err != nil {
			s.emitError(err)
			return
		}
		if image == nil {
			return
		}
		event := &delta.ThreadImage{
			Type:         delta.TypeThreadImage,
			ThreadID:     image.ThreadID,
			AuthorID:     image.AuthorID,
			Snippet:      image.Snippet,
			Timestamp:    image.Timestamp,
			AttachmentID: image.AttachmentID,
			Width:        image.Width,
			Height:       image.Height,
			URL:          image.URL,
		}
		if delta.Keep(event, s.options) {
			s.emit(event)
		}
	}()
}

func (s *Session) emit(event delta.Event) {
	s.metrics.event(string(event.Kind()))
	s.broadcast(Update{Event: event})
}

func (s *Session) emitError(err error) {
	s.metrics.streamError()
	s.logger.Debug("realtime stream error", "error", err)
	s.broadcast(Update{Err: err})
}

// broadcast hands update to every subscriber without blocking. A full
// subscriber buffer loses the update; the subscriber is told how many
// it lost, ahead of the next update that fits.
func (s *Session) broadcast(update Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return
	}
	for _, subscription := range s.subscribers {
		if subscription.dropped > 0 {
			notice := Update{Err: fmt.Errorf("%w: %d updates", ErrUpdatesDropped, subscription.dropped)}
			select {
			case subscription.ch <- notice:
				subscription.dropped = 0
			default:
				subscription.dropped++
				s.metrics.drop()
				continue
			}
		}
		select {
		case subscription.ch <- update:
		default:
			subscription.dropped++
			s.metrics.drop()
		}
	}
}
