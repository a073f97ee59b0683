// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/messenger/auth"
	"github.com/bureau-foundation/messenger/cmd/messenger/cli"
	"github.com/bureau-foundation/messenger/lib/codec"
	"github.com/bureau-foundation/messenger/lib/config"
	"github.com/bureau-foundation/messenger/lib/cookies"
	"github.com/bureau-foundation/messenger/lib/sealed"
	"github.com/bureau-foundation/messenger/lib/secret"
	"github.com/bureau-foundation/messenger/messaging"
	"github.com/bureau-foundation/messenger/realtime"
)

// commonOptions are the flags every session command accepts.
type commonOptions struct {
	configPath   string
	appStatePath string
	identityPath string
	cursorPath   string
	verbose      bool
}

func (o *commonOptions) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "configuration file (default $MESSENGER_CONFIG)")
	flagSet.StringVar(&o.appStatePath, "appstate", "", "AppState file (overrides paths.appstate)")
	flagSet.StringVar(&o.identityPath, "identity", "", "age identity for a sealed AppState (overrides paths.identity)")
	flagSet.StringVar(&o.cursorPath, "cursor", "", "realtime cursor file (overrides paths.cursor)")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "log debug output")
}

// environment is what a command needs to talk to the server.
type environment struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	client   *messaging.Client

	stopMetrics func()
}

func setup(options *commonOptions) (*environment, error) {
	var cfg *config.Config
	var err error
	if options.configPath != "" {
		cfg, err = config.LoadFile(options.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if options.appStatePath != "" {
		cfg.Paths.AppState = options.appStatePath
	}
	if options.identityPath != "" {
		cfg.Paths.Identity = options.identityPath
	}
	if options.cursorPath != "" {
		cfg.Paths.Cursor = options.cursorPath
	}
	if err := cfg.EnsureStateDirs(); err != nil {
		return nil, err
	}

	logger := cli.NewCommandLogger(options.verbose)
	registry := prometheus.NewRegistry()
	client, err := messaging.NewClient(messaging.ClientConfig{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout()},
		Endpoints: messaging.Endpoints{
			Web:       cfg.Endpoints.Web,
			Mobile:    cfg.Endpoints.Mobile,
			Upload:    cfg.Endpoints.Upload,
			Messenger: cfg.Endpoints.Messenger,
		},
		UserAgent: cfg.Client.UserAgent,
		Logger:    logger,
		Metrics:   messaging.NewMetrics(registry),
	})
	if err != nil {
		return nil, err
	}

	env := &environment{
		config:      cfg,
		logger:      logger,
		registry:    registry,
		client:      client,
		stopMetrics: func() {},
	}
	if cfg.Metrics.Listen != "" {
		if env.stopMetrics, err = serveMetrics(cfg.Metrics.Listen, registry, logger); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (e *environment) Close() {
	e.stopMetrics()
	e.client.CloseIdleConnections()
}

// serveMetrics exposes registry on /metrics until the returned function
// is called.
func serveMetrics(address string, registry *prometheus.Registry, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", listener.Addr().String())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// restore logs in from the saved AppState.
func (e *environment) restore(ctx context.Context) (*messaging.Session, error) {
	state, err := readAppState(e.config.Paths.AppState, e.config.Paths.Identity)
	if err != nil {
		return nil, err
	}
	flow, err := auth.NewFlow(auth.Config{
		Client:     e.client,
		ForceLogin: e.config.Client.ForceLogin,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}
	return flow.Restore(ctx, state)
}

// connect opens a realtime session resumed from the saved cursor, and
// saves the cursor as it moves.
func (e *environment) connect(ctx context.Context, session *messaging.Session, subscribe int) (*realtime.Session, *realtime.Subscription, error) {
	cursorPath := e.config.Paths.Cursor
	if cursorPath != "" {
		cursor, err := readCursor(cursorPath)
		switch {
		case err != nil:
			e.logger.Warn("ignoring saved cursor", "path", cursorPath, "error", err)
		case cursor.UserID == session.UserID():
			session.RestoreCursor(cursor.LastSeqID, cursor.SyncToken)
			e.logger.Debug("resuming from saved cursor", "last_seq_id", cursor.LastSeqID)
		}
	}

	live, err := realtime.New(realtime.Config{
		Session:          session,
		Endpoint:         e.config.Endpoints.Realtime,
		Offline:          !e.config.Client.Online,
		SelfListen:       e.config.Client.SelfListen,
		ListenEvents:     e.config.Client.ListenEvents,
		UpdatePresence:   e.config.Client.UpdatePresence,
		AutoMarkDelivery: e.config.Client.AutoMarkDelivery,
		AutoMarkRead:     e.config.Client.AutoMarkRead,
		OnCursor: func(lastSeqID int64, syncToken string) {
			if cursorPath == "" {
				return
			}
			err := writeCursor(cursorPath, cursorState{UserID: session.UserID(), LastSeqID: lastSeqID, SyncToken: syncToken})
			if err != nil {
				e.logger.Warn("saving cursor failed", "path", cursorPath, "error", err)
			}
		},
		Logger:  e.logger,
		Metrics: realtime.NewMetrics(e.registry),
	})
	if err != nil {
		return nil, nil, err
	}
	var subscription *realtime.Subscription
	if subscribe > 0 {
		subscription = live.Subscribe(subscribe)
	}
	if err := live.Connect(ctx); err != nil {
		live.Close()
		return nil, nil, err
	}
	return live, subscription, nil
}

// readAppState loads an AppState file, opening it with the age
// identity at identityPath when it is sealed.
func readAppState(path, identityPath string) (cookies.AppState, error) {
	if path == "" {
		return nil, errors.New("no AppState path configured; run 'messenger login' first or pass --appstate")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading AppState: %w", err)
	}
	if !sealed.IsSealed(data) {
		return cookies.ParseAppState(data)
	}
	if identityPath == "" {
		return nil, fmt.Errorf("%s is sealed; pass --identity or set paths.identity", path)
	}
	identity, err := readIdentity(identityPath)
	if err != nil {
		return nil, err
	}
	defer identity.Close()
	plaintext, err := sealed.Open(data, identity)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer plaintext.Close()
	return cookies.ParseAppState(plaintext.Bytes())
}

// readIdentity returns the first secret key line of an age identity
// file. age-keygen output carries comment lines the parser rejects.
func readIdentity(path string) (*secret.Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if strings.HasPrefix(string(line), "AGE-SECRET-KEY-") {
			return secret.NewFromBytes(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	return nil, fmt.Errorf("%s holds no AGE-SECRET-KEY line", path)
}

// writeAppState saves state, sealed to recipients when any are given,
// replacing path atomically with mode 0600.
func writeAppState(path string, state cookies.AppState, recipients []string) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	if len(recipients) > 0 {
		if data, err = sealed.Seal(data, recipients); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing AppState: %w", err)
	}
	defer os.Remove(temporary.Name())
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("writing AppState: %w", err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("writing AppState: %w", err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("writing AppState: %w", err)
	}
	return nil
}

// cursorState is the saved realtime position, keyed by account so a
// cursor is never replayed against another login.
type cursorState struct {
	UserID    string `cbor:"user_id"`
	LastSeqID int64  `cbor:"last_seq_id"`
	SyncToken string `cbor:"sync_token"`
}

func readCursor(path string) (cursorState, error) {
	var cursor cursorState
	if err := codec.ReadFile(path, &cursor); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cursorState{}, nil
		}
		return cursorState{}, err
	}
	return cursor, nil
}

func writeCursor(path string, cursor cursorState) error {
	return codec.WriteFile(path, cursor)
}
