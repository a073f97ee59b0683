// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messenger.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if !cfg.Client.AutoMarkDelivery {
		t.Error("auto_mark_delivery should default to true")
	}
	if cfg.Client.AutoMarkRead {
		t.Error("auto_mark_read should default to false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
	if cfg.Client.TaskRate != 5 {
		t.Errorf("TaskRate = %v, want 5", cfg.Client.TaskRate)
	}
	if cfg.RequestTimeout() != 60*time.Second {
		t.Errorf("RequestTimeout = %v, want 60s", cfg.RequestTimeout())
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
client:
  self_listen: true
  update_presence: true
  typing_timeout: 10s
endpoints:
  web: http://127.0.0.1:8080
paths:
  appstate: ${HOME}/state/appstate.json
  cursor: ${MESSENGER_TEST_UNSET:-/var/lib/messenger}/cursor.cbor
recipients:
  - age1example
`)
	t.Setenv("HOME", "/home/tester")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.Client.SelfListen || !cfg.Client.UpdatePresence {
		t.Errorf("client options not loaded: %+v", cfg.Client)
	}
	if !cfg.Client.AutoMarkDelivery {
		t.Error("unset field lost its default")
	}
	if cfg.Endpoints.Web != "http://127.0.0.1:8080" {
		t.Errorf("endpoints.web = %q", cfg.Endpoints.Web)
	}
	if cfg.Endpoints.Mobile != Default().Endpoints.Mobile {
		t.Errorf("endpoints.mobile = %q, want default", cfg.Endpoints.Mobile)
	}
	if cfg.Paths.AppState != "/home/tester/state/appstate.json" {
		t.Errorf("paths.appstate = %q", cfg.Paths.AppState)
	}
	if cfg.Paths.Cursor != "/var/lib/messenger/cursor.cbor" {
		t.Errorf("paths.cursor = %q", cfg.Paths.Cursor)
	}
	if cfg.TypingTimeout() != 10*time.Second {
		t.Errorf("TypingTimeout = %v", cfg.TypingTimeout())
	}
	if len(cfg.Recipients) != 1 {
		t.Errorf("recipients = %v", cfg.Recipients)
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
client:
  request_timeout: soon
  task_rate: -1
endpoints:
  realtime: edge-chat
`)
	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"client.request_timeout", "client.task_rate", "endpoints.realtime"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadWithoutEnvironmentUsesDefault(t *testing.T) {
	t.Setenv("MESSENGER_CONFIG", "")
	t.Setenv("HOME", "/home/tester")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.AppState != "/home/tester/.config/messenger/appstate.json" {
		t.Errorf("paths.appstate = %q", cfg.Paths.AppState)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("MESSENGER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("Load should fail when MESSENGER_CONFIG names a missing file")
	}
}
