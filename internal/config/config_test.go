// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "client.yaml")
	yaml := "call_control_url: https://calls.example.com/\n" +
		"signaling_url: wss://signal.example.com/ws\n" +
		"media_url: wss://sfu.example.com/rtc\n" +
		"ring_timeout: 10s\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CALLCLIENT_USERNAME", "alice")

	v, err := New(file)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.CallControlURL != "https://calls.example.com" {
		t.Errorf("trailing slash not trimmed: %q", cfg.CallControlURL)
	}
	if cfg.Username != "alice" {
		t.Errorf("expected username from env, got %q", cfg.Username)
	}
	if cfg.RingTimeout != 10*time.Second {
		t.Errorf("expected ring timeout 10s, got %v", cfg.RingTimeout)
	}
	if cfg.CallType != "video" || cfg.Capture != "static" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRequiresEndpoints(t *testing.T) {
	v, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(v); err == nil {
		t.Fatal("expected error without call_control_url")
	}
}

func TestLoadRejectsUnknownCapture(t *testing.T) {
	v, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	v.Set(KeyCallControlURL, "https://calls.example.com")
	v.Set(KeySignalingURL, "wss://signal.example.com")
	v.Set(KeyMediaURL, "wss://sfu.example.com")
	v.Set(KeyCapture, "webcam")
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for unknown capture mode")
	}
}
