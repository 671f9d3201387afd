// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   string
}

type fakeDaemon struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	d.mu.Lock()
	d.requests = append(d.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v1/call/accept":
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "no pending invite"})
	case "/api/v1/events":
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": subscribed x\n\nevent: incoming_call\ndata: {\"kind\":\"incoming_call\",\"peer\":\"bob\"}\n\n")
	default:
		json.NewEncoder(w).Encode(map[string]string{"state": "idle"})
	}
}

func (d *fakeDaemon) last(t *testing.T) recordedRequest {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		t.Fatal("no request recorded")
	}
	return d.requests[len(d.requests)-1]
}

func run(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--api-addr", srv.URL, "--control-secret", "s3cret"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestIntentCommands(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		path   string
		body   string
	}{
		{[]string{"login", "alice"}, http.MethodPost, "/api/v1/login", `{"username":"alice"}`},
		{[]string{"logout"}, http.MethodPost, "/api/v1/logout", ""},
		{[]string{"status"}, http.MethodGet, "/api/v1/status", ""},
		{[]string{"presence"}, http.MethodGet, "/api/v1/presence", ""},
		{[]string{"presence", "--refresh"}, http.MethodPost, "/api/v1/presence/refresh", ""},
		{[]string{"call"}, http.MethodGet, "/api/v1/call", ""},
		{[]string{"call", "start", "bob"}, http.MethodPost, "/api/v1/call/start", `{"callee":"bob"}`},
		{[]string{"call", "decline"}, http.MethodPost, "/api/v1/call/decline", ""},
		{[]string{"call", "add", "carol"}, http.MethodPost, "/api/v1/call/add", `{"identity":"carol"}`},
		{[]string{"call", "end"}, http.MethodPost, "/api/v1/call/end", ""},
		{[]string{"call", "bindings"}, http.MethodGet, "/api/v1/call/bindings", ""},
		{[]string{"mute"}, http.MethodPost, "/api/v1/media/mute", ""},
		{[]string{"camera"}, http.MethodPost, "/api/v1/media/camera", ""},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			d := &fakeDaemon{}
			srv := httptest.NewServer(d)
			defer srv.Close()

			out, err := run(t, srv, "", tt.args...)
			if err != nil {
				t.Fatalf("command failed: %v", err)
			}
			got := d.last(t)
			if got.Method != tt.method || got.Path != tt.path {
				t.Fatalf("sent %s %s, want %s %s", got.Method, got.Path, tt.method, tt.path)
			}
			if got.Auth != "Bearer s3cret" {
				t.Fatalf("unexpected auth header %q", got.Auth)
			}
			if strings.TrimSpace(got.Body) != tt.body {
				t.Fatalf("unexpected body %q", got.Body)
			}
			if !strings.Contains(out, `"state": "idle"`) {
				t.Fatalf("response not printed: %q", out)
			}
		})
	}
}

func TestDaemonErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(&fakeDaemon{})
	defer srv.Close()

	_, err := run(t, srv, "", "call", "accept")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "no pending invite") || !strings.Contains(err.Error(), "409") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestArgsValidated(t *testing.T) {
	srv := httptest.NewServer(&fakeDaemon{})
	defer srv.Close()

	if _, err := run(t, srv, "", "call", "start"); err == nil {
		t.Fatal("expected error for missing callee")
	}
}

func TestEventsCommand(t *testing.T) {
	srv := httptest.NewServer(&fakeDaemon{})
	defer srv.Close()

	out, err := run(t, srv, "", "events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, `incoming_call {"kind":"incoming_call","peer":"bob"}`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConsole(t *testing.T) {
	d := &fakeDaemon{}
	srv := httptest.NewServer(d)
	defer srv.Close()

	input := strings.Join([]string{
		"status",
		`call start "bob"`,
		"call accept",
		`login "unterminated`,
		"console",
		"exit",
		"status",
	}, "\n") + "\n"

	out, err := run(t, srv, input, "console")
	if err != nil {
		t.Fatalf("console: %v", err)
	}

	d.mu.Lock()
	paths := make([]string, 0, len(d.requests))
	for _, r := range d.requests {
		paths = append(paths, r.Path)
	}
	d.mu.Unlock()

	want := []string{"/api/v1/status", "/api/v1/call/start", "/api/v1/call/accept"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("requests %v, want %v", paths, want)
	}
	if !strings.Contains(out, "no pending invite") {
		t.Fatalf("failed command not reported: %q", out)
	}
	if !strings.Contains(out, errNestedConsole.Error()) {
		t.Fatalf("nested console not refused: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
