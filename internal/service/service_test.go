// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nextcloud/go_call_client/internal/call"
	"github.com/nextcloud/go_call_client/internal/config"
	"github.com/nextcloud/go_call_client/internal/identity"
	"github.com/nextcloud/go_call_client/internal/media"
	"github.com/nextcloud/go_call_client/internal/signaling"
)

// fakeBackend serves the call control REST API and the signaling
// websocket from one server.
type fakeBackend struct {
	mu        sync.Mutex
	online    []map[string]string
	published chan signaling.PublishFrame
	push      chan signaling.Frame
	logouts   atomic.Int32
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	b := &fakeBackend{
		online:    []map[string]string{{"username": "bob", "status": "online"}, {"username": "alice", "status": "online"}},
		published: make(chan signaling.PublishFrame, 16),
		push:      make(chan signaling.Frame, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Username == "mallory" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-" + req.Username, "conversation_sid": "conv-" + req.Username})
	})
	mux.HandleFunc("/online-users", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(b.online)
	})
	mux.HandleFunc("/start-call", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RoomName string `json:"room_name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]string{"token": "room-tok", "room_name": req.RoomName})
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		b.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/decline-call", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/ws", b.serveSignaling)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *fakeBackend) serveSignaling(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(f signaling.Frame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(f)
	}
	done := make(chan struct{})
	defer close(done)

	for {
		var f signaling.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "hello":
			write(signaling.Frame{ID: f.ID, Type: "welcome"})
		case "subscribe":
			write(signaling.Frame{ID: f.ID, Type: "subscribed"})
			go func() {
				for {
					select {
					case pf := <-b.push:
						if err := write(pf); err != nil {
							return
						}
					case <-done:
						return
					}
				}
			}()
		case "publish":
			b.published <- *f.Publish
		case "bye":
			return
		}
	}
}

type fakeConn struct {
	participants []string
	events       chan media.Event
	closed       atomic.Int32
}

func (c *fakeConn) Participants() []string     { return c.participants }
func (c *fakeConn) Events() <-chan media.Event { return c.events }

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

type fakeProvider struct {
	rooms chan string

	mu    sync.Mutex
	conns []*fakeConn
}

func (p *fakeProvider) Connect(ctx context.Context, room, token string, opts media.ConnectOptions) (media.Conn, error) {
	p.rooms <- room
	conn := &fakeConn{participants: []string{opts.Identity, "bob"}, events: make(chan media.Event)}
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	return conn, nil
}

func (p *fakeProvider) last() *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

func newTestApp(t *testing.T) (*Application, *fakeBackend, *fakeProvider) {
	t.Helper()
	b, srv := newFakeBackend(t)
	cfg := &config.Config{
		CallControlURL: srv.URL,
		SignalingURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		MediaURL:       "ws://unused",
		CallType:       "audio",
		Capture:        "static",
	}
	app := NewApplication(cfg)
	p := &fakeProvider{rooms: make(chan string, 4)}
	app.provider = p
	app.capturer = nil
	t.Cleanup(app.Shutdown)
	return app, b, p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectCall logs alice in and brings a call with bob to Connected.
func connectCall(t *testing.T, app *Application, p *fakeProvider) *fakeConn {
	t.Helper()
	ctx := context.Background()
	if _, err := app.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "signaling connected", func() bool {
		return app.Status(ctx).Signaling == signaling.StatusConnected
	})
	if err := app.StartCall(ctx, "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	<-p.rooms
	waitFor(t, "connected", func() bool {
		st := app.Status(ctx)
		return st.Call != nil && st.Call.State == call.Connected
	})
	return p.last()
}

func TestLoginSeedsPresence(t *testing.T) {
	app, _, _ := newTestApp(t)

	st, err := app.Login(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !st.LoggedIn || st.Identity != "alice" {
		t.Fatalf("unexpected status %+v", st)
	}

	users, err := app.Presence()
	if err != nil {
		t.Fatalf("Presence: %v", err)
	}
	if len(users) != 1 || users[0].Identity != "bob" {
		t.Fatalf("expected only bob online, got %+v", users)
	}

	waitFor(t, "signaling connected", func() bool {
		return app.Status(context.Background()).Signaling == signaling.StatusConnected
	})
}

func TestLoginTwiceRejected(t *testing.T) {
	app, _, _ := newTestApp(t)

	if _, err := app.Login(context.Background(), "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := app.Login(context.Background(), "carol"); !errors.Is(err, identity.ErrAlreadyLoggedIn) {
		t.Fatalf("expected ErrAlreadyLoggedIn, got %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	app, _, _ := newTestApp(t)

	_, err := app.Login(context.Background(), "mallory")
	var ae *identity.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if app.Status(context.Background()).LoggedIn {
		t.Fatal("status reports logged in after rejected login")
	}
}

func TestRequiresLogin(t *testing.T) {
	app, _, _ := newTestApp(t)

	if _, err := app.Controller(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Controller: expected ErrNotLoggedIn, got %v", err)
	}
	if _, err := app.Device(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Device: expected ErrNotLoggedIn, got %v", err)
	}
	if _, err := app.Bindings(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Bindings: expected ErrNotLoggedIn, got %v", err)
	}
	if err := app.Logout(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("Logout: expected ErrNotLoggedIn, got %v", err)
	}
}

func TestOutgoingCallConnects(t *testing.T) {
	app, b, p := newTestApp(t)
	ctx := context.Background()

	if _, err := app.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "signaling connected", func() bool {
		return app.Status(ctx).Signaling == signaling.StatusConnected
	})

	ctrl, err := app.Controller()
	if err != nil {
		t.Fatalf("Controller: %v", err)
	}
	if err := ctrl.StartCall(ctx, "bob"); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	select {
	case room := <-p.rooms:
		if !strings.HasPrefix(room, "alice-bob-") {
			t.Fatalf("unexpected room %q", room)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("media never joined")
	}

	waitFor(t, "connected", func() bool {
		st := app.Status(ctx)
		return st.Call != nil && st.Call.State == call.Connected
	})

	bindings, err := app.Bindings()
	if err != nil {
		t.Fatalf("Bindings: %v", err)
	}
	if len(bindings) != 1 || bindings[0].Identity != "bob" {
		t.Fatalf("unexpected bindings %+v", bindings)
	}

	select {
	case pf := <-b.published:
		t.Fatalf("unexpected publish %+v", pf)
	default:
	}
}

func TestIncomingCallAndDecline(t *testing.T) {
	app, b, _ := newTestApp(t)
	ctx := context.Background()

	events, unsubscribe := app.Notifier().Subscribe()
	defer unsubscribe()

	if _, err := app.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	body, _ := json.Marshal(signaling.IncomingCallEnvelope("bob", "bob-alice-1", "audio"))
	b.push <- signaling.Frame{Type: "message", Message: &signaling.MessageFrame{Conversation: "conv-alice", Body: string(body)}}

	deadline := time.After(2 * time.Second)
	for {
		var n call.Notification
		select {
		case n = <-events:
		case <-deadline:
			t.Fatal("no incoming_call notification")
		}
		if n.Kind == call.KindIncomingCall {
			if n.Peer != "bob" {
				t.Fatalf("unexpected caller %q", n.Peer)
			}
			break
		}
	}

	ctrl, _ := app.Controller()
	if err := ctrl.Decline(ctx); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	select {
	case pf := <-b.published:
		if pf.To != "bob" || !strings.Contains(pf.Body, `"declined_by":"alice"`) {
			t.Fatalf("unexpected decline publish %+v", pf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decline never published")
	}
}

func TestLogoutAllowsNewLogin(t *testing.T) {
	app, _, _ := newTestApp(t)
	ctx := context.Background()

	if _, err := app.Login(ctx, "alice"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := app.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if app.Status(ctx).LoggedIn {
		t.Fatal("still logged in after logout")
	}
	st, err := app.Login(ctx, "carol")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if st.Identity != "carol" {
		t.Fatalf("unexpected identity %q", st.Identity)
	}
}

func TestLogoutWhileConnected(t *testing.T) {
	app, b, p := newTestApp(t)
	conn := connectCall(t, app, p)
	ctrl, _ := app.Controller()

	if err := app.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	waitFor(t, "media left", func() bool { return conn.closed.Load() == 1 })
	waitFor(t, "backend logout", func() bool { return b.logouts.Load() == 1 })
	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller still running after logout")
	}
	if ctrl.ActiveMedia() != nil {
		t.Fatal("active media survives logout")
	}
}

func TestShutdownWaitsForTeardown(t *testing.T) {
	app, b, p := newTestApp(t)
	conn := connectCall(t, app, p)

	app.Shutdown()

	if conn.closed.Load() != 1 {
		t.Fatal("media still open after Shutdown")
	}
	if b.logouts.Load() != 1 {
		t.Fatal("backend logout not delivered before Shutdown returned")
	}
	if app.Status(context.Background()).LoggedIn {
		t.Fatal("still logged in after Shutdown")
	}
}
