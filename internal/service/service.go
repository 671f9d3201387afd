// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextcloud/go_call_client/internal/call"
	"github.com/nextcloud/go_call_client/internal/callapi"
	"github.com/nextcloud/go_call_client/internal/config"
	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/nextcloud/go_call_client/internal/device"
	"github.com/nextcloud/go_call_client/internal/identity"
	"github.com/nextcloud/go_call_client/internal/media"
	"github.com/nextcloud/go_call_client/internal/outbox"
	"github.com/nextcloud/go_call_client/internal/presence"
	"github.com/nextcloud/go_call_client/internal/signaling"
)

var ErrNotLoggedIn = errors.New("not logged in")

// loginSession holds everything that lives for one login.
type loginSession struct {
	identity string
	client   *signaling.Client
	sender   *outbox.Sender
	presence *presence.Directory
	ctrl     *call.Controller
	device   *device.Control
	cancel   context.CancelFunc
}

type Status struct {
	LoggedIn  bool             `json:"logged_in"`
	Identity  string           `json:"identity,omitempty"`
	Signaling signaling.Status `json:"signaling,omitempty"`
	Call      *call.Snapshot   `json:"call,omitempty"`
}

// Application wires the components of one login session and tears them
// down again. The notifier outlives sessions so event subscribers keep
// their stream across re-logins.
type Application struct {
	mu       sync.Mutex
	cfg      *config.Config
	control  *callapi.Client
	identity *identity.Context
	notifier *call.Notifier
	session  *loginSession

	// overridable in tests
	provider media.Provider
	capturer media.Capturer
}

func NewApplication(cfg *config.Config) *Application {
	control := callapi.NewClient(cfg.CallControlURL, cfg.SkipCertVerify)
	app := &Application{
		cfg:      cfg,
		control:  control,
		identity: identity.NewContext(control, cfg.DeviceToken),
		notifier: call.NewNotifier(),
	}
	app.capturer = app.newCapturer()
	app.provider = &media.PionProvider{
		URL:            cfg.MediaURL,
		ICEServers:     cfg.StunServers,
		SkipCertVerify: cfg.SkipCertVerify,
		Codecs:         app.capturer,
	}

	slog.Info("application service initialized",
		"call_control", cfg.CallControlURL,
		"capture", cfg.Capture,
		"call_type", cfg.CallType,
	)
	return app
}

func (app *Application) newCapturer() media.Capturer {
	video := app.cfg.CallType == "video"
	if app.cfg.Capture == "devices" {
		dc, err := media.NewDeviceCapturer(video)
		if err == nil {
			return dc
		}
		slog.Warn("device capture unavailable, using static media", "error", err)
	}
	return &media.StaticCapturer{Video: video}
}

func (app *Application) Notifier() *call.Notifier { return app.notifier }

// Login establishes the identity and starts signaling, presence and the
// call controller for it.
func (app *Application) Login(ctx context.Context, username string) (*Status, error) {
	sess, err := app.identity.Login(ctx, username)
	if err != nil {
		return nil, err
	}
	logger := slog.With("component", "service", "identity", sess.Identity)

	ls := &loginSession{
		identity: sess.Identity,
		client:   signaling.NewClient(app.cfg.SignalingURL, sess.Identity, app.cfg.SkipCertVerify),
		presence: presence.NewDirectory(sess.Identity),
	}
	ls.sender = outbox.NewSender(ls.client)
	ls.client.OnStatus(func(s signaling.Status) {
		app.notifier.Publish(call.Notification{Kind: call.KindSignalingStatus, Message: string(s)})
	})

	joiner := &binderJoiner{j: &media.Joiner{
		Identity: sess.Identity,
		Provider: app.provider,
		Capturer: app.capturer,
		Observer: app.publishBinding,
	}}
	ls.ctrl = call.NewController(call.Config{
		Identity:    sess.Identity,
		CallType:    app.cfg.CallType,
		RingTimeout: app.cfg.RingTimeout,
		Control:     app.control,
		Outbox:      ls.sender,
		Media:       joiner,
		Presence:    ls.presence,
		Notifier:    app.notifier,
	})
	ls.device = device.NewControl(ls.ctrl)

	// loaded before the signal pump starts so pushed snapshots always win
	if err := app.refreshPresence(ctx, ls); err != nil {
		logger.Warn("initial presence snapshot failed", "error", err)
	}

	app.mu.Lock()
	sessCtx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel
	app.session = ls
	app.mu.Unlock()

	go ls.ctrl.Run(sessCtx)
	go ls.sender.Run(sessCtx)
	go func() {
		if err := ls.client.Run(sessCtx, sess.Token, sess.Conversation); err != nil {
			logger.Error("signaling stopped", "error", err)
			app.notifier.Publish(call.Notification{Kind: call.KindError, Message: err.Error()})
		}
	}()
	go func() {
		for sig := range ls.client.Signals() {
			ls.ctrl.HandleSignal(sig)
		}
	}()

	logger.Info("session started", "conversation", sess.Conversation)
	return app.Status(ctx), nil
}

// Logout tears the session down without waiting for any peer. It reports
// ErrNotLoggedIn when there is nothing to tear down.
func (app *Application) Logout() error {
	_, err := app.endSession()
	return err
}

func (app *Application) endSession() (*loginSession, error) {
	app.mu.Lock()
	ls := app.session
	app.session = nil
	app.mu.Unlock()

	if ls == nil {
		return nil, ErrNotLoggedIn
	}

	ls.cancel()
	ls.client.Shutdown()
	app.identity.Logout()
	slog.Info("session ended", "identity", ls.identity)
	return ls, nil
}

// Shutdown logs out and then waits, at most constants.LogoutTimeout, for
// the call controller to release media and for the backend logout to be
// delivered.
func (app *Application) Shutdown() {
	ls, err := app.endSession()
	if err != nil && !errors.Is(err, ErrNotLoggedIn) {
		slog.Error("logout during shutdown failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.LogoutTimeout)
	defer cancel()
	if ls != nil {
		select {
		case <-ls.ctrl.Done():
		case <-ctx.Done():
			slog.Warn("call controller did not stop in time")
		}
	}
	if err := app.control.Wait(ctx); err != nil {
		slog.Warn("logout notification still pending", "error", err)
	}
	slog.Info("application service shut down")
}

func (app *Application) current() (*loginSession, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.session == nil {
		return nil, ErrNotLoggedIn
	}
	return app.session, nil
}

func (app *Application) Status(ctx context.Context) *Status {
	ls, err := app.current()
	if err != nil {
		return &Status{}
	}
	st := &Status{LoggedIn: true, Identity: ls.identity, Signaling: ls.client.Status()}
	if snap, err := ls.ctrl.Snapshot(ctx); err == nil {
		st.Call = &snap
	}
	return st
}

func (app *Application) Controller() (*call.Controller, error) {
	ls, err := app.current()
	if err != nil {
		return nil, err
	}
	return ls.ctrl, nil
}

func (app *Application) Device() (*device.Control, error) {
	ls, err := app.current()
	if err != nil {
		return nil, err
	}
	return ls.device, nil
}

func (app *Application) Presence() ([]presence.Entry, error) {
	ls, err := app.current()
	if err != nil {
		return nil, err
	}
	return ls.presence.List(), nil
}

// RefreshPresence replaces the directory with the call control snapshot.
func (app *Application) RefreshPresence(ctx context.Context) ([]presence.Entry, error) {
	ls, err := app.current()
	if err != nil {
		return nil, err
	}
	if err := app.refreshPresence(ctx, ls); err != nil {
		return nil, err
	}
	return ls.presence.List(), nil
}

func (app *Application) refreshPresence(ctx context.Context, ls *loginSession) error {
	ctx, cancel := context.WithTimeout(ctx, constants.CallControlTimeout)
	defer cancel()

	version := ls.presence.Version()
	users, err := app.control.OnlineUsers(ctx)
	if err != nil {
		return fmt.Errorf("fetching online users: %w", err)
	}
	entries := make([]presence.Entry, 0, len(users))
	for _, u := range users {
		entries = append(entries, presence.Entry{Identity: u.Username, Status: u.Status})
	}
	if !ls.presence.SeedIfUnchanged(entries, version) {
		// a pushed snapshot arrived while the request was in flight
		return nil
	}
	app.notifier.Publish(call.Notification{Kind: call.KindPresenceChanged, Data: ls.presence.List()})
	return nil
}

// Bindings returns the participant bindings of the connected call, or an
// empty list.
func (app *Application) Bindings() ([]media.ParticipantBinding, error) {
	ls, err := app.current()
	if err != nil {
		return nil, err
	}
	if b, ok := ls.ctrl.ActiveMedia().(*media.Binder); ok {
		return b.Bindings(), nil
	}
	return []media.ParticipantBinding{}, nil
}

func (app *Application) publishBinding(ev media.BindingEvent) {
	if ev.Type == media.BindingLevel {
		return
	}
	app.notifier.Publish(call.Notification{
		Kind:   call.KindRosterChanged,
		Peer:   ev.Binding.Identity,
		Room:   ev.Room,
		Reason: ev.Reason,
		Data:   ev,
	})
}

// binderJoiner adapts media.Joiner to the controller's MediaJoiner.
type binderJoiner struct {
	j *media.Joiner
}

func (b *binderJoiner) Join(ctx context.Context, room, token string, onDown func(error)) (call.MediaSession, error) {
	binder, err := b.j.Join(ctx, room, token, onDown)
	if err != nil {
		return nil, err
	}
	return binder, nil
}

func (app *Application) StartCall(ctx context.Context, callee string) error {
	ctrl, err := app.Controller()
	if err != nil {
		return err
	}
	return ctrl.StartCall(ctx, callee)
}

func (app *Application) Accept(ctx context.Context) error {
	ctrl, err := app.Controller()
	if err != nil {
		return err
	}
	return ctrl.Accept(ctx)
}

func (app *Application) Decline(ctx context.Context) error {
	ctrl, err := app.Controller()
	if err != nil {
		return err
	}
	return ctrl.Decline(ctx)
}

func (app *Application) AddParticipant(ctx context.Context, peer string) error {
	ctrl, err := app.Controller()
	if err != nil {
		return err
	}
	return ctrl.AddParticipant(ctx, peer)
}

func (app *Application) EndCall(ctx context.Context) error {
	ctrl, err := app.Controller()
	if err != nil {
		return err
	}
	return ctrl.End(ctx)
}

func (app *Application) Call(ctx context.Context) (call.Snapshot, error) {
	ctrl, err := app.Controller()
	if err != nil {
		return call.Snapshot{}, err
	}
	return ctrl.Snapshot(ctx)
}

func (app *Application) ToggleMute() (device.Result, error) {
	d, err := app.Device()
	if err != nil {
		return device.Result{}, err
	}
	return d.ToggleMute(), nil
}

func (app *Application) ToggleCamera() (device.Result, error) {
	d, err := app.Device()
	if err != nil {
		return device.Result{}, err
	}
	return d.ToggleCamera(), nil
}
