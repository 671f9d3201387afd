// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nextcloud/go_call_client/internal/callapi"
	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/nextcloud/go_call_client/internal/media"
	"github.com/nextcloud/go_call_client/internal/signaling"
)

// CallControl is the subset of the call control service the controller
// drives.
type CallControl interface {
	StartCall(ctx context.Context, req callapi.StartCallRequest) (*callapi.Grant, error)
	JoinCall(ctx context.Context, req callapi.JoinCallRequest) (*callapi.Grant, error)
	AddParticipant(ctx context.Context, req callapi.AddParticipantRequest) error
	DeclineCall(ctx context.Context, req callapi.DeclineCallRequest) error
}

// Outbox queues an envelope for a peer's control conversation without
// blocking.
type Outbox interface {
	Send(to string, env signaling.Envelope) error
}

type PresenceSink interface {
	ApplySnapshot(identities []string)
}

// MediaSession is a joined media room. Release must be idempotent.
type MediaSession interface {
	Participants() []string
	LocalTrack(kind media.TrackKind) *media.LocalTrack
	Release()
}

// MediaJoiner joins a media room. ctx bounds the join only; the returned
// session lives until released. onDown is called at most once when the
// provider drops the session.
type MediaJoiner interface {
	Join(ctx context.Context, room, token string, onDown func(error)) (MediaSession, error)
}

type Config struct {
	Identity    string
	CallType    string
	RingTimeout time.Duration

	Control  CallControl
	Outbox   Outbox
	Media    MediaJoiner
	Presence PresenceSink
	Notifier *Notifier

	Now func() time.Time
}

// Controller owns the call state of one identity. All state lives on the
// Run goroutine; public methods post events and wait for the reply.
type Controller struct {
	cfg    Config
	events chan any
	done   chan struct{}
	runCtx context.Context

	// loop-owned
	state     State
	seq       uint64
	room      string
	peer      string
	invite    *Invite
	session   MediaSession
	pending   chan error
	mediaLost bool
	ringTimer *time.Timer

	activeMu sync.RWMutex
	active   MediaSession

	logger *slog.Logger
}

type (
	startEvent struct {
		callee string
		reply  chan error
	}
	acceptEvent  struct{ reply chan error }
	declineEvent struct{ reply chan error }
	addEvent     struct {
		identity string
		reply    chan error
	}
	endEvent      struct{ reply chan error }
	signalEvent   struct{ sig signaling.Signal }
	snapshotEvent struct{ reply chan Snapshot }

	grantResult struct {
		seq   uint64
		op    string
		grant *callapi.Grant
		err   error
	}
	joinResult struct {
		seq     uint64
		room    string
		session MediaSession
		err     error
	}
	mediaDown struct {
		seq uint64
		err error
	}
	ringExpired struct{ seq uint64 }
)

func NewController(cfg Config) *Controller {
	if cfg.CallType == "" {
		cfg.CallType = "video"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	return &Controller{
		cfg:    cfg,
		events: make(chan any, constants.SignalQueueSize),
		done:   make(chan struct{}),
		runCtx: context.Background(),
		logger: slog.With("component", "call", "identity", cfg.Identity),
	}
}

func (c *Controller) Notifier() *Notifier { return c.cfg.Notifier }

// Run dispatches events until ctx is done. On exit any held media is
// released and waiting callers fail with ErrStopped.
func (c *Controller) Run(ctx context.Context) {
	c.runCtx = ctx
	c.logger.Debug("call controller started")
	defer c.logger.Debug("call controller stopped")
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

// Done is closed once Run has returned and held media is released.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) post(ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) request(ctx context.Context, ev any, reply chan error) error {
	select {
	case c.events <- ev:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartCall dials callee and blocks until the call is connected or the
// attempt fails.
func (c *Controller) StartCall(ctx context.Context, callee string) error {
	reply := make(chan error, 1)
	return c.request(ctx, startEvent{callee: strings.TrimSpace(callee), reply: reply}, reply)
}

// Accept answers the pending invite and blocks until connected.
func (c *Controller) Accept(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, acceptEvent{reply: reply}, reply)
}

func (c *Controller) Decline(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, declineEvent{reply: reply}, reply)
}

// AddParticipant asks call control to invite identity into the current
// room. The roster changes only when the media provider reports the join.
func (c *Controller) AddParticipant(ctx context.Context, identity string) error {
	reply := make(chan error, 1)
	return c.request(ctx, addEvent{identity: strings.TrimSpace(identity), reply: reply}, reply)
}

func (c *Controller) End(ctx context.Context) error {
	reply := make(chan error, 1)
	return c.request(ctx, endEvent{reply: reply}, reply)
}

// HandleSignal queues sig behind earlier signals.
func (c *Controller) HandleSignal(sig signaling.Signal) {
	if !c.post(signalEvent{sig: sig}) {
		c.logger.Debug("controller stopped, dropping signal", "type", signaling.Type(sig))
	}
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case c.events <- snapshotEvent{reply: reply}:
	case <-c.done:
		return Snapshot{Identity: c.cfg.Identity, State: Idle, Participants: []string{}}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-c.done:
		return Snapshot{Identity: c.cfg.Identity, State: Idle, Participants: []string{}}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// ActiveMedia returns the media session of the connected call, or nil.
func (c *Controller) ActiveMedia() MediaSession {
	c.activeMu.RLock()
	defer c.activeMu.RUnlock()
	return c.active
}

func (c *Controller) dispatch(ev any) {
	switch e := ev.(type) {
	case startEvent:
		c.onStart(e)
	case acceptEvent:
		c.onAccept(e)
	case declineEvent:
		e.reply <- c.onDecline()
	case addEvent:
		c.onAdd(e)
	case endEvent:
		e.reply <- c.onEnd()
	case signalEvent:
		c.onSignal(e.sig)
	case snapshotEvent:
		e.reply <- c.snapshot()
	case grantResult:
		c.onGrant(e)
	case joinResult:
		c.onJoined(e)
	case mediaDown:
		c.onMediaDown(e)
	case ringExpired:
		c.onRingExpired(e)
	default:
		c.logger.Error("unknown controller event", "event", fmt.Sprintf("%T", ev))
	}
}

func (c *Controller) onStart(e startEvent) {
	if c.state != Idle {
		e.reply <- ErrBusy
		return
	}
	if e.callee == "" || e.callee == c.cfg.Identity {
		e.reply <- fmt.Errorf("%w: %q", ErrInvalidPeer, e.callee)
		return
	}

	c.seq++
	c.state = Dialing
	c.peer = e.callee
	c.room = fmt.Sprintf("%s-%s-%d", c.cfg.Identity, e.callee, c.cfg.Now().UnixMilli())
	c.pending = e.reply
	c.mediaLost = false
	c.logger.Info("dialing", "callee", e.callee, "room", c.room, "attempt", c.seq)

	seq, req := c.seq, callapi.StartCallRequest{
		Identity: c.cfg.Identity,
		RoomName: c.room,
		Callees:  []string{e.callee},
		CallType: c.cfg.CallType,
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.runCtx, constants.CallControlTimeout)
		defer cancel()
		grant, err := c.cfg.Control.StartCall(ctx, req)
		c.post(grantResult{seq: seq, op: "start-call", grant: grant, err: err})
	}()
}

func (c *Controller) onAccept(e acceptEvent) {
	if c.state != Ringing || c.invite == nil {
		e.reply <- ErrNoInvite
		return
	}
	// resolved before the request is issued so a racing decline is a no-op
	if !c.invite.resolve(OutcomeAccepted) {
		e.reply <- ErrInviteResolved
		return
	}
	c.stopRingTimer()
	c.pending = e.reply
	c.mediaLost = false
	c.logger.Info("accepting invite", "caller", c.invite.Caller, "room", c.invite.Room, "attempt", c.seq)

	seq, req := c.seq, callapi.JoinCallRequest{
		Identity: c.cfg.Identity,
		RoomName: c.invite.Room,
		CallType: c.invite.CallType,
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.runCtx, constants.CallControlTimeout)
		defer cancel()
		grant, err := c.cfg.Control.JoinCall(ctx, req)
		c.post(grantResult{seq: seq, op: "join-call", grant: grant, err: err})
	}()
}

func (c *Controller) onDecline() error {
	if c.state != Ringing || c.invite == nil {
		return ErrNoInvite
	}
	if !c.invite.resolve(OutcomeDeclined) {
		return ErrInviteResolved
	}
	inv := *c.invite
	c.logger.Info("declining invite", "caller", inv.Caller, "room", inv.Room)
	c.reset()
	c.rejectToward(inv.Caller, inv.Room)
	return nil
}

func (c *Controller) onAdd(e addEvent) {
	if c.state != Connected {
		e.reply <- ErrNotConnected
		return
	}
	if e.identity == "" || e.identity == c.cfg.Identity {
		e.reply <- fmt.Errorf("%w: %q", ErrInvalidPeer, e.identity)
		return
	}

	req := callapi.AddParticipantRequest{
		RoomName:       c.room,
		CallerIdentity: c.cfg.Identity,
		NewParticipant: e.identity,
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.runCtx, constants.CallControlTimeout)
		defer cancel()
		if err := c.cfg.Control.AddParticipant(ctx, req); err != nil {
			e.reply <- &CallControlError{Op: "add-participant", Err: err}
			return
		}
		e.reply <- nil
	}()
}

func (c *Controller) onEnd() error {
	switch c.state {
	case Connected:
		room := c.room
		c.logger.Info("ending call", "room", room)
		c.reset()
		c.cfg.Notifier.Publish(Notification{Kind: KindCallEnded, Room: room, Reason: "local"})
		return nil
	case Dialing:
		c.logger.Info("abandoning outgoing call", "callee", c.peer, "attempt", c.seq)
		c.reset()
		return nil
	case Ringing:
		if c.invite != nil && !c.invite.Resolved() {
			return c.onDecline()
		}
		c.logger.Info("abandoning accept in flight", "room", c.room, "attempt", c.seq)
		c.reset()
		return nil
	default:
		return ErrNotConnected
	}
}

func (c *Controller) onSignal(sig signaling.Signal) {
	switch s := sig.(type) {
	case signaling.IncomingCall:
		c.onIncoming(s)
	case signaling.CallDeclined:
		if c.state == Dialing || c.state == Connected {
			c.logger.Info("peer declined", "declined_by", s.DeclinedBy, "room", c.room)
			c.cfg.Notifier.Publish(Notification{Kind: KindCallDeclined, Peer: s.DeclinedBy, Room: c.room})
			return
		}
		c.logger.Debug("ignoring stale decline", "declined_by", s.DeclinedBy, "state", c.state)
	case signaling.PresenceSnapshot:
		if c.cfg.Presence != nil {
			c.cfg.Presence.ApplySnapshot(s.Identities)
		}
		c.cfg.Notifier.Publish(Notification{Kind: KindPresenceChanged, Data: s.Identities})
	}
}

func (c *Controller) onIncoming(s signaling.IncomingCall) {
	if s.Caller == c.cfg.Identity {
		c.logger.Debug("ignoring own invite echo", "room", s.Room)
		return
	}
	if c.state == Ringing && c.invite != nil && !c.invite.Resolved() &&
		c.invite.Caller == s.Caller && c.invite.Room == s.Room {
		c.logger.Debug("ignoring duplicate of pending invite", "caller", s.Caller, "room", s.Room)
		return
	}
	if c.state != Idle {
		c.logger.Info("busy, rejecting invite", "caller", s.Caller, "room", s.Room, "state", c.state)
		c.rejectToward(s.Caller, s.Room)
		c.cfg.Notifier.Publish(Notification{Kind: KindBusyRejected, Peer: s.Caller, Room: s.Room})
		return
	}

	c.seq++
	c.state = Ringing
	c.peer = s.Caller
	c.room = s.Room
	c.invite = &Invite{
		Caller:     s.Caller,
		Room:       s.Room,
		CallType:   s.CallType,
		ReceivedAt: c.cfg.Now(),
	}
	c.logger.Info("incoming call", "caller", s.Caller, "room", s.Room, "call_type", s.CallType, "attempt", c.seq)

	if c.cfg.RingTimeout > 0 {
		seq := c.seq
		c.ringTimer = time.AfterFunc(c.cfg.RingTimeout, func() {
			c.post(ringExpired{seq: seq})
		})
	}
	c.cfg.Notifier.Publish(Notification{
		Kind: KindIncomingCall,
		Peer: s.Caller,
		Room: s.Room,
		Data: map[string]string{"call_type": s.CallType},
	})
}

func (c *Controller) onGrant(r grantResult) {
	if r.seq != c.seq || (c.state != Dialing && c.state != Ringing) {
		c.logger.Debug("discarding stale call control result", "op", r.op, "attempt", r.seq, "current", c.seq)
		return
	}
	if r.err != nil {
		c.logger.Warn("call control request failed, rolling back", "op", r.op, "error", r.err)
		c.fail(&CallControlError{Op: r.op, Err: r.err})
		return
	}

	room := r.grant.RoomName
	c.room = room
	seq, token := r.seq, r.grant.Token
	go func() {
		ctx, cancel := context.WithTimeout(c.runCtx, constants.MediaJoinTimeout)
		defer cancel()
		sess, err := c.cfg.Media.Join(ctx, room, token, func(err error) {
			c.post(mediaDown{seq: seq, err: err})
		})
		if !c.post(joinResult{seq: seq, room: room, session: sess, err: err}) && sess != nil {
			sess.Release()
		}
	}()
}

func (c *Controller) onJoined(r joinResult) {
	if r.seq != c.seq || (c.state != Dialing && c.state != Ringing) {
		c.logger.Info("discarding stale media join", "room", r.room, "attempt", r.seq, "current", c.seq)
		if r.session != nil {
			r.session.Release()
		}
		return
	}
	if r.err == nil && c.mediaLost {
		r.session.Release()
		r.err = ErrMediaLost
	}
	if r.err != nil {
		c.logger.Warn("media join failed, rolling back", "room", r.room, "error", r.err)
		c.fail(&MediaJoinError{Room: r.room, Err: r.err})
		return
	}

	c.state = Connected
	c.session = r.session
	c.setActive(r.session)
	c.logger.Info("call connected", "room", r.room, "peer", c.peer)
	c.cfg.Notifier.Publish(Notification{Kind: KindCallConnected, Peer: c.peer, Room: r.room})
	c.answer(nil)
}

func (c *Controller) onMediaDown(e mediaDown) {
	if e.seq != c.seq {
		return
	}
	switch c.state {
	case Connected:
		room := c.room
		c.logger.Warn("media session lost", "room", room, "error", e.err)
		c.reset()
		reason := "disconnected"
		if e.err != nil {
			reason = e.err.Error()
		}
		c.cfg.Notifier.Publish(Notification{Kind: KindCallEnded, Room: room, Reason: reason})
	case Dialing, Ringing:
		// join result not seen yet
		c.mediaLost = true
	}
}

func (c *Controller) onRingExpired(e ringExpired) {
	if e.seq != c.seq || c.state != Ringing || c.invite == nil {
		return
	}
	if !c.invite.resolve(OutcomeMissed) {
		return
	}
	inv := *c.invite
	c.logger.Info("invite not answered in time", "caller", inv.Caller, "room", inv.Room)
	c.reset()
	c.rejectToward(inv.Caller, inv.Room)
	c.cfg.Notifier.Publish(Notification{Kind: KindMissedCall, Peer: inv.Caller, Room: inv.Room})
}

// rejectToward tells caller over signaling and call control that the local
// identity will not join room.
func (c *Controller) rejectToward(caller, room string) {
	if c.cfg.Outbox != nil {
		if err := c.cfg.Outbox.Send(caller, signaling.DeclinedEnvelope(c.cfg.Identity)); err != nil {
			c.logger.Warn("could not queue decline", "caller", caller, "error", err)
		}
	}
	req := callapi.DeclineCallRequest{RoomName: room, Username: c.cfg.Identity}
	go func() {
		ctx, cancel := context.WithTimeout(c.runCtx, constants.CallControlTimeout)
		defer cancel()
		if err := c.cfg.Control.DeclineCall(ctx, req); err != nil {
			c.logger.Debug("decline-call notification failed", "room", room, "error", err)
		}
	}()
}

// fail rolls the pending attempt back to Idle and answers the waiting
// caller with err.
func (c *Controller) fail(err error) {
	c.answer(err)
	c.reset()
	c.cfg.Notifier.Publish(Notification{Kind: KindError, Message: err.Error()})
}

func (c *Controller) answer(err error) {
	if c.pending != nil {
		c.pending <- err
		c.pending = nil
	}
}

// reset returns to Idle. A waiting caller is told its attempt was
// superseded and later results for the attempt are discarded.
func (c *Controller) reset() {
	if c.pending != nil {
		c.pending <- ErrSuperseded
		c.pending = nil
	}
	if c.invite != nil && !c.invite.Resolved() {
		c.invite.Outcome = OutcomeSuperseded
	}
	c.stopRingTimer()
	if c.session != nil {
		c.setActive(nil)
		c.session.Release()
		c.session = nil
	}
	c.seq++
	c.state = Idle
	c.room = ""
	c.peer = ""
	c.invite = nil
	c.mediaLost = false
}

func (c *Controller) teardown() {
	if c.state != Idle {
		c.logger.Info("controller stopping, abandoning call", "state", c.state, "room", c.room)
	}
	if c.pending != nil {
		c.pending <- ErrStopped
		c.pending = nil
	}
	c.reset()
}

func (c *Controller) stopRingTimer() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}

func (c *Controller) setActive(s MediaSession) {
	c.activeMu.Lock()
	c.active = s
	c.activeMu.Unlock()
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Identity:     c.cfg.Identity,
		State:        c.state,
		Room:         c.room,
		Peer:         c.peer,
		Participants: []string{},
	}
	if c.invite != nil {
		inv := *c.invite
		s.Invite = &inv
	}
	if c.session != nil {
		if p := c.session.Participants(); p != nil {
			s.Participants = p
		}
	}
	return s
}
