// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ParticipantBinding associates a remote identity with its subscribed
// tracks.
type ParticipantBinding struct {
	Identity   string      `json:"identity"`
	Tracks     []TrackKind `json:"tracks"`
	AudioLevel float64     `json:"audio_level"`
	JoinedAt   time.Time   `json:"joined_at"`
}

type BindingEventType string

const (
	BindingAdded   BindingEventType = "added"
	BindingRemoved BindingEventType = "removed"
	BindingUpdated BindingEventType = "updated"
	BindingLevel   BindingEventType = "level"
	BindingsClosed BindingEventType = "closed"
)

// BindingEvent describes one change of the binding set, in the order the
// provider reported it.
type BindingEvent struct {
	Type    BindingEventType   `json:"type"`
	Room    string             `json:"room"`
	Binding ParticipantBinding `json:"binding"`
	Reason  string             `json:"reason,omitempty"`
}

// Joiner acquires local tracks and joins rooms on a Provider.
type Joiner struct {
	Identity string
	Provider Provider
	Capturer Capturer
	Observer func(BindingEvent)
}

// Join captures local media and joins room. ctx bounds the join only.
// onDown is called at most once, after the binder released itself because
// the provider ended the session.
func (j *Joiner) Join(ctx context.Context, room, token string, onDown func(error)) (*Binder, error) {
	var tracks []*LocalTrack
	if j.Capturer != nil {
		var err error
		tracks, err = j.Capturer.Capture(ctx, j.Identity)
		if err != nil {
			slog.Warn("local capture failed, joining receive-only", "room", room, "error", err)
			tracks = nil
		}
	}

	conn, err := j.Provider.Connect(ctx, room, token, ConnectOptions{Identity: j.Identity, Tracks: tracks})
	if err != nil {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, fmt.Errorf("connecting to media provider: %w", err)
	}

	b := newBinder(room, j.Identity, conn, tracks, j.Observer, onDown)
	go b.run()
	return b, nil
}

// Binder owns the participant bindings of one joined room. Bindings change
// only in response to provider events.
type Binder struct {
	room     string
	self     string
	conn     Conn
	tracks   []*LocalTrack
	observer func(BindingEvent)
	onDown   func(error)

	mu       sync.RWMutex
	bindings map[string]*ParticipantBinding

	releaseOnce sync.Once
	done        chan struct{}

	logger *slog.Logger
}

func newBinder(room, self string, conn Conn, tracks []*LocalTrack, observer func(BindingEvent), onDown func(error)) *Binder {
	b := &Binder{
		room:     room,
		self:     self,
		conn:     conn,
		tracks:   tracks,
		observer: observer,
		onDown:   onDown,
		bindings: make(map[string]*ParticipantBinding),
		done:     make(chan struct{}),
		logger:   slog.With("component", "binder", "room", room),
	}
	now := time.Now()
	for _, id := range conn.Participants() {
		if id == "" || id == self {
			continue
		}
		b.bindings[id] = &ParticipantBinding{Identity: id, Tracks: []TrackKind{}, JoinedAt: now}
	}
	return b
}

func (b *Binder) Room() string { return b.room }

func (b *Binder) run() {
	b.logger.Debug("binder started", "participants", len(b.bindings))
	defer b.logger.Debug("binder stopped")

	for {
		select {
		case <-b.done:
			return
		case ev := <-b.conn.Events():
			if ev.Type == EventDisconnected {
				b.release(ev.Err)
				if b.onDown != nil {
					b.onDown(ev.Err)
				}
				return
			}
			b.apply(ev)
		}
	}
}

func (b *Binder) apply(ev Event) {
	if ev.Identity == "" || ev.Identity == b.self {
		return
	}

	b.mu.Lock()
	binding, known := b.bindings[ev.Identity]
	var out BindingEvent
	switch ev.Type {
	case EventParticipantJoined:
		if known {
			b.mu.Unlock()
			return
		}
		binding = &ParticipantBinding{Identity: ev.Identity, Tracks: []TrackKind{}, JoinedAt: time.Now()}
		b.bindings[ev.Identity] = binding
		out = BindingEvent{Type: BindingAdded}
	case EventParticipantLeft:
		if !known {
			b.mu.Unlock()
			return
		}
		delete(b.bindings, ev.Identity)
		out = BindingEvent{Type: BindingRemoved}
	case EventTrackSubscribed:
		// track events may overtake the join notice
		out = BindingEvent{Type: BindingUpdated}
		if !known {
			binding = &ParticipantBinding{Identity: ev.Identity, Tracks: []TrackKind{}, JoinedAt: time.Now()}
			b.bindings[ev.Identity] = binding
			out.Type = BindingAdded
		}
		if !hasKind(binding.Tracks, ev.Kind) {
			binding.Tracks = append(binding.Tracks, ev.Kind)
		}
	case EventAudioLevel:
		if !known {
			b.mu.Unlock()
			return
		}
		binding.AudioLevel = ev.Level
		out = BindingEvent{Type: BindingLevel}
	default:
		b.mu.Unlock()
		return
	}
	out.Room = b.room
	out.Binding = copyBinding(binding)
	b.mu.Unlock()

	if out.Type != BindingLevel {
		b.logger.Info("binding changed", "event", out.Type, "participant", ev.Identity)
	}
	b.notify(out)
}

func (b *Binder) notify(ev BindingEvent) {
	if b.observer != nil {
		b.observer(ev)
	}
}

// Release stops local tracks and leaves the room. It is safe to call any
// number of times from any goroutine.
func (b *Binder) Release() {
	b.release(nil)
}

func (b *Binder) release(cause error) {
	b.releaseOnce.Do(func() {
		close(b.done)
		for _, t := range b.tracks {
			t.Stop()
		}
		if err := b.conn.Close(); err != nil {
			b.logger.Debug("closing provider session", "error", err)
		}

		b.mu.Lock()
		b.bindings = make(map[string]*ParticipantBinding)
		b.mu.Unlock()

		reason := "released"
		if cause != nil {
			reason = cause.Error()
		}
		b.logger.Info("media released", "reason", reason)
		b.notify(BindingEvent{Type: BindingsClosed, Room: b.room, Reason: reason})
	})
}

// Participants returns the identities currently bound, sorted.
func (b *Binder) Participants() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.bindings))
	for id := range b.bindings {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Bindings returns a copy of the binding set sorted by identity.
func (b *Binder) Bindings() []ParticipantBinding {
	b.mu.RLock()
	out := make([]ParticipantBinding, 0, len(b.bindings))
	for _, pb := range b.bindings {
		out = append(out, copyBinding(pb))
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// LocalTrack returns the first local track of kind, or nil.
func (b *Binder) LocalTrack(kind TrackKind) *LocalTrack {
	for _, t := range b.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func copyBinding(pb *ParticipantBinding) ParticipantBinding {
	cp := *pb
	cp.Tracks = append([]TrackKind{}, pb.Tracks...)
	return cp
}

func hasKind(kinds []TrackKind, k TrackKind) bool {
	for _, have := range kinds {
		if have == k {
			return true
		}
	}
	return false
}
