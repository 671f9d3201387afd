// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"errors"
)

var (
	ErrRoomClosed = errors.New("media room closed")
	ErrJoinDenied = errors.New("media provider denied join")
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventTrackSubscribed   EventType = "track_subscribed"
	EventAudioLevel        EventType = "audio_level"
	EventDisconnected      EventType = "disconnected"
)

// Event is one roster or transport change reported by the provider.
type Event struct {
	Type     EventType
	Identity string
	Kind     TrackKind
	Level    float64
	Err      error
}

type ConnectOptions struct {
	Identity string
	Tracks   []*LocalTrack
}

// Conn is a joined provider session. Events are delivered in provider
// order; EventDisconnected is the last one.
type Conn interface {
	Participants() []string
	Events() <-chan Event
	Close() error
}

type Provider interface {
	Connect(ctx context.Context, room, token string, opts ConnectOptions) (Conn, error)
}
