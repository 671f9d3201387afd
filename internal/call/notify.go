// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nextcloud/go_call_client/internal/constants"
)

type Kind string

const (
	KindIncomingCall    Kind = "incoming_call"
	KindCallDeclined    Kind = "call_declined"
	KindBusyRejected    Kind = "busy_rejected"
	KindMissedCall      Kind = "missed_call"
	KindCallConnected   Kind = "call_connected"
	KindCallEnded       Kind = "call_ended"
	KindRosterChanged   Kind = "roster_changed"
	KindPresenceChanged Kind = "presence_changed"
	KindSignalingStatus Kind = "signaling_status"
	KindError           Kind = "error"
)

// Notification is a user-visible event.
type Notification struct {
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Peer    string    `json:"peer,omitempty"`
	Room    string    `json:"room,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Notifier fans notifications out to subscribers. A subscriber that does
// not keep up loses notifications instead of stalling the publisher.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
	logger *slog.Logger
}

func NewNotifier() *Notifier {
	return &Notifier{
		subs:   make(map[int]chan Notification),
		logger: slog.With("component", "notifier"),
	}
}

// Subscribe returns a channel of notifications and a function that
// unsubscribes and closes it.
func (n *Notifier) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, constants.NotificationBufferSize)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *Notifier) Publish(note Notification) {
	if note.At.IsZero() {
		note.At = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- note:
		default:
			n.logger.Warn("subscriber too slow, dropping notification", "subscriber", id, "kind", note.Kind)
		}
	}
}
