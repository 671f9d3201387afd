// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is a captured audio or video track published into the room.
// Disabling detaches it from its RTP sender without stopping capture.
type LocalTrack struct {
	kind  TrackKind
	track webrtc.TrackLocal

	mu      sync.Mutex
	sender  *webrtc.RTPSender
	enabled bool

	stopOnce sync.Once
	stop     func()
}

func NewLocalTrack(kind TrackKind, track webrtc.TrackLocal, stop func()) *LocalTrack {
	return &LocalTrack{kind: kind, track: track, enabled: true, stop: stop}
}

func (t *LocalTrack) Kind() TrackKind { return t.kind }

func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) bind(sender *webrtc.RTPSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

func (t *LocalTrack) SetEnabled(on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled == on {
		return nil
	}
	if t.sender != nil {
		var next webrtc.TrackLocal
		if on {
			next = t.track
		}
		if err := t.sender.ReplaceTrack(next); err != nil {
			return fmt.Errorf("replacing %s track: %w", t.kind, err)
		}
	}
	t.enabled = on
	return nil
}

// Stop ends capture. Safe to call more than once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		if t.stop != nil {
			t.stop()
		}
	})
}
