// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package device

import (
	"testing"

	"github.com/nextcloud/go_call_client/internal/call"
	"github.com/nextcloud/go_call_client/internal/media"
)

type fakeSession struct {
	tracks map[media.TrackKind]*media.LocalTrack
}

func (f *fakeSession) Participants() []string { return nil }
func (f *fakeSession) Release()               {}

func (f *fakeSession) LocalTrack(kind media.TrackKind) *media.LocalTrack {
	return f.tracks[kind]
}

type fakeSource struct{ sess call.MediaSession }

func (f fakeSource) ActiveMedia() call.MediaSession { return f.sess }

func TestToggleWithoutSessionIsNoop(t *testing.T) {
	c := NewControl(fakeSource{})

	if res := c.ToggleMute(); res.Changed {
		t.Fatalf("mute without session changed state: %+v", res)
	}
	if res := c.ToggleCamera(); res.Changed {
		t.Fatalf("camera without session changed state: %+v", res)
	}
	if res := NewControl(nil).ToggleMute(); res.Changed {
		t.Fatalf("nil source changed state: %+v", res)
	}
}

func TestToggleMute(t *testing.T) {
	audio := media.NewLocalTrack(media.TrackAudio, nil, nil)
	c := NewControl(fakeSource{sess: &fakeSession{tracks: map[media.TrackKind]*media.LocalTrack{
		media.TrackAudio: audio,
	}}})

	if res := c.ToggleMute(); !res.Changed || res.Enabled {
		t.Fatalf("expected muted, got %+v", res)
	}
	if audio.Enabled() {
		t.Fatal("audio track still enabled")
	}
	if res := c.ToggleMute(); !res.Changed || !res.Enabled {
		t.Fatalf("expected unmuted, got %+v", res)
	}

	// audio-only session has no camera
	if res := c.ToggleCamera(); res.Changed {
		t.Fatalf("camera toggle without video track changed state: %+v", res)
	}
}
