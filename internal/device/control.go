// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package device

import (
	"log/slog"

	"github.com/nextcloud/go_call_client/internal/call"
	"github.com/nextcloud/go_call_client/internal/media"
)

// SessionSource yields the media session of the active call, or nil.
type SessionSource interface {
	ActiveMedia() call.MediaSession
}

// Result reports the outcome of a toggle. Changed is false when there was
// no session or no matching track.
type Result struct {
	Kind    media.TrackKind `json:"kind"`
	Changed bool            `json:"changed"`
	Enabled bool            `json:"enabled"`
}

type Control struct {
	src    SessionSource
	logger *slog.Logger
}

func NewControl(src SessionSource) *Control {
	return &Control{src: src, logger: slog.With("component", "device")}
}

// ToggleMute flips the local microphone track.
func (c *Control) ToggleMute() Result {
	return c.toggle(media.TrackAudio)
}

// ToggleCamera flips the local camera track.
func (c *Control) ToggleCamera() Result {
	return c.toggle(media.TrackVideo)
}

func (c *Control) toggle(kind media.TrackKind) Result {
	res := Result{Kind: kind}

	var sess call.MediaSession
	if c.src != nil {
		sess = c.src.ActiveMedia()
	}
	if sess == nil {
		c.logger.Debug("no active session, toggle ignored", "kind", kind)
		return res
	}
	track := sess.LocalTrack(kind)
	if track == nil {
		c.logger.Debug("no local track, toggle ignored", "kind", kind)
		return res
	}

	next := !track.Enabled()
	if err := track.SetEnabled(next); err != nil {
		c.logger.Warn("failed to toggle track", "kind", kind, "error", err)
		res.Enabled = track.Enabled()
		return res
	}
	c.logger.Info("local track toggled", "kind", kind, "enabled", next)
	res.Changed = true
	res.Enabled = next
	return res
}
