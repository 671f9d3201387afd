// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	mdopus "github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

var ErrNoDevices = errors.New("no capture device could be opened")

// DeviceCapturer captures the local camera and microphone. When both can
// not be opened together it falls back to video only, then audio only.
type DeviceCapturer struct {
	video    bool
	selector *mediadevices.CodecSelector
}

func NewDeviceCapturer(video bool) (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := mdopus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceCapturer{
		video: video,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *DeviceCapturer) Populate(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

func (d *DeviceCapturer) Capture(ctx context.Context, identity string) ([]*LocalTrack, error) {
	logger := slog.With("component", "capture", "identity", identity)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	for _, dev := range devices {
		logger.Debug("media device", "kind", dev.Kind, "label", dev.Label)
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}
	if !d.video {
		attempts = attempts[2:]
	}

	for _, a := range attempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// raw formats only, MJPEG nodes poison the VP8 encoder
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warn("capture attempt failed", "attempt", a.label, "error", err)
			continue
		}

		var tracks []*LocalTrack
		for _, t := range stream.GetTracks() {
			t.OnEnded(func(err error) {
				if err != nil {
					logger.Warn("local track ended", "kind", t.Kind().String(), "error", err)
				}
			})
			kind := TrackAudio
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				kind = TrackVideo
			}
			track := t
			tracks = append(tracks, NewLocalTrack(kind, track, func() { track.Close() }))
		}

		logger.Info("local media captured", "attempt", a.label, "tracks", len(tracks))
		return tracks, nil
	}

	return nil, ErrNoDevices
}
