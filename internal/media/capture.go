// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Capturer acquires local tracks and registers the codecs they are
// encoded with.
type Capturer interface {
	Capture(ctx context.Context, identity string) ([]*LocalTrack, error)
	Populate(me *webrtc.MediaEngine) error
}

const frameDuration = 20 * time.Millisecond

// StaticCapturer publishes an opus track carrying encoded silence and, for
// video calls, a VP8 track. It needs no capture hardware.
type StaticCapturer struct {
	Video bool
}

func (s *StaticCapturer) Populate(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (s *StaticCapturer) Capture(ctx context.Context, identity string) ([]*LocalTrack, error) {
	logger := slog.With("component", "capture", "identity", identity)

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: sampleRate, Channels: 2},
		"audio", identity,
	)
	if err != nil {
		return nil, fmt.Errorf("creating audio track: %w", err)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}

	stop := make(chan struct{})
	go pumpSilence(logger, enc, audio, stop)
	tracks := []*LocalTrack{NewLocalTrack(TrackAudio, audio, func() { close(stop) })}

	if s.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", identity,
		)
		if err != nil {
			close(stop)
			return nil, fmt.Errorf("creating video track: %w", err)
		}
		tracks = append(tracks, NewLocalTrack(TrackVideo, video, nil))
	}

	logger.Info("static media captured", "tracks", len(tracks))
	return tracks, nil
}

func pumpSilence(logger *slog.Logger, enc *opus.Encoder, track *webrtc.TrackLocalStaticSample, stop <-chan struct{}) {
	pcm := make([]int16, sampleRate/1000*int(frameDuration/time.Millisecond))
	buf := make([]byte, 1000)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		n, err := enc.Encode(pcm, buf)
		if err != nil {
			logger.Error("opus encode failed", "error", err)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: frameDuration}); err != nil {
			logger.Debug("write sample failed", "error", err)
		}
	}
}
