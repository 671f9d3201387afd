// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package media

import (
	"log/slog"
	"math"
	"time"

	"github.com/hraban/opus"
	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	sampleRate = 48000
	channels   = 1
)

// rmsLevel returns the RMS of samples scaled to [0, 1].
func rmsLevel(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Min(1, math.Sqrt(sum/float64(len(samples))))
}

// meterAudio decodes an opus track and reports the loudest level seen in
// each interval until the track ends.
func meterAudio(logger *slog.Logger, identity string, track *webrtc.TrackRemote, emit func(Event)) {
	logger = logger.With("participant", identity)
	logger.Debug("audio meter started", "codec", track.Codec().MimeType)
	defer logger.Debug("audio meter stopped")

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		logger.Error("failed to create opus decoder", "error", err)
		return
	}

	pcmBuf := make([]int16, 5760) // 120ms at 48kHz
	rtpBuf := make([]byte, 4096)

	var peak float64
	last := time.Now()
	for {
		n, _, readErr := track.Read(rtpBuf)
		if readErr != nil {
			return
		}
		if n == 0 {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(rtpBuf[:n]); err != nil || len(packet.Payload) == 0 {
			continue
		}

		decoded, err := dec.Decode(packet.Payload, pcmBuf)
		if err != nil {
			logger.Debug("opus decode error", "error", err)
			continue
		}
		peak = math.Max(peak, rmsLevel(pcmBuf[:decoded]))

		if time.Since(last) >= constants.AudioLevelInterval {
			emit(Event{Type: EventAudioLevel, Identity: identity, Level: peak})
			peak = 0
			last = time.Now()
		}
	}
}
