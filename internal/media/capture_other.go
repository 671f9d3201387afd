// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !linux

package media

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

var ErrNoDevices = errors.New("device capture is only supported on linux")

type DeviceCapturer struct{}

func NewDeviceCapturer(video bool) (*DeviceCapturer, error) {
	return nil, ErrNoDevices
}

func (d *DeviceCapturer) Populate(me *webrtc.MediaEngine) error {
	return ErrNoDevices
}

func (d *DeviceCapturer) Capture(ctx context.Context, identity string) ([]*LocalTrack, error) {
	return nil, ErrNoDevices
}
