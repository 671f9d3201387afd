// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"errors"
	"fmt"
)

var (
	ErrBusy           = errors.New("another call is in progress")
	ErrNoInvite       = errors.New("no pending invite")
	ErrInviteResolved = errors.New("invite already resolved")
	ErrNotConnected   = errors.New("no active call")
	ErrSuperseded     = errors.New("call attempt superseded")
	ErrInvalidPeer    = errors.New("invalid peer identity")
	ErrMediaLost      = errors.New("media session disconnected")
	ErrStopped        = errors.New("call controller stopped")
)

// CallControlError wraps a failed call control request. The transition
// that issued it has been rolled back.
type CallControlError struct {
	Op  string
	Err error
}

func (e *CallControlError) Error() string {
	return fmt.Sprintf("call control %s: %v", e.Op, e.Err)
}

func (e *CallControlError) Unwrap() error { return e.Err }

// MediaJoinError reports a media provider join failure after call control
// granted the room. The backend room may be left behind.
type MediaJoinError struct {
	Room string
	Err  error
}

func (e *MediaJoinError) Error() string {
	return fmt.Sprintf("joining media room %q: %v", e.Room, e.Err)
}

func (e *MediaJoinError) Unwrap() error { return e.Err }
