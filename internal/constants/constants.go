// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package constants

import "time"

const (
	MsgReceiveTimeout      = 10 * time.Second
	MaxConnectTries        = 5
	ReconnectDelay         = 2 * time.Second
	HTTPTimeout            = 30 * time.Second
	CallControlTimeout     = 30 * time.Second
	MediaJoinTimeout       = 30 * time.Second
	LogoutTimeout          = 5 * time.Second
	DefaultRingTimeout     = 45 * time.Second
	SendTimeout            = 10 * time.Second
	TimeoutIncreaseFactor  = 1.5
	MaxSignalSendTimeout   = 30 * time.Second
	AudioLevelInterval     = 250 * time.Millisecond
	ServerShutdownTimeout  = 30 * time.Second
	SignalQueueSize        = 64
	OutboxQueueSize        = 100
	NotificationBufferSize = 32
	MinUsernameLength      = 2
)
