// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package signaling

type ConnectResult int

const (
	ConnectSuccess ConnectResult = 0
	ConnectFailure ConnectResult = 1 // do not retry
	ConnectRetry   ConnectResult = 2
)

// Frame is one websocket message exchanged with the pub/sub provider.
type Frame struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`

	Hello     *HelloFrame     `json:"hello,omitempty"`
	Subscribe *SubscribeFrame `json:"subscribe,omitempty"`
	Message   *MessageFrame   `json:"message,omitempty"`
	Publish   *PublishFrame   `json:"publish,omitempty"`
	State     *StateFrame     `json:"state,omitempty"`
	Error     *ErrorFrame     `json:"error,omitempty"`
	Bye       *ByeFrame       `json:"bye,omitempty"`
}

type HelloFrame struct {
	Version  string `json:"version,omitempty"`
	Identity string `json:"identity"`
	Token    string `json:"token"`
	ClientID string `json:"client_id,omitempty"`
}

type SubscribeFrame struct {
	Conversation string `json:"conversation"`
}

// MessageFrame carries one conversation message; Body holds the signal
// envelope as a JSON string.
type MessageFrame struct {
	Conversation string `json:"conversation"`
	Author       string `json:"author,omitempty"`
	Body         string `json:"body"`
	Index        int64  `json:"index,omitempty"`
}

// PublishFrame asks the provider to deliver Body on the control
// conversation of identity To.
type PublishFrame struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type StateFrame struct {
	Connection string `json:"connection"`
}

type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type ByeFrame struct{}
