// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	TypeIncomingCall      = "incoming_call"
	TypeCallDeclined      = "call_declined"
	TypeOnlineUsersUpdate = "online_users_update"
)

var ErrUnknownType = errors.New("unknown signal type")

// ParseError reports a malformed inbound envelope. The signal is dropped.
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("parsing signal: %v", e.Err)
	}
	return fmt.Sprintf("parsing %q signal: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Signal is a parsed control-plane message. It is implemented by
// IncomingCall, CallDeclined and PresenceSnapshot only.
type Signal interface {
	signalType() string
}

type IncomingCall struct {
	Caller   string
	Room     string
	CallType string
}

type CallDeclined struct {
	DeclinedBy string
}

type PresenceSnapshot struct {
	Identities []string
}

func (IncomingCall) signalType() string     { return TypeIncomingCall }
func (CallDeclined) signalType() string     { return TypeCallDeclined }
func (PresenceSnapshot) signalType() string { return TypeOnlineUsersUpdate }

// Type returns the wire discriminator of s.
func Type(s Signal) string { return s.signalType() }

// Envelope is the JSON body carried on a control conversation.
type Envelope struct {
	Type       string   `json:"type"`
	Caller     string   `json:"caller,omitempty"`
	Room       string   `json:"room,omitempty"`
	CallType   string   `json:"call_type,omitempty"`
	DeclinedBy string   `json:"declined_by,omitempty"`
	Users      []string `json:"users,omitempty"`
}

func DeclinedEnvelope(declinedBy string) Envelope {
	return Envelope{Type: TypeCallDeclined, DeclinedBy: declinedBy}
}

func IncomingCallEnvelope(caller, room, callType string) Envelope {
	return Envelope{Type: TypeIncomingCall, Caller: caller, Room: room, CallType: callType}
}

// Parse decodes a message body into a Signal. Unknown types yield a
// ParseError wrapping ErrUnknownType.
func Parse(body []byte) (Signal, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, &ParseError{Err: err}
	}

	switch head.Type {
	case TypeIncomingCall:
		var m struct {
			Caller   string `json:"caller"`
			Room     string `json:"room"`
			CallType string `json:"call_type"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, &ParseError{Type: head.Type, Err: err}
		}
		if m.Caller == "" || m.Room == "" {
			return nil, &ParseError{Type: head.Type, Err: errors.New("caller and room are required")}
		}
		if m.CallType == "" {
			m.CallType = "video"
		}
		return IncomingCall{Caller: m.Caller, Room: m.Room, CallType: m.CallType}, nil

	case TypeCallDeclined:
		var m struct {
			DeclinedBy string `json:"declined_by"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, &ParseError{Type: head.Type, Err: err}
		}
		if m.DeclinedBy == "" {
			return nil, &ParseError{Type: head.Type, Err: errors.New("declined_by is required")}
		}
		return CallDeclined{DeclinedBy: m.DeclinedBy}, nil

	case TypeOnlineUsersUpdate:
		var m struct {
			Users *[]string `json:"users"`
		}
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, &ParseError{Type: head.Type, Err: err}
		}
		if m.Users == nil {
			return nil, &ParseError{Type: head.Type, Err: errors.New("users is required")}
		}
		return PresenceSnapshot{Identities: *m.Users}, nil

	default:
		return nil, &ParseError{Type: head.Type, Err: ErrUnknownType}
	}
}
