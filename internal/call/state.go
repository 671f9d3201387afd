// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package call

import (
	"fmt"
	"time"
)

type State int

const (
	Idle State = iota
	Dialing
	Ringing
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dialing:
		return "dialing"
	case Ringing:
		return "ringing"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Outcome string

const (
	OutcomePending    Outcome = ""
	OutcomeAccepted   Outcome = "accepted"
	OutcomeDeclined   Outcome = "declined"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeMissed     Outcome = "missed"
)

// Invite is an incoming call offer. It resolves exactly once.
type Invite struct {
	Caller     string    `json:"caller"`
	Room       string    `json:"room"`
	CallType   string    `json:"call_type"`
	ReceivedAt time.Time `json:"received_at"`
	Outcome    Outcome   `json:"outcome,omitempty"`
}

func (i *Invite) Resolved() bool {
	return i.Outcome != OutcomePending
}

// resolve records o unless the invite already has an outcome.
func (i *Invite) resolve(o Outcome) bool {
	if i.Resolved() {
		return false
	}
	i.Outcome = o
	return true
}

// Snapshot is a consistent view of the controller taken inside its loop.
type Snapshot struct {
	Identity     string   `json:"identity"`
	State        State    `json:"state"`
	Room         string   `json:"room,omitempty"`
	Peer         string   `json:"peer,omitempty"`
	Invite       *Invite  `json:"invite,omitempty"`
	Participants []string `json:"participants"`
}
