// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package signaling

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Signal
	}{
		{
			name: "incoming call",
			body: `{"type":"incoming_call","caller":"bob","room":"R1","call_type":"video"}`,
			want: IncomingCall{Caller: "bob", Room: "R1", CallType: "video"},
		},
		{
			name: "incoming call defaults to video",
			body: `{"type":"incoming_call","caller":"bob","room":"R1"}`,
			want: IncomingCall{Caller: "bob", Room: "R1", CallType: "video"},
		},
		{
			name: "call declined",
			body: `{"type":"call_declined","declined_by":"alice"}`,
			want: CallDeclined{DeclinedBy: "alice"},
		},
		{
			name: "presence snapshot",
			body: `{"type":"online_users_update","users":["alice","bob"]}`,
			want: PresenceSnapshot{Identities: []string{"alice", "bob"}},
		},
		{
			name: "empty presence snapshot",
			body: `{"type":"online_users_update","users":[]}`,
			want: PresenceSnapshot{Identities: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		unknown bool
	}{
		{name: "not json", body: `incoming_call bob`},
		{name: "wrong field type", body: `{"type":"online_users_update","users":"bob"}`},
		{name: "missing users", body: `{"type":"online_users_update"}`},
		{name: "missing room", body: `{"type":"incoming_call","caller":"bob"}`},
		{name: "missing declined_by", body: `{"type":"call_declined"}`},
		{name: "unknown type", body: `{"type":"typing","who":"bob"}`, unknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if got := errors.Is(err, ErrUnknownType); got != tt.unknown {
				t.Fatalf("errors.Is(ErrUnknownType) = %v, want %v", got, tt.unknown)
			}
		})
	}
}

func TestDeclinedEnvelopeWireFormat(t *testing.T) {
	data, err := json.Marshal(DeclinedEnvelope("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"call_declined","declined_by":"alice"}` {
		t.Fatalf("unexpected wire format %s", data)
	}

	sig, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if sig != (CallDeclined{DeclinedBy: "alice"}) {
		t.Fatalf("unexpected signal %#v", sig)
	}
}
