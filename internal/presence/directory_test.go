// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"reflect"
	"testing"
)

func TestApplySnapshot(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []Entry
	}{
		{
			name:  "self filtered",
			input: []string{"alice", "bob"},
			want:  []Entry{{Identity: "bob", Status: StatusOnline}},
		},
		{
			name:  "duplicates and order",
			input: []string{"dave", "bob", "dave", "carol"},
			want: []Entry{
				{Identity: "bob", Status: StatusOnline},
				{Identity: "carol", Status: StatusOnline},
				{Identity: "dave", Status: StatusOnline},
			},
		},
		{
			name:  "empty snapshot",
			input: []string{},
			want:  []Entry{},
		},
		{
			name:  "only self",
			input: []string{"alice"},
			want:  []Entry{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDirectory("alice")
			d.ApplySnapshot([]string{"zed"})
			d.ApplySnapshot(tt.input)
			if got := d.List(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplySnapshotIsIdempotent(t *testing.T) {
	d := NewDirectory("alice")
	d.ApplySnapshot([]string{"carol", "bob"})
	first := d.List()
	d.ApplySnapshot([]string{"carol", "bob"})
	if !reflect.DeepEqual(first, d.List()) {
		t.Fatalf("repeated snapshot changed directory: %v vs %v", first, d.List())
	}
	if d.Version() != 2 {
		t.Fatalf("expected version 2, got %d", d.Version())
	}
}

func TestSeedKeepsStatus(t *testing.T) {
	d := NewDirectory("alice")
	d.Seed([]Entry{
		{Identity: "bob", Status: "busy"},
		{Identity: "alice", Status: "online"},
		{Identity: "carol"},
	})
	want := []Entry{{Identity: "bob", Status: "busy"}, {Identity: "carol", Status: StatusOnline}}
	if got := d.List(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !d.Contains("bob") || d.Contains("alice") {
		t.Fatal("unexpected membership")
	}
}

func TestListReturnsCopy(t *testing.T) {
	d := NewDirectory("alice")
	d.ApplySnapshot([]string{"bob"})
	l := d.List()
	l[0].Identity = "mallory"
	if d.List()[0].Identity != "bob" {
		t.Fatal("List exposed internal storage")
	}
}

func TestStaleSeedDiscarded(t *testing.T) {
	d := NewDirectory("alice")
	v := d.Version()

	d.ApplySnapshot([]string{"carol"})
	if d.SeedIfUnchanged([]Entry{{Identity: "bob"}}, v) {
		t.Fatal("seed applied over a newer snapshot")
	}
	if got := d.List(); len(got) != 1 || got[0].Identity != "carol" {
		t.Fatalf("snapshot overwritten: %v", got)
	}

	if !d.SeedIfUnchanged([]Entry{{Identity: "bob"}}, d.Version()) {
		t.Fatal("current seed rejected")
	}
	if !d.Contains("bob") || d.Contains("carol") {
		t.Fatalf("unexpected directory %v", d.List())
	}
}
