// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"log/slog"
	"sort"
	"sync"
)

const StatusOnline = "online"

type Entry struct {
	Identity string `json:"identity"`
	Status   string `json:"status"`
}

// Directory is the set of peers currently reachable by the local identity.
// Every update replaces the whole set and the local identity is never
// listed.
type Directory struct {
	self string

	mu      sync.RWMutex
	entries []Entry
	version uint64

	logger *slog.Logger
}

func NewDirectory(self string) *Directory {
	return &Directory{
		self:   self,
		logger: slog.With("component", "presence", "identity", self),
	}
}

// ApplySnapshot replaces the directory with identities, all marked online.
func (d *Directory) ApplySnapshot(identities []string) {
	entries := make([]Entry, 0, len(identities))
	for _, id := range identities {
		entries = append(entries, Entry{Identity: id, Status: StatusOnline})
	}
	d.replace(entries, nil)
}

// Seed replaces the directory with entries as reported by call control.
// Empty statuses default to online.
func (d *Directory) Seed(entries []Entry) {
	d.replace(entries, nil)
}

// SeedIfUnchanged is Seed guarded by a Version read before the entries were
// requested. A replacement since then wins and entries are dropped.
func (d *Directory) SeedIfUnchanged(entries []Entry, version uint64) bool {
	return d.replace(entries, &version)
}

func (d *Directory) replace(in []Entry, expect *uint64) bool {
	seen := make(map[string]struct{}, len(in))
	next := make([]Entry, 0, len(in))
	for _, e := range in {
		if e.Identity == "" || e.Identity == d.self {
			continue
		}
		if _, dup := seen[e.Identity]; dup {
			continue
		}
		seen[e.Identity] = struct{}{}
		if e.Status == "" {
			e.Status = StatusOnline
		}
		next = append(next, e)
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Identity < next[j].Identity })

	d.mu.Lock()
	if expect != nil && d.version != *expect {
		v := d.version
		d.mu.Unlock()
		d.logger.Debug("discarding stale presence", "expected", *expect, "version", v)
		return false
	}
	d.entries = next
	d.version++
	v := d.version
	d.mu.Unlock()

	d.logger.Debug("presence replaced", "peers", len(next), "version", v)
	return true
}

// List returns the peers sorted by identity.
func (d *Directory) List() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *Directory) Contains(identity string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if e.Identity == identity {
			return true
		}
	}
	return false
}

// Version increments on every replacement, including no-op ones.
func (d *Directory) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}
