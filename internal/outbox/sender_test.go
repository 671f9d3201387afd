// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextcloud/go_call_client/internal/signaling"
)

type recordingPublisher struct {
	mu    sync.Mutex
	sent  []string
	block chan struct{}
	fail  map[string]error
	got   chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{got: make(chan struct{}, 16), fail: map[string]error{}}
}

func (p *recordingPublisher) Publish(ctx context.Context, to string, env signaling.Envelope) error {
	if p.block != nil && to == "slow" {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.sent = append(p.sent, to+":"+env.DeclinedBy)
	p.mu.Unlock()
	p.got <- struct{}{}
	return p.fail[to]
}

func (p *recordingPublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func waitSends(t *testing.T, p *recordingPublisher, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d sends arrived", i, n)
		}
	}
}

func TestSendsInOrder(t *testing.T) {
	pub := newRecordingPublisher()
	pub.fail["bob"] = errors.New("channel down")
	s := NewSender(pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for _, to := range []string{"bob", "carol", "dave"} {
		if err := s.Send(to, signaling.DeclinedEnvelope("alice")); err != nil {
			t.Fatal(err)
		}
	}
	waitSends(t, pub, 3)

	got := pub.snapshot()
	want := []string{"bob:alice", "carol:alice", "dave:alice"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSendNeverBlocks(t *testing.T) {
	s := NewSender(newRecordingPublisher())

	var err error
	for i := 0; i < cap(s.ch)+1; i++ {
		err = s.Send("bob", signaling.DeclinedEnvelope("alice"))
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull once the queue is full, got %v", err)
	}
}

func TestSlowPublishTimesOut(t *testing.T) {
	pub := newRecordingPublisher()
	pub.block = make(chan struct{})
	s := NewSender(pub)
	s.minTimeout = 20 * time.Millisecond
	s.maxTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Send("slow", signaling.DeclinedEnvelope("alice"))
	s.Send("bob", signaling.DeclinedEnvelope("alice"))
	waitSends(t, pub, 1)

	if got := pub.snapshot(); len(got) != 1 || got[0] != "bob:alice" {
		t.Fatalf("expected only the second send to land, got %v", got)
	}
}
