// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/nextcloud/go_call_client/internal/signaling"
)

var ErrQueueFull = errors.New("outbound signal queue is full")

// Publisher delivers one envelope to the control conversation of to.
type Publisher interface {
	Publish(ctx context.Context, to string, env signaling.Envelope) error
}

type item struct {
	to  string
	env signaling.Envelope
}

// Sender delivers outbound envelopes in enqueue order without blocking the
// caller. Slow sends grow the per-send timeout, fast ones shrink it back.
type Sender struct {
	pub    Publisher
	ch     chan item
	logger *slog.Logger

	minTimeout time.Duration
	maxTimeout time.Duration
}

func NewSender(pub Publisher) *Sender {
	return &Sender{
		pub:        pub,
		ch:         make(chan item, constants.OutboxQueueSize),
		logger:     slog.With("component", "outbox"),
		minTimeout: constants.SendTimeout,
		maxTimeout: constants.MaxSignalSendTimeout,
	}
}

// Send queues env for delivery to identity to. It never blocks.
func (s *Sender) Send(to string, env signaling.Envelope) error {
	select {
	case s.ch <- item{to: to, env: env}:
		return nil
	default:
		s.logger.Warn("outbound queue full, dropping signal", "to", to, "type", env.Type)
		return ErrQueueFull
	}
}

func (s *Sender) Run(ctx context.Context) {
	s.logger.Debug("outbox sender started")
	defer s.logger.Debug("outbox sender stopped")

	timeout := s.minTimeout
	timeoutCount := 0

	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.ch:
			sendCtx, cancel := context.WithTimeout(ctx, timeout)
			done := make(chan error, 1)
			go func() {
				done <- s.pub.Publish(sendCtx, it.to, it.env)
			}()

			select {
			case err := <-done:
				cancel()
				if err != nil {
					s.logger.Error("failed to publish signal", "to", it.to, "type", it.env.Type, "error", err)
					continue
				}
				if timeoutCount > 0 {
					timeoutCount--
				}
				if timeoutCount == 0 && timeout > s.minTimeout {
					timeout = max(s.minTimeout, time.Duration(float64(timeout)/constants.TimeoutIncreaseFactor))
				}
			case <-sendCtx.Done():
				cancel()
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("timeout publishing signal",
					"to", it.to,
					"type", it.env.Type,
					"timeout", timeout,
				)
				if timeout <= s.maxTimeout {
					timeoutCount++
					if timeoutCount >= 5 {
						timeout = time.Duration(float64(timeout) * constants.TimeoutIncreaseFactor)
						timeoutCount = 0
					}
				}
			}
		}
	}
}
