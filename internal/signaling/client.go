// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package signaling

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nextcloud/go_call_client/internal/constants"
)

var (
	ErrChannelDown = errors.New("signaling channel is not connected")
	ErrBye         = errors.New("provider closed the session")

	errMalformedFrame = errors.New("malformed frame")
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Client owns the websocket connection to the pub/sub provider and the
// subscription to one control conversation.
type Client struct {
	mu sync.Mutex

	wsURL          string
	identity       string
	clientID       string
	skipCertVerify bool
	retryDelay     time.Duration

	token        string
	conversation string

	conn     *websocket.Conn
	dialing  *websocket.Conn
	msgID    atomic.Int64
	shutdown atomic.Bool

	statusMu  sync.Mutex
	status    Status
	observers []func(Status)

	signals chan Signal

	logger *slog.Logger
}

func NewClient(wsURL, identity string, skipCertVerify bool) *Client {
	return &Client{
		wsURL:          wsURL,
		identity:       identity,
		clientID:       uuid.NewString(),
		skipCertVerify: skipCertVerify,
		retryDelay:     constants.ReconnectDelay,
		status:         StatusDisconnected,
		signals:        make(chan Signal, constants.SignalQueueSize),
		logger:         slog.With("component", "signaling", "identity", identity),
	}
}

// Signals delivers parsed signals in provider delivery order. It is closed
// when Run returns.
func (c *Client) Signals() <-chan Signal {
	return c.signals
}

func (c *Client) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// OnStatus registers fn to be called on every status change. fn runs on
// the goroutine that observed the change and must not block.
func (c *Client) OnStatus(fn func(Status)) {
	c.statusMu.Lock()
	c.observers = append(c.observers, fn)
	c.statusMu.Unlock()
}

func (c *Client) setStatus(s Status) {
	c.statusMu.Lock()
	if c.status == s {
		c.statusMu.Unlock()
		return
	}
	c.status = s
	observers := make([]func(Status), len(c.observers))
	copy(observers, c.observers)
	c.statusMu.Unlock()

	c.logger.Info("signaling status changed", "status", s)
	for _, fn := range observers {
		fn(s)
	}
}

// Run connects, subscribes and pumps inbound signals until ctx is done or
// Shutdown is called, reconnecting when the connection drops.
func (c *Client) Run(ctx context.Context, token, conversation string) error {
	defer close(c.signals)
	stop := context.AfterFunc(ctx, c.dropConn)
	defer stop()

	failures := 0
	for {
		if ctx.Err() != nil || c.shutdown.Load() {
			return nil
		}

		result, err := c.connect(ctx, token, conversation)
		if ctx.Err() != nil || c.shutdown.Load() {
			c.dropConn()
			return nil
		}
		switch result {
		case ConnectSuccess:
			failures = 0
			c.setStatus(StatusConnected)
			if c.shutdown.Load() {
				// Shutdown raced the status update
				c.setStatus(StatusDisconnected)
				return nil
			}
			err = c.monitor(ctx)
			if ctx.Err() != nil || c.shutdown.Load() {
				return nil
			}
			c.logger.Warn("signaling connection lost, reconnecting", "error", err)
			c.dropConn()
			c.setStatus(StatusDisconnected)
		case ConnectFailure:
			c.dropConn()
			c.setStatus(StatusError)
			return err
		case ConnectRetry:
			c.dropConn()
			failures++
			if failures >= constants.MaxConnectTries {
				c.setStatus(StatusError)
				return fmt.Errorf("failed to connect after %d attempts: %w", failures, err)
			}
			c.setStatus(StatusDisconnected)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryDelay):
		}
	}
}

// connect dials the provider, authenticates and subscribes to conversation.
// The handshake runs on a connection that only becomes c.conn once it is
// subscribed; until then Shutdown and dropConn close it through c.dialing.
func (c *Client) connect(ctx context.Context, token, conversation string) (ConnectResult, error) {
	c.mu.Lock()
	if c.shutdown.Load() {
		c.mu.Unlock()
		return ConnectFailure, ErrChannelDown
	}
	c.token = token
	c.conversation = conversation
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}
	parsedURL, _ := url.Parse(c.wsURL)
	if parsedURL != nil && parsedURL.Scheme == "wss" && c.skipCertVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.logger.Error("failed to connect to signaling provider", "error", err)
		return ConnectRetry, fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	if c.shutdown.Load() {
		c.mu.Unlock()
		conn.Close()
		return ConnectFailure, ErrChannelDown
	}
	c.dialing = conn
	c.mu.Unlock()

	if result, err := c.handshake(conn, token, conversation); result != ConnectSuccess {
		conn.Close()
		c.clearDialing(conn)
		return result, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialing != conn {
		// dropped or shut down while subscribing
		conn.Close()
		return ConnectFailure, ErrChannelDown
	}
	c.dialing = nil
	c.conn = conn

	c.logger.Info("subscribed to control conversation", "conversation", conversation)
	return ConnectSuccess, nil
}

func (c *Client) handshake(conn *websocket.Conn, token, conversation string) (ConnectResult, error) {
	if err := c.writeFrame(conn, Frame{
		Type: "hello",
		Hello: &HelloFrame{
			Version:  "1.0",
			Identity: c.identity,
			Token:    token,
			ClientID: c.clientID,
		},
	}); err != nil {
		return ConnectRetry, err
	}
	if result, err := c.await(conn, "welcome"); result != ConnectSuccess {
		return result, err
	}

	if err := c.writeFrame(conn, Frame{
		Type:      "subscribe",
		Subscribe: &SubscribeFrame{Conversation: conversation},
	}); err != nil {
		return ConnectRetry, err
	}
	return c.await(conn, "subscribed")
}

func (c *Client) clearDialing(conn *websocket.Conn) {
	c.mu.Lock()
	if c.dialing == conn {
		c.dialing = nil
	}
	c.mu.Unlock()
}

func (c *Client) await(conn *websocket.Conn, want string) (ConnectResult, error) {
	for i := 0; i < 10; i++ {
		f, err := c.receiveFrame(conn, constants.MsgReceiveTimeout)
		if err != nil {
			if c.shutdown.Load() {
				return ConnectFailure, ErrChannelDown
			}
			c.logger.Error("no frame during handshake", "want", want, "error", err)
			return ConnectRetry, err
		}

		switch f.Type {
		case want:
			return ConnectSuccess, nil
		case "error":
			code := ""
			if f.Error != nil {
				code = f.Error.Code
			}
			c.logger.Error("signaling error during connect", "code", code)
			if code == "unauthorized" || code == "invalid_token" || code == "forbidden" {
				return ConnectFailure, fmt.Errorf("signaling auth rejected: %s", code)
			}
			return ConnectRetry, fmt.Errorf("signaling error: %s", code)
		case "bye":
			return ConnectFailure, ErrBye
		}
	}
	return ConnectRetry, fmt.Errorf("did not receive %s", want)
}

func (c *Client) monitor(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrChannelDown
	}

	c.logger.Debug("signaling monitor started")
	defer c.logger.Debug("signaling monitor stopped")

	for {
		f, err := c.receiveFrame(conn, 0)
		if errors.Is(err, errMalformedFrame) {
			c.logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		if err != nil {
			return err
		}

		switch f.Type {
		case "message":
			c.handleMessage(ctx, f.Message)
		case "state":
			c.applyState(f.State)
		case "error":
			code := ""
			if f.Error != nil {
				code = f.Error.Code
			}
			c.logger.Error("signaling error", "code", code)
			if code == "processing_failed" {
				continue
			}
			return fmt.Errorf("signaling error: %s", code)
		case "bye":
			return ErrBye
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, m *MessageFrame) {
	if m == nil {
		return
	}
	if m.Conversation != c.conversation {
		c.logger.Debug("ignoring message for other conversation", "conversation", m.Conversation)
		return
	}

	sig, err := Parse([]byte(m.Body))
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			c.logger.Info("ignoring unknown signal", "error", err, "author", m.Author)
		} else {
			c.logger.Warn("dropping malformed signal", "error", err, "author", m.Author, "body", m.Body)
		}
		return
	}

	c.logger.Debug("received signal", "type", Type(sig), "author", m.Author, "index", m.Index)
	select {
	case c.signals <- sig:
	case <-ctx.Done():
	}
}

func (c *Client) applyState(s *StateFrame) {
	if s == nil {
		return
	}
	switch s.Connection {
	case "connected":
		c.setStatus(StatusConnected)
	case "connecting", "disconnecting", "disconnected":
		c.setStatus(StatusDisconnected)
	case "error", "denied":
		c.setStatus(StatusError)
	}
}

// Publish delivers env on the control conversation of identity to.
func (c *Client) Publish(ctx context.Context, to string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.Status() != StatusConnected {
		return ErrChannelDown
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.writeFrame(c.conn, Frame{
		Type:    "publish",
		Publish: &PublishFrame{To: to, Body: string(body)},
	})
}

// Shutdown releases the subscription and closes the connection. The
// client cannot be reused afterwards.
func (c *Client) Shutdown() {
	if c.shutdown.Swap(true) {
		return
	}

	c.mu.Lock()
	if c.dialing != nil {
		c.dialing.Close()
		c.dialing = nil
	}
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.writeFrame(c.conn, Frame{Type: "bye", Bye: &ByeFrame{}})
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.setStatus(StatusDisconnected)
	c.logger.Info("signaling client shut down")
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialing != nil {
		c.dialing.Close()
		c.dialing = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// writeFrame stamps f with the next message id and writes it to conn. Writes
// to an established conn are serialized by c.mu.
func (c *Client) writeFrame(conn *websocket.Conn, f Frame) error {
	if conn == nil {
		return ErrChannelDown
	}
	f.ID = strconv.FormatInt(c.msgID.Add(1), 10)

	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error("failed to marshal frame", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error("failed to send frame", "type", f.Type, "error", err)
		return err
	}
	return nil
}

func (c *Client) receiveFrame(conn *websocket.Conn, timeout time.Duration) (*Frame, error) {
	if conn == nil {
		return nil, ErrChannelDown
	}
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}
	return &f, nil
}
