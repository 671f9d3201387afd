// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nextcloud/go_call_client/internal/callapi"
	"github.com/nextcloud/go_call_client/internal/constants"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

// AuthError reports a rejected login. No identity is established.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("login as %q failed: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Authenticator is the part of the call control client used for login.
type Authenticator interface {
	Login(ctx context.Context, req callapi.LoginRequest) (*callapi.LoginResponse, error)
	SetToken(token string)
	Logout(username string)
}

// Session is an established login: the identity plus the credentials the
// signaling provider needs.
type Session struct {
	Identity     string
	Token        string
	Conversation string
}

// Context tracks the local identity for the lifetime of one login.
type Context struct {
	auth        Authenticator
	deviceToken string

	mu      sync.RWMutex
	session *Session

	logger *slog.Logger
}

func NewContext(auth Authenticator, deviceToken string) *Context {
	return &Context{
		auth:        auth,
		deviceToken: deviceToken,
		logger:      slog.With("component", "identity"),
	}
}

func ValidateUsername(username string) (string, error) {
	u := strings.TrimSpace(username)
	if len(u) < constants.MinUsernameLength {
		return "", fmt.Errorf("%w: must be at least %d characters", ErrInvalidUsername, constants.MinUsernameLength)
	}
	if strings.ContainsAny(u, " \t\r\n/") {
		return "", fmt.Errorf("%w: must not contain whitespace or '/'", ErrInvalidUsername)
	}
	return u, nil
}

// Login authenticates username with call control and establishes the
// session. On failure the context is left unchanged.
func (c *Context) Login(ctx context.Context, username string) (*Session, error) {
	u, err := ValidateUsername(username)
	if err != nil {
		return nil, &AuthError{Username: username, Err: err}
	}

	c.mu.RLock()
	active := c.session
	c.mu.RUnlock()
	if active != nil {
		return nil, fmt.Errorf("%w as %q", ErrAlreadyLoggedIn, active.Identity)
	}

	resp, err := c.auth.Login(ctx, callapi.LoginRequest{Username: u, DeviceToken: c.deviceToken})
	if err != nil {
		c.logger.Warn("login rejected", "username", u, "error", err)
		return nil, &AuthError{Username: u, Err: err}
	}

	s := &Session{Identity: u, Token: resp.Token, Conversation: resp.ConversationID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil, fmt.Errorf("%w as %q", ErrAlreadyLoggedIn, c.session.Identity)
	}
	c.session = s
	c.auth.SetToken(resp.Token)

	c.logger.Info("logged in", "identity", u, "conversation", resp.ConversationID)
	cp := *s
	return &cp, nil
}

// Current returns the active session or nil.
func (c *Context) Current() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

// Logout clears the session and notifies call control without waiting.
// It reports whether a session was active.
func (c *Context) Logout() bool {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return false
	}

	c.auth.Logout(s.Identity)
	c.auth.SetToken("")
	c.logger.Info("logged out", "identity", s.Identity)
	return true
}
